// Package transport defines the message-bus boundary (§6.3): an Envelope
// goes out to a peer's topic and comes back in on the local actor's own
// topic. The kernel never depends on a concrete transport; it depends on
// this interface.
package transport

import (
	"context"

	"github.com/R3E-Network/testbed-kernel/internal/wire"
)

// Bus is the narrow transport boundary. Send delivers one envelope to a
// peer topic; Subscribe registers a callback invoked for every envelope
// arriving on the local actor's own topic. Implementations need not
// guarantee ordering between topics (§6.3).
type Bus interface {
	Send(ctx context.Context, topic string, env wire.Envelope) error
	Subscribe(ctx context.Context, topic string, handler func(wire.Envelope)) error
	Close() error
}
