// Package graph defines the narrow, opaque interface the kernel uses to
// touch the resource graph model (§6.4). The kernel never interprets graph
// contents beyond this interface; implementations may back it with a
// property-graph database (e.g. neo4j, per the `neo4j` config section) or
// an in-process graph library.
package graph

import "context"

// Provider is the resource-graph boundary. All methods operate on opaque
// byte blobs ("slivers") and string ids; the kernel treats return values
// as immutable aside from UpdateNodeSliver.
type Provider interface {
	// Load fetches a full graph by id and serializes it to its canonical
	// string form.
	Load(ctx context.Context, graphID string) (string, error)

	// ExtractNodeSliver pulls a single node's fragment out of a graph.
	ExtractNodeSliver(ctx context.Context, graphID, nodeID string) ([]byte, error)

	// UpdateNodeSliver writes a node fragment back in place. This is the
	// one mutating operation the kernel performs against the graph.
	UpdateNodeSliver(ctx context.Context, graphID, nodeID string, sliver []byte) error

	// GenerateADM produces a per-peer advertised-delegation model from an
	// aggregate-resource model (§6.4, glossary ARM/ADM).
	GenerateADM(ctx context.Context, armGraphID string, forPeer string) (string, error)

	// Diff compares two slivers and reports whether they differ; used by
	// the authority substrate plugin to decide modify vs no-op (§9 open
	// question on modify-vs-extend).
	Diff(ctx context.Context, a, b []byte) (changed bool, err error)
}
