// Package wire defines the message envelope and the named message types
// exchanged over the message bus (§6.3, §4.7).
package wire

import (
	"encoding/json"

	"github.com/R3E-Network/testbed-kernel/internal/ids"
)

// MessageType enumerates the RPC vocabulary of §4.7.
type MessageType string

const (
	Ticket            MessageType = "Ticket"
	ExtendTicket      MessageType = "ExtendTicket"
	Relinquish        MessageType = "Relinquish"
	Redeem            MessageType = "Redeem"
	ExtendLease       MessageType = "ExtendLease"
	ModifyLease       MessageType = "ModifyLease"
	Close             MessageType = "Close"
	UpdateTicket      MessageType = "UpdateTicket"
	UpdateDelegation  MessageType = "UpdateDelegation"
	UpdateLease       MessageType = "UpdateLease"
	ClaimDelegation   MessageType = "ClaimDelegation"
	ReclaimDelegation MessageType = "ReclaimDelegation"
	Query             MessageType = "Query"
	QueryResult       MessageType = "QueryResult"
	FailedRPC         MessageType = "FailedRPC"
)

// Envelope is the common wire shape of every message (§6.3).
type Envelope struct {
	MessageID     ids.Identifier
	Name          MessageType
	Caller        ids.AuthToken
	ReservationID *ids.Identifier
	DelegationID  *ids.Identifier
	QueryProps    map[string]string
	UpdateData    map[string]string
	CallbackTopic string
	RequestID     *ids.Identifier
	KafkaError    string

	// From is the sending actor's name; duplicate filtering for inbound
	// messages is keyed on (MessageID, From) per §4.7.
	From string

	// Sequence carries the sender's per-reservation/delegation sequence
	// number (§3/§4.3) so the receiver can apply the
	// monotone-sequence rule without a second lookup.
	Sequence int64
}

// Clone returns a deep-enough copy safe to mutate independently; the
// copy keeps the original MessageID.
func (e Envelope) Clone() Envelope {
	out := e
	if e.ReservationID != nil {
		rid := *e.ReservationID
		out.ReservationID = &rid
	}
	if e.DelegationID != nil {
		did := *e.DelegationID
		out.DelegationID = &did
	}
	if e.RequestID != nil {
		reqID := *e.RequestID
		out.RequestID = &reqID
	}
	out.QueryProps = cloneMap(e.QueryProps)
	out.UpdateData = cloneMap(e.UpdateData)
	return out
}

// Fingerprint returns a stable encoding of the envelope's payload,
// MessageID excluded, so a repeated message_id can be checked for a
// differing payload (§4.7, §8). encoding/json sorts map keys, so the
// result is deterministic across calls.
func (e Envelope) Fingerprint() string {
	b, _ := json.Marshal(struct {
		Name          MessageType
		ReservationID *ids.Identifier
		DelegationID  *ids.Identifier
		QueryProps    map[string]string
		UpdateData    map[string]string
		RequestID     *ids.Identifier
		Sequence      int64
	}{e.Name, e.ReservationID, e.DelegationID, e.QueryProps, e.UpdateData, e.RequestID, e.Sequence})
	return string(b)
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
