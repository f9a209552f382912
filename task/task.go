package task

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opd-ai/courier/message"
)

// Kind is the closed set of outgoing task variants. Execution dispatches
// over this enum; adding a kind requires extending the executor switch.
type Kind uint8

const (
	KindText Kind = iota + 1
	KindLocation
	KindFile
	KindBallotSetup
	KindBallotVote
	KindDeliveryReceipt
	KindTyping
	KindVoipOffer
	KindVoipAnswer
	KindVoipRinging
	KindVoipICECandidates
	KindVoipHangup
	KindEdit
	KindDelete
)

// String returns the log representation of a task kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindLocation:
		return "location"
	case KindFile:
		return "file"
	case KindBallotSetup:
		return "ballot-setup"
	case KindBallotVote:
		return "ballot-vote"
	case KindDeliveryReceipt:
		return "delivery-receipt"
	case KindTyping:
		return "typing"
	case KindVoipOffer:
		return "voip-offer"
	case KindVoipAnswer:
		return "voip-answer"
	case KindVoipRinging:
		return "voip-ringing"
	case KindVoipICECandidates:
		return "voip-ice-candidates"
	case KindVoipHangup:
		return "voip-hangup"
	case KindEdit:
		return "edit"
	case KindDelete:
		return "delete"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Persisted reports whether this kind finalizes a stored message row.
// Typing indicators, voip signaling, receipts and edit/delete control
// messages carry no row of their own.
func (k Kind) Persisted() bool {
	switch k {
	case KindText, KindLocation, KindFile, KindBallotSetup, KindBallotVote:
		return true
	default:
		return false
	}
}

// Task is one queued unit of outgoing protocol work.
type Task struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`

	// ConversationID scopes local-state side effects.
	ConversationID string `json:"conversation_id"`

	// MessageRowID references the persisted message row, zero for
	// ephemeral kinds.
	MessageRowID int64 `json:"message_row_id"`

	// APIID is the wire-stable message identifier. Set before the first
	// transmit attempt and never regenerated on retry.
	APIID message.APIMessageID `json:"api_id,omitempty"`

	// Identities is the recipient snapshot captured at enqueue time.
	// Late membership changes never alter an already-queued task.
	Identities []string `json:"identities"`

	// Payload is the serialized message body transmitted to every
	// identity.
	Payload []byte `json:"payload"`

	// Delivered lists identities that already received this payload, so
	// a retry fans out only to the remainder.
	Delivered []string `json:"delivered,omitempty"`

	// RecipientErrors records terminal per-identity failures.
	RecipientErrors map[string]string `json:"recipient_errors,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	RetryCount int       `json:"retry_count"`

	cancelled atomic.Bool
}

// New creates a task with a fresh id and the given recipient snapshot.
func New(kind Kind, conversationID string, identities []string, payload []byte) *Task {
	return &Task{
		ID:             uuid.NewString(),
		Kind:           kind,
		ConversationID: conversationID,
		Identities:     append([]string(nil), identities...),
		Payload:        payload,
		CreatedAt:      time.Now(),
	}
}

// Cancel requests cooperative cancellation. A queued task is dropped before
// it runs; a running task stops at its next suspension point.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether cancellation was requested.
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}

// deliveredTo reports whether an identity already received the payload.
func (t *Task) deliveredTo(identity string) bool {
	for _, id := range t.Delivered {
		if id == identity {
			return true
		}
	}
	return false
}

// markDelivered records a completed fan-out target.
func (t *Task) markDelivered(identity string) {
	if !t.deliveredTo(identity) {
		t.Delivered = append(t.Delivered, identity)
	}
}

// recordError notes a terminal per-identity failure.
func (t *Task) recordError(identity, reason string) {
	if t.RecipientErrors == nil {
		t.RecipientErrors = make(map[string]string)
	}
	t.RecipientErrors[identity] = reason
}
