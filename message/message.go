package message

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Type represents the kind of message.
type Type uint8

const (
	// TypeText is a regular text message.
	TypeText Type = iota
	// TypeLocation carries geographic coordinates.
	TypeLocation
	// TypeFile references a separately uploaded blob.
	TypeFile
	// TypeBallot is a poll setup or vote.
	TypeBallot
	// TypeVoipSignal is voip call signaling (never persisted).
	TypeVoipSignal
	// TypeDeliveryReceipt acknowledges delivery/read state to the peer.
	TypeDeliveryReceipt
	// TypeTyping is a typing indicator (never persisted).
	TypeTyping
	// TypeEdit replaces the body of a previously sent message.
	TypeEdit
	// TypeDelete retracts a previously sent message.
	TypeDelete
)

// ContentsType refines the rendering category of a message body.
type ContentsType uint8

const (
	ContentsTypeText ContentsType = iota
	ContentsTypeImage
	ContentsTypeVideo
	ContentsTypeAudio
	ContentsTypeFile
	ContentsTypeLocation
	ContentsTypeBallot
	ContentsTypeVoipStatus
)

// DeliveryState represents the delivery state of a message.
type DeliveryState uint8

const (
	// StatePending means the message is persisted but not yet transmitted.
	StatePending DeliveryState = iota
	// StateSending means a task is currently transmitting the message.
	StateSending
	// StateSent means the server acknowledged the message.
	StateSent
	// StateDelivered means the recipient device acknowledged the message.
	StateDelivered
	// StateRead means the recipient has read the message.
	StateRead
	// StateFailed means delivery failed terminally.
	StateFailed
)

// String returns the storage representation of the delivery state.
func (s DeliveryState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSending:
		return "sending"
	case StateSent:
		return "sent"
	case StateDelivered:
		return "delivered"
	case StateRead:
		return "read"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// APIMessageID is the wire-level, cross-device-stable message identifier.
// It is minted exactly once, before the first transmit attempt, and never
// changes across retries so peers can deduplicate.
type APIMessageID string

// NewAPIMessageID mints a random 8-byte message identifier.
func NewAPIMessageID() (APIMessageID, error) {
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("failed to mint message id: %w", err)
	}
	return APIMessageID(hex.EncodeToString(raw[:])), nil
}

// DeliveryCallback is called when a message's delivery state changes.
type DeliveryCallback func(msg *Message, state DeliveryState)

// Message represents a locally stored message row.
type Message struct {
	// ID is the local row id, assigned by storage on first save.
	ID int64
	// APIID is empty until minted by the owning receiver.
	APIID APIMessageID

	Type         Type
	ContentsType ContentsType

	// ConversationID scopes the message to a contact identity, group id
	// or distribution list id.
	ConversationID string

	Body      []byte
	Outbox    bool
	Saved     bool
	State     DeliveryState
	CreatedAt time.Time
	PostedAt  time.Time

	// PerRecipientErrors records identities that failed during fan-out,
	// keyed by identity.
	PerRecipientErrors map[string]string

	deliveryCallback DeliveryCallback
	mu               sync.Mutex
}

// New creates an unsaved message row for the given conversation.
func New(conversationID string, msgType Type, contentsType ContentsType, postedAt time.Time) *Message {
	return &Message{
		Type:           msgType,
		ContentsType:   contentsType,
		ConversationID: conversationID,
		Outbox:         true,
		State:          StatePending,
		CreatedAt:      time.Now(),
		PostedAt:       postedAt,
	}
}

// OnDeliveryStateChange sets a callback for delivery state changes.
func (m *Message) OnDeliveryStateChange(callback DeliveryCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveryCallback = callback
}

// SetState updates the message's delivery state and notifies the callback.
func (m *Message) SetState(state DeliveryState) {
	m.mu.Lock()
	m.State = state
	callback := m.deliveryCallback
	m.mu.Unlock()

	if callback != nil {
		callback(m, state)
	}
}

// GetState returns the current delivery state.
func (m *Message) GetState() DeliveryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.State
}

// RecordRecipientError notes a per-identity fan-out failure without failing
// the whole message.
func (m *Message) RecordRecipientError(identity, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PerRecipientErrors == nil {
		m.PerRecipientErrors = make(map[string]string)
	}
	m.PerRecipientErrors[identity] = reason
}

// Ephemeral reports whether this message kind is never persisted.
func (m *Message) Ephemeral() bool {
	return m.Type == TypeTyping || m.Type == TypeVoipSignal
}
