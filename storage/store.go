package storage

import (
	"errors"

	"github.com/opd-ai/courier/message"
)

var (
	// ErrMessageNotFound indicates no row matched the query.
	ErrMessageNotFound = errors.New("message not found")
)

// Filter narrows message queries.
type Filter struct {
	// UnreadOnly restricts results to inbox messages not yet read locally.
	UnreadOnly bool
	// Types restricts results to the given message kinds; empty means all.
	Types []message.Type
	// Limit caps the number of returned rows; zero means no cap.
	Limit int
}

// Store is the persistence boundary for message rows. Implementations must
// be safe for concurrent use: receivers write from the application context
// while tasks update delivery state from the dispatch worker.
type Store interface {
	// CreateOrUpdate inserts the message if ID is zero (assigning it) and
	// updates the existing row otherwise.
	CreateOrUpdate(msg *message.Message) error

	// Find returns messages for a conversation, newest first.
	Find(conversationID string, filter Filter) ([]*message.Message, error)

	// FindByID looks a message up by its local row id.
	FindByID(id int64) (*message.Message, error)

	// FindByAPIID looks a message up by its wire identifier.
	FindByAPIID(id message.APIMessageID) (*message.Message, error)

	// MarkDeliveryState updates only the delivery state of the row with
	// the given wire identifier. Returns ErrMessageNotFound if no row
	// matches.
	MarkDeliveryState(id message.APIMessageID, state message.DeliveryState) error

	// Count returns the number of messages in a conversation.
	Count(conversationID string) (int64, error)

	// CountUnread returns the number of unread inbox messages.
	CountUnread(conversationID string) (int64, error)

	// Unread returns the unread inbox messages, oldest first.
	Unread(conversationID string) ([]*message.Message, error)

	// LastMessage returns the newest message of a conversation, or
	// ErrMessageNotFound for an empty conversation.
	LastMessage(conversationID string) (*message.Message, error)

	// HasVoipStatus reports whether a voip status row for the given call
	// already exists among the newest limit rows, used to deduplicate
	// call status entries.
	HasVoipStatus(conversationID string, callID uint64, limit int) (bool, error)
}
