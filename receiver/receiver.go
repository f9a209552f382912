package receiver

import (
	"errors"
	"time"

	"github.com/opd-ai/courier/message"
	"github.com/opd-ai/courier/storage"
	"github.com/opd-ai/courier/task"
)

var (
	// ErrEmptyBody indicates a send with no content.
	ErrEmptyBody = errors.New("empty message body")
	// ErrNotResendable indicates a resend of a message that is not in a
	// failed state or lacks its original id.
	ErrNotResendable = errors.New("message is not resendable")
	// ErrNotOutbox indicates an edit/delete of a message we did not send.
	ErrNotOutbox = errors.New("message was not sent by us")
)

// DenialReason explains a sending-permission denial.
type DenialReason uint8

const (
	// DenialNone means sending is permitted.
	DenialNone DenialReason = iota
	// DenialBlocked means the recipient is on the block list.
	DenialBlocked
	// DenialInvalid means the recipient state disallows sending.
	DenialInvalid
)

// String returns the log representation of a denial reason.
func (r DenialReason) String() string {
	switch r {
	case DenialNone:
		return "none"
	case DenialBlocked:
		return "blocked"
	case DenialInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Scheduler enqueues tasks on the dispatch manager.
type Scheduler interface {
	Schedule(t *task.Task) error
}

// Receiver is the capability set shared by all recipient kinds.
type Receiver interface {
	// UniqueIDString identifies the conversation stably across restarts.
	UniqueIDString() string

	// Identities returns the current recipient identity set. Tasks
	// capture a snapshot of this at enqueue time.
	Identities() ([]string, error)

	// ValidateSendingPermission reports whether sending is allowed and,
	// if not, why. Cooperative: CreateAndSend does not re-check it.
	ValidateSendingPermission() (bool, DenialReason)

	// CreateLocalModel allocates an unsaved message row for this
	// recipient. The caller must save it via SaveLocalModel or one of
	// the CreateAndSend operations.
	CreateLocalModel(msgType message.Type, contentsType message.ContentsType, postedAt time.Time) *message.Message

	// SaveLocalModel persists the row without dispatching it.
	SaveLocalModel(msg *message.Message) error

	// CreateAndSendTextMessage assigns the message id, persists the
	// model, surfaces the conversation and enqueues the send task.
	CreateAndSendTextMessage(msg *message.Message, text string) error

	// CreateAndSendLocationMessage does the same for a location body.
	CreateAndSendLocationMessage(msg *message.Message, loc *message.LocationPayload) error

	// CreateAndSendFileMessage dispatches an already uploaded blob. The
	// blob ids must come from the upload collaborator; malformed ids
	// fail synchronously.
	CreateAndSendFileMessage(msg *message.Message, file *message.FilePayload) error

	// CreateAndSendBallotSetupMessage dispatches a poll creation or
	// close. A malformed ballot id fails synchronously.
	CreateAndSendBallotSetupMessage(msg *message.Message, setup *message.BallotSetupPayload) error

	// CreateAndSendBallotVoteMessage dispatches poll votes.
	CreateAndSendBallotVoteMessage(msg *message.Message, vote *message.BallotVotePayload) error

	// ResendTextMessage re-schedules a failed text message without
	// minting a new message id.
	ResendTextMessage(msg *message.Message) error

	// ResendLocationMessage re-schedules a failed location message
	// without minting a new message id.
	ResendLocationMessage(msg *message.Message) error

	// SendDeliveryReceipt acknowledges messages to the peer without
	// creating a local row.
	SendDeliveryReceipt(receipt message.ReceiptType, ids []message.APIMessageID) error

	// SendEditMessage dispatches an edit of a previously sent message.
	// The local row is updated once the edit is acknowledged.
	SendEditMessage(target message.APIMessageID, text string, editedAt time.Time) error

	// SendDeleteMessage dispatches a retraction of a previously sent
	// message. The local row body is cleared once the retraction is
	// acknowledged.
	SendDeleteMessage(target message.APIMessageID, deletedAt time.Time) error

	// LoadMessages returns this conversation's messages, newest first.
	LoadMessages(filter storage.Filter) ([]*message.Message, error)

	// MessagesCount returns the conversation's message count.
	MessagesCount() (int64, error)

	// UnreadMessagesCount returns the number of unread inbox messages.
	UnreadMessagesCount() (int64, error)

	// UnreadMessages returns the unread inbox messages, oldest first.
	UnreadMessages() ([]*message.Message, error)

	// BumpLastUpdate moves the conversation to the top of the recency
	// ordering.
	BumpLastUpdate() error
}
