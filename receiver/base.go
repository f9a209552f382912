package receiver

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/courier/directory"
	"github.com/opd-ai/courier/events"
	"github.com/opd-ai/courier/limits"
	"github.com/opd-ai/courier/message"
	"github.com/opd-ai/courier/storage"
	"github.com/opd-ai/courier/task"
)

// Deps are the collaborators every receiver variant works against.
type Deps struct {
	Store     storage.Store
	Directory directory.Directory
	Scheduler Scheduler
	Bus       *events.Bus
}

// base carries the send pipeline shared by all receiver variants. The
// variant supplies the conversation id and the identity snapshot function.
type base struct {
	deps           Deps
	conversationID string
	identities     func() ([]string, error)
}

// UniqueIDString identifies the conversation stably across restarts.
func (b *base) UniqueIDString() string {
	return b.conversationID
}

// Identities returns the current recipient identity set.
func (b *base) Identities() ([]string, error) {
	return b.identities()
}

// CreateLocalModel allocates an unsaved message row for this recipient.
func (b *base) CreateLocalModel(msgType message.Type, contentsType message.ContentsType, postedAt time.Time) *message.Message {
	return message.New(b.conversationID, msgType, contentsType, postedAt)
}

// SaveLocalModel persists the row without dispatching it.
func (b *base) SaveLocalModel(msg *message.Message) error {
	return b.deps.Store.CreateOrUpdate(msg)
}

// CreateAndSendTextMessage assigns the message id, persists the model,
// surfaces the conversation and enqueues the send task.
func (b *base) CreateAndSendTextMessage(msg *message.Message, text string) error {
	if err := limits.ValidateText(text); err != nil {
		return err
	}
	body, err := message.EncodeBody(&message.TextPayload{Text: text})
	if err != nil {
		return err
	}
	return b.createAndSend(task.KindText, msg, body)
}

// CreateAndSendLocationMessage dispatches a location body.
func (b *base) CreateAndSendLocationMessage(msg *message.Message, loc *message.LocationPayload) error {
	body, err := message.EncodeBody(loc)
	if err != nil {
		return err
	}
	return b.createAndSend(task.KindLocation, msg, body)
}

// CreateAndSendFileMessage dispatches an already uploaded blob. Malformed
// blob ids are local validation failures raised synchronously, never
// enqueued.
func (b *base) CreateAndSendFileMessage(msg *message.Message, file *message.FilePayload) error {
	if err := message.ValidateBlobID(file.BlobID); err != nil {
		return err
	}
	if file.ThumbnailBlobID != "" {
		if err := message.ValidateBlobID(file.ThumbnailBlobID); err != nil {
			return err
		}
	}
	if len(file.Caption) > limits.MaxCaptionBytes {
		return fmt.Errorf("%w: caption", limits.ErrPayloadTooLarge)
	}

	body, err := message.EncodeBody(file)
	if err != nil {
		return err
	}
	return b.createAndSend(task.KindFile, msg, body)
}

// CreateAndSendBallotSetupMessage dispatches a poll creation or close.
func (b *base) CreateAndSendBallotSetupMessage(msg *message.Message, setup *message.BallotSetupPayload) error {
	if err := setup.Validate(); err != nil {
		return err
	}
	body, err := message.EncodeBody(setup)
	if err != nil {
		return err
	}
	if err := limits.ValidateSize(body, limits.MaxBallotBytes); err != nil {
		return err
	}
	return b.createAndSend(task.KindBallotSetup, msg, body)
}

// CreateAndSendBallotVoteMessage dispatches poll votes.
func (b *base) CreateAndSendBallotVoteMessage(msg *message.Message, vote *message.BallotVotePayload) error {
	if err := vote.Validate(); err != nil {
		return err
	}
	body, err := message.EncodeBody(vote)
	if err != nil {
		return err
	}
	return b.createAndSend(task.KindBallotVote, msg, body)
}

// ResendTextMessage re-schedules a failed text message under its original
// message id.
func (b *base) ResendTextMessage(msg *message.Message) error {
	return b.resend(task.KindText, msg)
}

// ResendLocationMessage re-schedules a failed location message under its
// original message id.
func (b *base) ResendLocationMessage(msg *message.Message) error {
	return b.resend(task.KindLocation, msg)
}

// SendDeliveryReceipt acknowledges messages to the peer without creating a
// local row.
func (b *base) SendDeliveryReceipt(receipt message.ReceiptType, ids []message.APIMessageID) error {
	if len(ids) == 0 {
		return ErrEmptyBody
	}
	body, err := message.EncodeBody(&message.DeliveryReceiptPayload{Receipt: receipt, MessageIDs: ids})
	if err != nil {
		return err
	}
	return b.sendEphemeral(task.KindDeliveryReceipt, body)
}

// SendEditMessage dispatches an edit of a previously sent message. The
// local row is updated by the dispatch engine once the edit is
// acknowledged, so it never diverges from what peers saw.
func (b *base) SendEditMessage(target message.APIMessageID, text string, editedAt time.Time) error {
	if err := limits.ValidateText(text); err != nil {
		return err
	}
	original, err := b.deps.Store.FindByAPIID(target)
	if err != nil {
		return err
	}
	if !original.Outbox {
		return ErrNotOutbox
	}

	body, err := message.EncodeBody(&message.EditPayload{TargetID: target, Text: text, EditedAt: editedAt})
	if err != nil {
		return err
	}
	return b.sendEphemeral(task.KindEdit, body)
}

// SendDeleteMessage dispatches a retraction of a previously sent message.
// The local row body is cleared by the dispatch engine once the retraction
// is acknowledged.
func (b *base) SendDeleteMessage(target message.APIMessageID, deletedAt time.Time) error {
	original, err := b.deps.Store.FindByAPIID(target)
	if err != nil {
		return err
	}
	if !original.Outbox {
		return ErrNotOutbox
	}

	body, err := message.EncodeBody(&message.DeletePayload{TargetID: target, DeletedAt: deletedAt})
	if err != nil {
		return err
	}
	return b.sendEphemeral(task.KindDelete, body)
}

// LoadMessages returns this conversation's messages, newest first.
func (b *base) LoadMessages(filter storage.Filter) ([]*message.Message, error) {
	return b.deps.Store.Find(b.conversationID, filter)
}

// MessagesCount returns the conversation's message count.
func (b *base) MessagesCount() (int64, error) {
	return b.deps.Store.Count(b.conversationID)
}

// UnreadMessagesCount returns the number of unread inbox messages.
func (b *base) UnreadMessagesCount() (int64, error) {
	return b.deps.Store.CountUnread(b.conversationID)
}

// UnreadMessages returns the unread inbox messages, oldest first.
func (b *base) UnreadMessages() ([]*message.Message, error) {
	return b.deps.Store.Unread(b.conversationID)
}

// BumpLastUpdate moves the conversation to the top of the recency ordering.
func (b *base) BumpLastUpdate() error {
	if err := b.deps.Directory.BumpLastUpdate(b.conversationID); err != nil {
		return err
	}
	if b.deps.Bus != nil {
		b.deps.Bus.Publish(events.ConversationChanged{ConversationID: b.conversationID})
	}
	return nil
}

// createAndSend is the shared persisted-send pipeline: mint the message id
// if absent, save the row, surface the conversation, snapshot the
// recipients and enqueue the task.
func (b *base) createAndSend(kind task.Kind, msg *message.Message, body []byte) error {
	if msg.APIID == "" {
		apiID, err := message.NewAPIMessageID()
		if err != nil {
			return err
		}
		msg.APIID = apiID
	}
	msg.Body = body

	if err := b.deps.Store.CreateOrUpdate(msg); err != nil {
		return err
	}

	if err := b.surfaceConversation(); err != nil {
		return err
	}

	identities, err := b.identities()
	if err != nil {
		return err
	}

	t := task.New(kind, b.conversationID, identities, body)
	t.MessageRowID = msg.ID
	t.APIID = msg.APIID

	logrus.WithFields(logrus.Fields{
		"function":     "createAndSend",
		"kind":         kind.String(),
		"conversation": b.conversationID,
		"api_id":       string(msg.APIID),
		"targets":      len(identities),
	}).Debug("Dispatching message")

	return b.deps.Scheduler.Schedule(t)
}

// resend re-schedules an already persisted, previously failed message
// without minting a new message id.
func (b *base) resend(kind task.Kind, msg *message.Message) error {
	if msg.APIID == "" || msg.ID == 0 {
		return ErrNotResendable
	}
	if msg.GetState() != message.StateFailed {
		return ErrNotResendable
	}

	msg.SetState(message.StatePending)
	if err := b.deps.Store.CreateOrUpdate(msg); err != nil {
		return err
	}

	identities, err := b.identities()
	if err != nil {
		return err
	}

	t := task.New(kind, b.conversationID, identities, msg.Body)
	t.MessageRowID = msg.ID
	t.APIID = msg.APIID
	return b.deps.Scheduler.Schedule(t)
}

// sendEphemeral enqueues a control task that never touches message storage.
func (b *base) sendEphemeral(kind task.Kind, body []byte) error {
	identities, err := b.identities()
	if err != nil {
		return err
	}
	return b.deps.Scheduler.Schedule(task.New(kind, b.conversationID, identities, body))
}

// surfaceConversation clears hidden/archived flags and bumps recency so a
// sent message always makes its conversation visible.
func (b *base) surfaceConversation() error {
	if err := b.deps.Directory.SetHidden(b.conversationID, false); err != nil {
		return err
	}
	if err := b.deps.Directory.SetArchived(b.conversationID, false); err != nil {
		return err
	}
	return b.BumpLastUpdate()
}
