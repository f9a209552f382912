package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/courier/directory"
	"github.com/opd-ai/courier/events"
	"github.com/opd-ai/courier/limits"
	"github.com/opd-ai/courier/message"
	"github.com/opd-ai/courier/session"
	"github.com/opd-ai/courier/storage"
)

// Executor runs one task at a time against the shared connection. It owns
// the build payload → encrypt → transmit → await ack → finalize sequence
// for every task kind.
type Executor struct {
	Sessions  *session.Store
	Messages  storage.Store
	Directory directory.Directory
	Conn      Connection
	Bus       *events.Bus
	Policy    RetryPolicy

	// OnProgress is called after each delivered fan-out target so the
	// manager can write the updated task through to the archive. A crash
	// mid-fan-out then resumes with only the remaining targets.
	OnProgress func(*Task)
}

// Execute dispatches a task over the closed kind set. Transient errors are
// retryable; everything else is terminal for the task.
func (e *Executor) Execute(ctx context.Context, t *Task) error {
	log := logrus.WithFields(logrus.Fields{
		"function": "Execute",
		"task_id":  t.ID,
		"kind":     t.Kind.String(),
		"targets":  len(t.Identities),
	})
	log.Debug("Executing task")

	if t.Cancelled() {
		return ErrCancelled
	}

	if err := e.waitForConnection(ctx); err != nil {
		return err
	}

	switch t.Kind {
	case KindText, KindLocation, KindFile, KindBallotSetup, KindBallotVote:
		return e.runPersisted(ctx, t)
	case KindTyping, KindDeliveryReceipt, KindVoipOffer, KindVoipAnswer,
		KindVoipRinging, KindVoipICECandidates, KindVoipHangup,
		KindEdit, KindDelete:
		return e.runEphemeral(ctx, t)
	default:
		return fmt.Errorf("unknown task kind %d", t.Kind)
	}
}

// waitForConnection blocks until the connection is usable, bounded by the
// policy's connect wait.
func (e *Executor) waitForConnection(ctx context.Context) error {
	if e.Conn.Connected() {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.Policy.ConnectWait)
	defer cancel()
	if err := e.Conn.WaitUntilConnected(waitCtx); err != nil {
		return Transient(fmt.Errorf("%w: %v", ErrConnectionUnavailable, err))
	}
	return nil
}

// runPersisted transmits a task backed by a stored message row and
// finalizes the row's delivery state.
func (e *Executor) runPersisted(ctx context.Context, t *Task) error {
	msg, err := e.Messages.FindByID(t.MessageRowID)
	if err != nil {
		return fmt.Errorf("message row %d vanished: %w", t.MessageRowID, err)
	}

	if msg.GetState() == message.StatePending {
		msg.SetState(message.StateSending)
		if err := e.Messages.MarkDeliveryState(msg.APIID, message.StateSending); err != nil {
			return err
		}
		e.publishState(msg)
	}

	fanOutErr := e.fanOut(ctx, t)

	// Mirror terminal per-recipient failures onto the row regardless of
	// outcome, so the UI can render partial delivery problems.
	for identity, reason := range t.RecipientErrors {
		msg.RecordRecipientError(identity, reason)
	}

	if fanOutErr != nil {
		// Keep partial progress visible while the retry waits.
		if err := e.Messages.CreateOrUpdate(msg); err != nil {
			logrus.WithError(err).Warn("Failed to persist partial fan-out state")
		}
		return fanOutErr
	}

	if len(t.Delivered) == 0 && len(t.RecipientErrors) > 0 {
		// Every target failed terminally.
		return fmt.Errorf("all %d recipients failed", len(t.RecipientErrors))
	}

	msg.SetState(message.StateSent)
	if err := e.Messages.CreateOrUpdate(msg); err != nil {
		return err
	}
	e.publishState(msg)

	logrus.WithFields(logrus.Fields{
		"function":  "runPersisted",
		"task_id":   t.ID,
		"api_id":    string(t.APIID),
		"delivered": len(t.Delivered),
		"failed":    len(t.RecipientErrors),
	}).Info("Message sent")

	return nil
}

// runEphemeral transmits a task with no backing message row. Typing
// indicators are dropped on failure; receipts and voip signaling retry.
// Acknowledged edits and deletes are mirrored onto the target row.
func (e *Executor) runEphemeral(ctx context.Context, t *Task) error {
	err := e.fanOut(ctx, t)
	if err == nil {
		if len(t.Delivered) == 0 && len(t.RecipientErrors) > 0 {
			return fmt.Errorf("all %d recipients failed", len(t.RecipientErrors))
		}
		return e.applyControl(t)
	}

	if t.Kind == KindTyping && IsTransient(err) {
		logrus.WithFields(logrus.Fields{
			"function": "runEphemeral",
			"task_id":  t.ID,
		}).Debug("Dropping typing indicator on transient failure")
		return nil
	}
	return err
}

// applyControl mirrors a delivered edit or delete onto the local message
// row. The stored body only changes once the peers saw the change, so a
// terminally failed control task never leaves the row diverged.
func (e *Executor) applyControl(t *Task) error {
	switch t.Kind {
	case KindEdit:
		var edit message.EditPayload
		if err := message.DecodeBody(t.Payload, &edit); err != nil {
			return err
		}
		msg, err := e.Messages.FindByAPIID(edit.TargetID)
		if err != nil {
			return fmt.Errorf("edit target vanished: %w", err)
		}
		body, err := message.EncodeBody(&message.TextPayload{Text: edit.Text})
		if err != nil {
			return err
		}
		msg.Body = body
		return e.Messages.CreateOrUpdate(msg)

	case KindDelete:
		var del message.DeletePayload
		if err := message.DecodeBody(t.Payload, &del); err != nil {
			return err
		}
		msg, err := e.Messages.FindByAPIID(del.TargetID)
		if err != nil {
			return fmt.Errorf("delete target vanished: %w", err)
		}
		msg.Body = nil
		return e.Messages.CreateOrUpdate(msg)
	}
	return nil
}

// fanOut sends the payload to every remaining target identity, isolating
// per-target failures: a failing target never prevents the others from
// receiving the message. Returns a transient error if any target should be
// retried.
func (e *Executor) fanOut(ctx context.Context, t *Task) error {
	var transientErr error

	for _, identity := range t.Identities {
		if t.deliveredTo(identity) {
			continue
		}
		if _, failed := t.RecipientErrors[identity]; failed {
			continue
		}
		if t.Cancelled() {
			return ErrCancelled
		}

		if err := e.sendToIdentity(ctx, t, identity); err != nil {
			if errors.Is(err, ErrCancelled) {
				return err
			}
			if ctx.Err() != nil {
				// Shutdown, not a recipient failure.
				return ctx.Err()
			}
			if IsTransient(err) {
				logrus.WithFields(logrus.Fields{
					"function": "fanOut",
					"task_id":  t.ID,
					"identity": identity,
				}).WithError(err).Warn("Transient send failure, will retry target")
				transientErr = err
				continue
			}
			t.recordError(identity, err.Error())
			logrus.WithFields(logrus.Fields{
				"function": "fanOut",
				"task_id":  t.ID,
				"identity": identity,
			}).WithError(err).Error("Permanent send failure for target")
			continue
		}

		t.markDelivered(identity)
		if e.OnProgress != nil {
			e.OnProgress(t)
		}
	}

	if transientErr != nil {
		return Transient(transientErr)
	}
	return nil
}

// sendToIdentity encrypts the payload for one target and transmits it,
// committing the forward-security chain only after the ack.
func (e *Executor) sendToIdentity(ctx context.Context, t *Task, identity string) error {
	peerPK, err := e.Directory.ContactPublicKey(identity)
	if err != nil {
		return err
	}
	if _, err := e.Sessions.GetOrCreate(identity, peerPK); err != nil {
		return err
	}

	pending, err := e.Sessions.Encrypt(identity, t.Payload)
	if err != nil {
		return err
	}
	if err := limits.ValidateEnvelope(pending.Ciphertext); err != nil {
		pending.Abort()
		return err
	}

	// Suspension point: cancellation is honored before transmit.
	if t.Cancelled() {
		pending.Abort()
		return ErrCancelled
	}

	env := &Envelope{
		APIID:      t.APIID,
		To:         identity,
		Kind:       t.Kind,
		Counter:    pending.Counter,
		Nonce:      pending.Nonce,
		Ciphertext: pending.Ciphertext,
	}

	ackCtx, cancel := context.WithTimeout(ctx, e.Policy.AckTimeout)
	err = e.Conn.Send(ackCtx, env)
	cancel()
	if err != nil {
		pending.Abort()
		if t.Cancelled() {
			return ErrCancelled
		}
		// The parent context is cancelled on shutdown: the attempt is
		// interrupted, not failed, and the task stays archived.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if ackCtx.Err() == context.DeadlineExceeded {
			return Transient(ErrAckTimeout)
		}
		return err
	}

	// Ack received: advance the session past this message.
	if err := pending.Commit(); err != nil {
		return fmt.Errorf("failed to commit session advance: %w", err)
	}
	return nil
}

// FailPersisted marks the backing row of a terminally failed task.
func (e *Executor) FailPersisted(t *Task, cause error) {
	if !t.Kind.Persisted() {
		return
	}
	msg, err := e.Messages.FindByID(t.MessageRowID)
	if err != nil {
		logrus.WithError(err).Warn("Failed to load message row for failure state")
		return
	}
	msg.SetState(message.StateFailed)
	for identity, reason := range t.RecipientErrors {
		msg.RecordRecipientError(identity, reason)
	}
	if err := e.Messages.CreateOrUpdate(msg); err != nil {
		logrus.WithError(err).Warn("Failed to persist failure state")
		return
	}
	e.publishState(msg)

	logrus.WithFields(logrus.Fields{
		"function": "FailPersisted",
		"task_id":  t.ID,
		"api_id":   string(t.APIID),
	}).WithError(cause).Error("Message failed terminally")
}

func (e *Executor) publishState(msg *message.Message) {
	if e.Bus == nil {
		return
	}
	e.Bus.Publish(events.MessageStateChanged{
		MessageID:      msg.ID,
		APIID:          msg.APIID,
		ConversationID: msg.ConversationID,
		State:          msg.GetState(),
	})
}
