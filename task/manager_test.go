package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/courier/message"
	"github.com/opd-ai/courier/storage"
)

// newTextTask persists a pending text message and builds its send task.
func newTextTask(t *testing.T, env *testEnv, identity string) (*Task, *message.Message) {
	t.Helper()

	body, err := message.EncodeBody(&message.TextPayload{Text: "hi"})
	require.NoError(t, err)

	msg := message.New(identity, message.TypeText, message.ContentsTypeText, time.Now())
	msg.Body = body
	apiID, err := message.NewAPIMessageID()
	require.NoError(t, err)
	msg.APIID = apiID
	require.NoError(t, env.store.CreateOrUpdate(msg))

	task := New(KindText, identity, []string{identity}, body)
	task.MessageRowID = msg.ID
	task.APIID = apiID
	return task, msg
}

func waitSent(t *testing.T, env *testEnv, rowID int64) *message.Message {
	t.Helper()
	var got *message.Message
	require.Eventually(t, func() bool {
		msg, err := env.store.FindByID(rowID)
		if err != nil {
			return false
		}
		got = msg
		return msg.GetState() == message.StateSent
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

func TestScheduleAndSend(t *testing.T) {
	env := newTestEnv(t)
	env.addContact(t, "ECHOECHO")
	env.manager.Start()
	defer env.manager.Stop()

	task, msg := newTextTask(t, env, "ECHOECHO")
	require.NoError(t, env.manager.Schedule(task))

	sent := waitSent(t, env, msg.ID)
	assert.Equal(t, msg.APIID, sent.APIID)
	assert.Equal(t, 1, env.conn.sentCount())

	// Archive is drained once the task succeeds.
	require.Eventually(t, func() bool {
		archived, err := env.archiver.List()
		return err == nil && len(archived) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRetryKeepsMessageIDAndCount(t *testing.T) {
	env := newTestEnv(t)
	env.addContact(t, "ECHOECHO")
	env.conn.failTimes("ECHOECHO", 2, Transient(ErrAckTimeout))
	env.manager.Start()
	defer env.manager.Stop()

	task, msg := newTextTask(t, env, "ECHOECHO")
	originalAPIID := task.APIID
	require.NoError(t, env.manager.Schedule(task))

	sent := waitSent(t, env, msg.ID)

	// Retries must not mint a new message id or duplicate the row.
	assert.Equal(t, originalAPIID, sent.APIID)
	count, err := env.store.Count("ECHOECHO")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Exactly one ciphertext reached the wire; the session advanced once.
	assert.Equal(t, 1, env.conn.sentCount())
	assert.Equal(t, uint64(1), env.sessions.SendCounter("ECHOECHO"))
	assert.GreaterOrEqual(t, task.RetryCount, 1)
}

func TestPartialFanOutIsolation(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"MEMBER01", "MEMBER02", "MEMBER03"} {
		env.addContact(t, id)
	}
	// B fails transiently once; A and C succeed immediately.
	env.conn.failTimes("MEMBER02", 1, Transient(ErrAckTimeout))
	env.manager.Start()
	defer env.manager.Stop()

	body, err := message.EncodeBody(&message.TextPayload{Text: "group hello"})
	require.NoError(t, err)
	msg := message.New("grp-1", message.TypeText, message.ContentsTypeText, time.Now())
	msg.Body = body
	apiID, err := message.NewAPIMessageID()
	require.NoError(t, err)
	msg.APIID = apiID
	require.NoError(t, env.store.CreateOrUpdate(msg))

	task := New(KindText, "grp-1", []string{"MEMBER01", "MEMBER02", "MEMBER03"}, body)
	task.MessageRowID = msg.ID
	task.APIID = apiID
	require.NoError(t, env.manager.Schedule(task))

	waitSent(t, env, msg.ID)

	// Each member observes exactly one ciphertext: the failing member's
	// retry must not resend to the others.
	assert.Len(t, env.conn.sentTo("MEMBER01"), 1)
	assert.Len(t, env.conn.sentTo("MEMBER02"), 1)
	assert.Len(t, env.conn.sentTo("MEMBER03"), 1)
	assert.ElementsMatch(t, []string{"MEMBER01", "MEMBER02", "MEMBER03"}, task.Delivered)
}

func TestAllTargetsPermanentlyFailed(t *testing.T) {
	env := newTestEnv(t)
	// Identity is never registered: public key lookup fails permanently.
	env.manager.Start()
	defer env.manager.Stop()

	body, err := message.EncodeBody(&message.TextPayload{Text: "void"})
	require.NoError(t, err)
	msg := message.New("NOBODY", message.TypeText, message.ContentsTypeText, time.Now())
	msg.Body = body
	require.NoError(t, env.store.CreateOrUpdate(msg))

	task := New(KindText, "NOBODY", []string{"NOBODY"}, body)
	task.MessageRowID = msg.ID
	require.NoError(t, env.manager.Schedule(task))

	require.Eventually(t, func() bool {
		got, err := env.store.FindByID(msg.ID)
		return err == nil && got.GetState() == message.StateFailed
	}, 5*time.Second, 10*time.Millisecond)

	assert.Zero(t, env.conn.sentCount())
}

func TestArchiverRoundTripAcrossRestart(t *testing.T) {
	env := newTestEnv(t)
	env.addContact(t, "ECHOECHO")

	// Enqueue without starting the worker: the task is archived but
	// never executed, simulating a crash between enqueue and execute.
	task, msg := newTextTask(t, env, "ECHOECHO")
	originalAPIID := task.APIID
	require.NoError(t, env.manager.Schedule(task))

	archived, err := env.archiver.List()
	require.NoError(t, err)
	require.Len(t, archived, 1)

	// "Restart": a fresh manager over the same archiver and stores.
	restarted := NewManager(&Executor{
		Sessions:  env.sessions,
		Messages:  env.store,
		Directory: env.dirsvc,
		Conn:      env.conn,
		Bus:       env.bus,
	}, env.archiver, fastPolicy())
	require.NoError(t, restarted.Resume())
	restarted.Start()
	defer restarted.Stop()

	sent := waitSent(t, env, msg.ID)
	assert.Equal(t, originalAPIID, sent.APIID, "restart must not mint a new id")
	assert.Equal(t, 1, env.conn.sentCount(), "exactly one effective execution")
}

func TestEnqueueOrderPreserved(t *testing.T) {
	env := newTestEnv(t)
	env.addContact(t, "ECHOECHO")
	env.manager.Start()
	defer env.manager.Stop()

	var want []string
	var lastRow int64
	for i := 0; i < 5; i++ {
		task, msg := newTextTask(t, env, "ECHOECHO")
		want = append(want, string(task.APIID))
		lastRow = msg.ID
		require.NoError(t, env.manager.Schedule(task))
	}

	waitSent(t, env, lastRow)
	assert.Equal(t, want, env.conn.sentOrder())
}

func TestCancelQueuedTask(t *testing.T) {
	env := newTestEnv(t)
	env.addContact(t, "ECHOECHO")

	task, _ := newTextTask(t, env, "ECHOECHO")
	require.NoError(t, env.manager.Schedule(task))
	require.NoError(t, env.manager.Cancel(task.ID))

	archived, err := env.archiver.List()
	require.NoError(t, err)
	assert.Empty(t, archived)
	assert.Zero(t, env.manager.QueueLen())

	assert.ErrorIs(t, env.manager.Cancel("no-such-task"), ErrTaskNotFound)
}

func TestEphemeralTasksCreateNoRows(t *testing.T) {
	env := newTestEnv(t)
	env.addContact(t, "ECHOECHO")
	env.manager.Start()
	defer env.manager.Stop()

	typing, err := message.EncodeBody(&message.TypingPayload{IsTyping: true})
	require.NoError(t, err)
	require.NoError(t, env.manager.Schedule(New(KindTyping, "ECHOECHO", []string{"ECHOECHO"}, typing)))

	offer, err := message.EncodeBody(&message.VoipSignalPayload{Kind: message.VoipOffer, CallID: 1})
	require.NoError(t, err)
	require.NoError(t, env.manager.Schedule(New(KindVoipOffer, "ECHOECHO", []string{"ECHOECHO"}, offer)))

	require.Eventually(t, func() bool {
		return env.conn.sentCount() == 2
	}, 5*time.Second, 10*time.Millisecond)

	count, err := env.store.Count("ECHOECHO")
	require.NoError(t, err)
	assert.Zero(t, count, "ephemeral kinds never persist rows")
}

func TestEditAndDeleteApplyOnAck(t *testing.T) {
	env := newTestEnv(t)
	env.addContact(t, "ECHOECHO")
	env.manager.Start()
	defer env.manager.Stop()

	task, msg := newTextTask(t, env, "ECHOECHO")
	require.NoError(t, env.manager.Schedule(task))
	waitSent(t, env, msg.ID)

	edit, err := message.EncodeBody(&message.EditPayload{
		TargetID: msg.APIID, Text: "fixed", EditedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, env.manager.Schedule(New(KindEdit, "ECHOECHO", []string{"ECHOECHO"}, edit)))

	// The row body updates only after the edit is delivered.
	require.Eventually(t, func() bool {
		got, err := env.store.FindByAPIID(msg.APIID)
		if err != nil {
			return false
		}
		var body message.TextPayload
		return message.DecodeBody(got.Body, &body) == nil && body.Text == "fixed"
	}, 5*time.Second, 10*time.Millisecond)

	del, err := message.EncodeBody(&message.DeletePayload{
		TargetID: msg.APIID, DeletedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, env.manager.Schedule(New(KindDelete, "ECHOECHO", []string{"ECHOECHO"}, del)))

	require.Eventually(t, func() bool {
		got, err := env.store.FindByAPIID(msg.APIID)
		return err == nil && len(got.Body) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFailedEditLeavesRowUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.addContact(t, "ECHOECHO")
	env.manager.Start()
	defer env.manager.Stop()

	task, msg := newTextTask(t, env, "ECHOECHO")
	require.NoError(t, env.manager.Schedule(task))
	waitSent(t, env, msg.ID)

	// The target identity is unknown, so the edit fails terminally. The
	// stored body must still read what the peers saw.
	edit, err := message.EncodeBody(&message.EditPayload{
		TargetID: msg.APIID, Text: "never lands", EditedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, env.manager.Schedule(New(KindEdit, "ECHOECHO", []string{"NOBODY"}, edit)))

	require.Eventually(t, func() bool {
		archived, err := env.archiver.List()
		return err == nil && len(archived) == 0
	}, 5*time.Second, 10*time.Millisecond)

	got, err := env.store.FindByAPIID(msg.APIID)
	require.NoError(t, err)
	var body message.TextPayload
	require.NoError(t, message.DecodeBody(got.Body, &body))
	assert.Equal(t, "hi", body.Text)
}

func TestTypingDroppedWhileDisconnected(t *testing.T) {
	env := newTestEnv(t)
	env.addContact(t, "ECHOECHO")
	env.conn.setConnected(false)
	env.manager.Start()
	defer env.manager.Stop()

	typing, err := message.EncodeBody(&message.TypingPayload{IsTyping: true})
	require.NoError(t, err)
	require.NoError(t, env.manager.Schedule(New(KindTyping, "ECHOECHO", []string{"ECHOECHO"}, typing)))

	// The typing indicator gives up quietly once the connect wait lapses.
	require.Eventually(t, func() bool {
		archived, err := env.archiver.List()
		return err == nil && len(archived) == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, env.conn.sentCount())
}

func TestStopMidTransmitKeepsTaskArchived(t *testing.T) {
	env := newTestEnv(t)
	env.addContact(t, "ECHOECHO")
	env.conn.holdSends()
	env.manager.Start()

	task, msg := newTextTask(t, env, "ECHOECHO")
	require.NoError(t, env.manager.Schedule(task))

	// Wait until the worker is blocked inside Send, then shut down.
	require.Eventually(t, func() bool {
		return env.conn.attemptCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
	env.manager.Stop()

	// Shutdown must not terminally fail the message or drop it from the
	// archive.
	archived, err := env.archiver.List()
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, task.ID, archived[0].ID)

	got, err := env.store.FindByID(msg.ID)
	require.NoError(t, err)
	assert.NotEqual(t, message.StateFailed, got.GetState())

	// A restart over the same archive delivers the message.
	env.conn.releaseSends()
	restarted := NewManager(&Executor{
		Sessions:  env.sessions,
		Messages:  env.store,
		Directory: env.dirsvc,
		Conn:      env.conn,
		Bus:       env.bus,
	}, env.archiver, fastPolicy())
	require.NoError(t, restarted.Resume())
	restarted.Start()
	defer restarted.Stop()

	sent := waitSent(t, env, msg.ID)
	assert.Equal(t, msg.APIID, sent.APIID)
	assert.Equal(t, 1, env.conn.sentCount())
}

func TestScheduleValidation(t *testing.T) {
	env := newTestEnv(t)
	err := env.manager.Schedule(New(KindText, "X", nil, []byte("{}")))
	assert.Error(t, err)
}

var _ storage.Store = (*storage.SQLiteStore)(nil)
