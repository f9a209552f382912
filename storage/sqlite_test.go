package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/courier/message"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateOrUpdate(t *testing.T) {
	store := newTestStore(t)

	msg := message.New("ECHOECHO", message.TypeText, message.ContentsTypeText, time.Now())
	msg.Body = []byte(`{"text":"hello"}`)

	require.NoError(t, store.CreateOrUpdate(msg))
	assert.NotZero(t, msg.ID)
	assert.True(t, msg.Saved)

	// Update: assign api id and advance state.
	id, err := message.NewAPIMessageID()
	require.NoError(t, err)
	msg.APIID = id
	msg.SetState(message.StateSent)
	require.NoError(t, store.CreateOrUpdate(msg))

	found, err := store.FindByAPIID(id)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, found.ID)
	assert.Equal(t, message.StateSent, found.State)
}

func TestFindOrdering(t *testing.T) {
	store := newTestStore(t)

	base := time.Now()
	for i := 0; i < 3; i++ {
		msg := message.New("ECHOECHO", message.TypeText, message.ContentsTypeText, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.CreateOrUpdate(msg))
	}

	msgs, err := store.Find("ECHOECHO", Filter{})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].PostedAt.After(msgs[2].PostedAt), "newest first")

	last, err := store.LastMessage("ECHOECHO")
	require.NoError(t, err)
	assert.Equal(t, msgs[0].ID, last.ID)

	_, err = store.LastMessage("NOBODY")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestUnreadCounts(t *testing.T) {
	store := newTestStore(t)

	inbound := message.New("ECHOECHO", message.TypeText, message.ContentsTypeText, time.Now())
	inbound.Outbox = false
	require.NoError(t, store.CreateOrUpdate(inbound))

	outbound := message.New("ECHOECHO", message.TypeText, message.ContentsTypeText, time.Now())
	require.NoError(t, store.CreateOrUpdate(outbound))

	n, err := store.CountUnread("ECHOECHO")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "outbox rows are never unread")

	unread, err := store.Unread("ECHOECHO")
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, inbound.ID, unread[0].ID)

	unread[0].SetState(message.StateRead)
	require.NoError(t, store.CreateOrUpdate(unread[0]))

	n, err = store.CountUnread("ECHOECHO")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMarkDeliveryState(t *testing.T) {
	store := newTestStore(t)

	msg := message.New("ECHOECHO", message.TypeText, message.ContentsTypeText, time.Now())
	id, err := message.NewAPIMessageID()
	require.NoError(t, err)
	msg.APIID = id
	require.NoError(t, store.CreateOrUpdate(msg))

	require.NoError(t, store.MarkDeliveryState(id, message.StateDelivered))

	found, err := store.FindByAPIID(id)
	require.NoError(t, err)
	assert.Equal(t, message.StateDelivered, found.State)

	assert.ErrorIs(t, store.MarkDeliveryState("ffffffffffffffff", message.StateRead), ErrMessageNotFound)
}

func TestHasVoipStatus(t *testing.T) {
	store := newTestStore(t)

	body, err := message.EncodeBody(&message.VoipSignalPayload{Kind: message.VoipHangup, CallID: 777})
	require.NoError(t, err)
	status := message.New("ECHOECHO", message.TypeVoipSignal, message.ContentsTypeVoipStatus, time.Now())
	status.Body = body
	require.NoError(t, store.CreateOrUpdate(status))

	found, err := store.HasVoipStatus("ECHOECHO", 777, 10)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = store.HasVoipStatus("ECHOECHO", 778, 10)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRecipientErrorsPersist(t *testing.T) {
	store := newTestStore(t)

	msg := message.New("grp-1", message.TypeText, message.ContentsTypeText, time.Now())
	msg.RecordRecipientError("MEMBER02", "transient transport failure")
	require.NoError(t, store.CreateOrUpdate(msg))

	msgs, err := store.Find("grp-1", Filter{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "transient transport failure", msgs[0].PerRecipientErrors["MEMBER02"])
}
