package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAPIMessageID(t *testing.T) {
	id1, err := NewAPIMessageID()
	require.NoError(t, err)
	assert.Len(t, string(id1), 16, "8 bytes hex encoded")

	id2, err := NewAPIMessageID()
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestDeliveryCallback(t *testing.T) {
	msg := New("ECHOECHO", TypeText, ContentsTypeText, time.Now())

	var got DeliveryState
	called := false
	msg.OnDeliveryStateChange(func(m *Message, state DeliveryState) {
		called = true
		got = state
	})

	msg.SetState(StateSent)
	assert.True(t, called)
	assert.Equal(t, StateSent, got)
	assert.Equal(t, StateSent, msg.GetState())
}

func TestEphemeral(t *testing.T) {
	assert.True(t, New("A", TypeTyping, ContentsTypeText, time.Now()).Ephemeral())
	assert.True(t, New("A", TypeVoipSignal, ContentsTypeVoipStatus, time.Now()).Ephemeral())
	assert.False(t, New("A", TypeText, ContentsTypeText, time.Now()).Ephemeral())
}

func TestValidateBlobID(t *testing.T) {
	assert.NoError(t, ValidateBlobID("00112233445566778899aabbccddeeff"))
	assert.ErrorIs(t, ValidateBlobID(""), ErrInvalidBlobID)
	assert.ErrorIs(t, ValidateBlobID("zz"), ErrInvalidBlobID)
	assert.ErrorIs(t, ValidateBlobID("0011"), ErrInvalidBlobID)
}

func TestBallotValidation(t *testing.T) {
	setup := &BallotSetupPayload{
		BallotID:    "0011223344556677",
		Description: "lunch?",
		Choices:     []string{"pizza", "sushi"},
	}
	assert.NoError(t, setup.Validate())

	setup.BallotID = "nothex"
	assert.ErrorIs(t, setup.Validate(), ErrInvalidBallotID)

	vote := &BallotVotePayload{BallotID: "0011223344556677", Votes: []int{1}}
	assert.NoError(t, vote.Validate())
	vote.BallotID = "00"
	assert.ErrorIs(t, vote.Validate(), ErrInvalidBallotID)
}

func TestBodyRoundTrip(t *testing.T) {
	body, err := EncodeBody(&LocationPayload{Latitude: 47.37, Longitude: 8.54, Name: "Zurich"})
	require.NoError(t, err)

	var decoded LocationPayload
	require.NoError(t, DecodeBody(body, &decoded))
	assert.Equal(t, "Zurich", decoded.Name)
	assert.InDelta(t, 47.37, decoded.Latitude, 0.0001)
}

func TestRecordRecipientError(t *testing.T) {
	msg := New("grp-1", TypeText, ContentsTypeText, time.Now())
	msg.RecordRecipientError("MEMBER02", "session desync")
	assert.Equal(t, "session desync", msg.PerRecipientErrors["MEMBER02"])
}
