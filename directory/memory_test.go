package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContactLookup(t *testing.T) {
	d := NewMemoryDirectory()
	var pk [32]byte
	pk[0] = 1
	d.AddContact("ECHOECHO", pk)

	state, err := d.ContactState("ECHOECHO")
	require.NoError(t, err)
	assert.Equal(t, StateActive, state)

	got, err := d.ContactPublicKey("ECHOECHO")
	require.NoError(t, err)
	assert.Equal(t, pk, got)

	_, err = d.ContactState("NOBODY")
	assert.ErrorIs(t, err, ErrUnknownIdentity)
}

func TestBlockList(t *testing.T) {
	d := NewMemoryDirectory()
	d.AddContact("ECHOECHO", [32]byte{})

	assert.False(t, d.IsBlocked("ECHOECHO"))
	d.SetBlocked("ECHOECHO", true)
	assert.True(t, d.IsBlocked("ECHOECHO"))
}

func TestMembershipSnapshots(t *testing.T) {
	d := NewMemoryDirectory()
	d.SetGroup("grp-1", []string{"A", "B"})

	members, err := d.GroupMembers("grp-1")
	require.NoError(t, err)

	// Mutating the returned slice must not affect the directory.
	members[0] = "X"
	again, err := d.GroupMembers("grp-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, again)

	_, err = d.GroupMembers("grp-2")
	assert.ErrorIs(t, err, ErrUnknownGroup)

	_, err = d.DistributionListMembers("dl-1")
	assert.ErrorIs(t, err, ErrUnknownDistributionList)
}

func TestConversationFlags(t *testing.T) {
	d := NewMemoryDirectory()

	require.NoError(t, d.SetHidden("ECHOECHO", true))
	require.NoError(t, d.SetArchived("ECHOECHO", true))
	assert.True(t, d.IsHidden("ECHOECHO"))
	assert.True(t, d.IsArchived("ECHOECHO"))

	require.NoError(t, d.SetHidden("ECHOECHO", false))
	assert.False(t, d.IsHidden("ECHOECHO"))

	assert.Zero(t, d.LastUpdate("ECHOECHO"))
	require.NoError(t, d.BumpLastUpdate("ECHOECHO"))
	assert.NotZero(t, d.LastUpdate("ECHOECHO"))
}
