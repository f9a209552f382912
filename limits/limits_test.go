package limits

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSize(t *testing.T) {
	assert.NoError(t, ValidateSize([]byte("ok"), 10))
	assert.ErrorIs(t, ValidateSize(nil, 10), ErrPayloadEmpty)
	assert.ErrorIs(t, ValidateSize([]byte("too long"), 3), ErrPayloadTooLarge)
}

func TestValidateText(t *testing.T) {
	assert.NoError(t, ValidateText("hello"))
	assert.ErrorIs(t, ValidateText(""), ErrPayloadEmpty)
	assert.ErrorIs(t, ValidateText(strings.Repeat("x", MaxTextBytes+1)), ErrPayloadTooLarge)
}
