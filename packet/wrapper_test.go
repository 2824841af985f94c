package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	plaintext := []byte("sensitive payload")
	wrapped, err := Wrap(plaintext, PadRange{Max: 64}, PadRange{Max: 32})
	require.NoError(t, err)

	unwrapped, err := Unwrap(wrapped)
	require.NoError(t, err)
	assert.Equal(t, plaintext, unwrapped)
}

func TestWrapZeroMaxDegenerates(t *testing.T) {
	plaintext := []byte("no padding")
	wrapped, err := Wrap(plaintext, PadRange{Max: 0}, PadRange{Max: 0})
	require.NoError(t, err)

	assert.Equal(t, wrapperDescriptorSize+len(plaintext), len(wrapped))

	unwrapped, err := Unwrap(wrapped)
	require.NoError(t, err)
	assert.Equal(t, plaintext, unwrapped)
}

func TestWrapEmptyPlaintext(t *testing.T) {
	wrapped, err := Wrap(nil, PadRange{Max: 16}, PadRange{Max: 16})
	require.NoError(t, err)

	unwrapped, err := Unwrap(wrapped)
	require.NoError(t, err)
	assert.Empty(t, unwrapped)
}

func TestUnwrapTooShortFails(t *testing.T) {
	_, err := Unwrap([]byte{0, 0})
	assert.ErrorIs(t, err, ErrWrapperTooShort)
}

func TestUnwrapDeclaredLengthsExceedCarrier(t *testing.T) {
	// descriptor claims 10 prepend bytes but carrier has none
	bad := []byte{10, 0, 0, 0}
	_, err := Unwrap(bad)
	assert.ErrorIs(t, err, ErrWrapperTooShort)
}
