package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResyncPayloadWireRoundTrip(t *testing.T) {
	p := ResyncPayload{BytesSent: 123456789, Ciphertext: []byte{1, 2, 3, 4, 5}}
	got, err := ParseResyncPayload(SerializeResyncPayload(p))
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestParseResyncPayloadTooShortFails(t *testing.T) {
	_, err := ParseResyncPayload([]byte{1, 2, 3})
	assert.Error(t, err)
}
