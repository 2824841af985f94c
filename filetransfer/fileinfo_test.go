package filetransfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestPayloadRoundTrip(t *testing.T) {
	r := requestPayload{
		Info: FileInfo{Name: "report.pdf", Length: 123456, Port: 40123},
		Key:  []byte("0123456789abcdef0123456789abcdef"),
		IV:   []byte("abcdefabcdef"),
	}

	data := r.serialize()
	got, err := parseRequestPayload(data)
	require.NoError(t, err)

	assert.Equal(t, r.Info, got.Info)
	assert.Equal(t, r.Key, got.Key)
	assert.Equal(t, r.IV, got.IV)
}

func TestRequestPayloadEmptyName(t *testing.T) {
	r := requestPayload{Info: FileInfo{Name: "", Length: 0, Port: 1}, Key: []byte{1}, IV: []byte{2}}
	got, err := parseRequestPayload(r.serialize())
	require.NoError(t, err)
	assert.Equal(t, "", got.Info.Name)
}

func TestParseRequestPayloadTooShortFails(t *testing.T) {
	_, err := parseRequestPayload([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrRequestTooShort)
}
