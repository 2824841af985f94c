package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaddingProfileRoundTrip(t *testing.T) {
	p := PaddingProfile{
		MaxAsmKeyAppend:   10,
		MaxAsmKeyPrepend:  20,
		MaxAuthAppend:     30,
		MaxAuthPrepend:    40,
		MaxSymKeyAppend:   50,
		MaxSymKeyPrepend:  60,
		MaxMessageAppend:  70,
		MaxMessagePrepend: 80,
		MaxAsmKeyDelayMs:  100,
		MaxSymKeyDelayMs:  200,
		MaxMessageDelayMs: 300,
	}
	parsed, err := ParsePaddingProfile(p.Serialize())
	require.NoError(t, err)
	assert.Equal(t, p, parsed)
}

func TestZeroPaddingProfileRoundTrips(t *testing.T) {
	var p PaddingProfile
	parsed, err := ParsePaddingProfile(p.Serialize())
	require.NoError(t, err)
	assert.Equal(t, p, parsed)
}

func TestDtmIdentityRoundTrip(t *testing.T) {
	d := DtmIdentity{
		IDBytes:    []byte{3, 3, 3, 3},
		PKEID:      [16]byte{1, 2, 3},
		Session:    DtmSession{CipherID: 1, KeySize: 32, IVSize: 12, RoundCount: 0, DigestID: 1},
		OptionFlag: 42,
	}
	parsed, err := ParseDtmIdentity(d.Serialize())
	require.NoError(t, err)
	assert.Equal(t, d, parsed)
}

func TestDtmIdentityEmptyID(t *testing.T) {
	d := DtmIdentity{IDBytes: []byte{}}
	parsed, err := ParseDtmIdentity(d.Serialize())
	require.NoError(t, err)
	assert.Equal(t, 0, len(parsed.IDBytes))
}

func TestParseDtmIdentityTruncated(t *testing.T) {
	_, err := ParseDtmIdentity([]byte{1})
	assert.Error(t, err)
}

func TestSecurityClass(t *testing.T) {
	var oid ParameterSetOID
	oid[0], oid[1] = 0xAA, 0xBB
	assert.Equal(t, [2]byte{0xAA, 0xBB}, oid.SecurityClass())
}
