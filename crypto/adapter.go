package crypto

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Adapter is the uniform facade over the asymmetric (KEM) and symmetric
// (counter-mode) primitives the DTM exchange and record layers consume.
// It has no state of its own; methods are pure dispatch over the variant
// tags carried on the wire. One Adapter may be shared across sessions.
type Adapter struct{}

// NewAdapter constructs a CryptoAdapter facade.
func NewAdapter() *Adapter {
	return &Adapter{}
}

// SymmetricSession describes the negotiated symmetric parameters for one
// stage of a handshake (Auth-stage or Primary-stage), mirroring the wire
// layout of DtmSession: cipher selector, key size, iv size, round count,
// and KDF digest selector. RoundCount has no effect on chacha20 (a
// stream cipher has no round parameter to vary) and is retained purely
// so two peers can detect a parameter-set mismatch before proceeding.
type SymmetricSession struct {
	CipherID   byte
	KeySize    int
	IVSize     int
	RoundCount int
	Digest     DigestSelector
}

// DeriveSymKey generates a fresh random (key, iv) pair sized for the
// given symmetric session. This realizes the AuthEx/Primary stage step
// of generating one's own half of the channel: each peer calls this
// once per stage and sends the result to its peer under the stage's
// asymmetric encryption.
func (a *Adapter) DeriveSymKey(session SymmetricSession) (key, iv []byte, err error) {
	key, err = GenerateRandom(session.KeySize)
	if err != nil {
		return nil, nil, err
	}
	iv, err = GenerateRandom(session.IVSize)
	if err != nil {
		ZeroBytes(key)
		return nil, nil, err
	}
	return key, iv, nil
}

// CipherInit constructs a keyed CounterCipher for the given symmetric
// session's cipher. Only chacha20 counter-mode is currently supported;
// CipherID is retained on the wire for future negotiation but the
// adapter rejects any value other than 0 (chacha20) today.
func (a *Adapter) CipherInit(session SymmetricSession, key, iv []byte) (*CounterCipher, error) {
	if session.CipherID != 0 {
		return nil, fmt.Errorf("crypto: unsupported cipher id %d", session.CipherID)
	}
	NewLogger("CipherInit").WithFields(OperationFields("cipher_init", "start", logrus.Fields{
		"cipher_id": session.CipherID,
		"key_size":  len(key),
		"iv_size":   len(iv),
	})).Debug("initializing counter-mode cipher context")
	return NewCounterCipher(key, iv)
}

// Transform applies the keystream of ctx to src, writing into dst.
// Exposed at the adapter level so callers that hold only an Adapter
// reference (not a concrete *CounterCipher) can still satisfy the
// spec's transform(ctx, bytes) contract.
func (a *Adapter) Transform(ctx *CounterCipher, dst, src []byte) {
	ctx.Transform(dst, src)
}
