package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// DigestSelector names the hash function a DtmSession's KDF uses to
// stretch a shared secret into a key/iv pair. The zero value means "no
// KDF digest negotiated" (treated as SHA-256).
type DigestSelector byte

const (
	DigestNone    DigestSelector = 0
	DigestSHA256  DigestSelector = 1
	DigestSHA512  DigestSelector = 2
	DigestBLAKE2s DigestSelector = 3
)

// deriveKeyIVFromSecret stretches a KEM shared secret into a chacha20
// key/iv pair via HKDF-SHA256. Used internally by Encrypt/Decrypt's
// one-shot KEM-wrapped transform.
func deriveKeyIVFromSecret(secret []byte) (key, iv []byte, err error) {
	return DeriveKeyIV(DigestSHA256, secret, nil, chacha20.KeySize, chacha20.NonceSize)
}

// DeriveKeyIV stretches secret material into a key of keySize bytes and
// an iv of ivSize bytes using HKDF over the selected digest. info is an
// optional context label (e.g. "dtm-auth-stage") that domain-separates
// keys derived from the same secret for different purposes.
//
// Encrypt/Decrypt use it (with SHA-256) to key their one-shot cipher from
// a KEM shared secret. Adapter.DeriveSymKey, which generates a stage's
// fresh (key, iv), does not call it: that pair comes straight from
// crypto/rand via GenerateRandom below.
func DeriveKeyIV(digest DigestSelector, secret, info []byte, keySize, ivSize int) (key, iv []byte, err error) {
	var newHash func() hash.Hash
	switch digest {
	case DigestNone, DigestSHA256:
		newHash = sha256.New
	case DigestSHA512:
		newHash = sha512.New
	case DigestBLAKE2s:
		newHash = func() hash.Hash {
			h, _ := blake2s.New256(nil)
			return h
		}
	default:
		return nil, nil, fmt.Errorf("crypto: unsupported KDF digest selector %d", digest)
	}

	reader := hkdf.New(newHash, secret, nil, info)
	out := make([]byte, keySize+ivSize)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, nil, fmt.Errorf("crypto: hkdf expand: %w", err)
	}
	return out[:keySize], out[keySize:], nil
}

// GenerateRandom returns n cryptographically secure random bytes, used
// for MessageWrapper padding and delay-profile draws.
func GenerateRandom(n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.New("crypto: negative random length")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("crypto: random generation: %w", err)
	}
	return buf, nil
}
