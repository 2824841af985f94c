package crypto

import (
	"fmt"

	"golang.org/x/crypto/chacha20"
)

// CounterCipher wraps a chacha20 keystream cipher keyed for one direction
// of a session. It satisfies the spec's cipher_init/transform contract:
// transform consumes the keystream strictly in call order and supports
// in-place operation. There is no independent re-seek operation other
// than consuming dummy bytes, matching the Resync protocol's "decrypt
// delta bytes of dummy input, discard output" recovery step.
type CounterCipher struct {
	stream *chacha20.Cipher
}

// NewCounterCipher derives a keyed counter-mode cipher instance from a
// key and IV (nonce). Key must be 32 bytes; iv must be 12 or 24 bytes
// (chacha20.NonceSize or chacha20.NonceSizeX) per the negotiated
// DtmSession IV size.
func NewCounterCipher(key, iv []byte) (*CounterCipher, error) {
	if len(key) != chacha20.KeySize {
		return nil, fmt.Errorf("crypto: counter cipher key must be %d bytes, got %d", chacha20.KeySize, len(key))
	}
	if len(iv) != chacha20.NonceSize && len(iv) != chacha20.NonceSizeX {
		return nil, fmt.Errorf("crypto: counter cipher iv must be %d or %d bytes, got %d",
			chacha20.NonceSize, chacha20.NonceSizeX, len(iv))
	}

	stream, err := chacha20.NewUnauthenticatedCipher(key, iv)
	if err != nil {
		return nil, fmt.Errorf("crypto: counter cipher init: %w", err)
	}
	return &CounterCipher{stream: stream}, nil
}

// Transform applies the keystream to src and writes the result to dst.
// dst and src may alias for in-place operation. Calling Transform
// advances the keystream position irreversibly; callers must invoke it
// in the exact order bytes cross the wire, per the spec's keystream
// ordering invariant.
func (c *CounterCipher) Transform(dst, src []byte) {
	c.stream.XORKeyStream(dst, src)
}

// Discard advances the keystream by n bytes without producing usable
// output, used by the Resync protocol to realign recv_cipher after a
// peer reports having sent bytes this side never observed.
func (c *CounterCipher) Discard(n int) {
	if n <= 0 {
		return
	}
	dummy := make([]byte, n)
	c.stream.XORKeyStream(dummy, dummy)
}
