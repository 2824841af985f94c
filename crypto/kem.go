package crypto

import (
	"errors"
	"fmt"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/kyber/kyber1024"
	"github.com/cloudflare/circl/kem/kyber/kyber512"
	"github.com/cloudflare/circl/kem/kyber/kyber768"
	"github.com/sirupsen/logrus"
)

// KEMVariant is the tagged enum selecting one of the three supported
// post-quantum KEM families. The wire value is carried in the parameter
// set OID's byte 0 (Auth-stage) or byte 4 (Primary-stage), per spec.
type KEMVariant byte

const (
	// KEMKyber512 selects circl's Kyber512 scheme (lowest security level).
	KEMKyber512 KEMVariant = 1
	// KEMKyber768 selects circl's Kyber768 scheme (recommended default).
	KEMKyber768 KEMVariant = 2
	// KEMKyber1024 selects circl's Kyber1024 scheme (highest security level).
	KEMKyber1024 KEMVariant = 3
)

// ErrUnknownKEMVariant is returned when an OID byte does not map to a
// supported KEM family.
var ErrUnknownKEMVariant = errors.New("crypto: unknown KEM variant tag")

// schemeFor dispatches a KEMVariant tag to its circl kem.Scheme singleton.
// This is the "dispatch by variant tag" boundary the spec requires of
// CryptoAdapter: all variant-specific logic is confined to this function.
func schemeFor(v KEMVariant) (kem.Scheme, error) {
	switch v {
	case KEMKyber512:
		return kyber512.Scheme(), nil
	case KEMKyber768:
		return kyber768.Scheme(), nil
	case KEMKyber1024:
		return kyber1024.Scheme(), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKEMVariant, v)
	}
}

// KEMKeyPair holds a generated or parsed KEM key pair along with the
// variant it belongs to, so later Encapsulate/Decapsulate calls dispatch
// correctly without re-deriving the variant from context.
type KEMKeyPair struct {
	Variant KEMVariant
	Public  kem.PublicKey
	Private kem.PrivateKey
}

// GenKeyPair generates a fresh KEM key pair for the requested variant.
func (a *Adapter) GenKeyPair(variant KEMVariant) (*KEMKeyPair, error) {
	scheme, err := schemeFor(variant)
	if err != nil {
		return nil, err
	}

	start := GetDefaultTimeProvider().Now()
	pub, priv, err := scheme.GenerateKeyPair()
	if err != nil {
		NewLogger("GenKeyPair").
			WithField("variant", variant).
			WithError(err, "kem_error", "generate_keypair").
			Error("KEM key pair generation failed")
		return nil, fmt.Errorf("kem keypair generation: %w", err)
	}

	NewLogger("GenKeyPair").WithFields(OperationFields("generate_keypair", "ok",
		logrus.Fields{"variant": variant, "elapsed": GetDefaultTimeProvider().Since(start)})).Debug("generated KEM key pair")

	return &KEMKeyPair{Variant: variant, Public: pub, Private: priv}, nil
}

// MarshalPublicKey returns the bit-exact wire form of a public key, used
// to serialize the PreAuth and PrimeEx stage payloads.
func (a *Adapter) MarshalPublicKey(pub kem.PublicKey) ([]byte, error) {
	return pub.(interface{ MarshalBinary() ([]byte, error) }).MarshalBinary()
}

// UnmarshalPublicKey parses the wire form of a public key for the given
// variant.
func (a *Adapter) UnmarshalPublicKey(variant KEMVariant, data []byte) (kem.PublicKey, error) {
	scheme, err := schemeFor(variant)
	if err != nil {
		return nil, err
	}
	pub, err := scheme.UnmarshalBinaryPublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal public key: %w", err)
	}
	return pub, nil
}

// Encrypt implements the spec's CryptoAdapter.encrypt(pk, plaintext) contract
// on top of a KEM, which natively only supports encapsulation (it cannot
// encrypt arbitrary caller-chosen plaintext with a public key). The
// construction: encapsulate against pk to obtain a one-time shared
// secret and KEM ciphertext, derive a counter-mode key/iv from the shared
// secret via HKDF, and transform plaintext under that one-shot cipher.
// Wire form: kem_ciphertext || transformed_plaintext.
//
// The composition exists because the spec describes encrypt/decrypt
// generically across asymmetric families, but a KEM cannot directly
// encrypt caller payloads.
func (a *Adapter) Encrypt(variant KEMVariant, pub kem.PublicKey, plaintext []byte) ([]byte, error) {
	scheme, err := schemeFor(variant)
	if err != nil {
		return nil, err
	}

	ct, ss, err := scheme.Encapsulate(pub)
	if err != nil {
		return nil, fmt.Errorf("kem encapsulate: %w", err)
	}
	defer ZeroBytes(ss)

	key, iv, err := deriveKeyIVFromSecret(ss)
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(key)

	cipherCtx, err := NewCounterCipher(key, iv)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext))
	cipherCtx.Transform(out, plaintext)

	wire := make([]byte, 0, len(ct)+len(out))
	wire = append(wire, ct...)
	wire = append(wire, out...)

	NewLogger("Encrypt").WithFields(SecureFieldHash(wire, "wire")).Debug("encapsulated and transformed plaintext")
	return wire, nil
}

// Decrypt implements the spec's CryptoAdapter.decrypt(sk, ciphertext)
// contract, the inverse of Encrypt: split the wire form into the KEM
// ciphertext prefix and the transformed payload suffix, decapsulate to
// recover the one-time shared secret, and invert the transform.
func (a *Adapter) Decrypt(variant KEMVariant, priv kem.PrivateKey, ciphertext []byte) ([]byte, error) {
	scheme, err := schemeFor(variant)
	if err != nil {
		return nil, err
	}

	ctSize := scheme.CiphertextSize()
	if len(ciphertext) < ctSize {
		return nil, errors.New("crypto: ciphertext shorter than kem ciphertext size")
	}

	ss, err := scheme.Decapsulate(priv, ciphertext[:ctSize])
	if err != nil {
		return nil, fmt.Errorf("kem decapsulate: %w", err)
	}
	defer ZeroBytes(ss)

	key, iv, err := deriveKeyIVFromSecret(ss)
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(key)

	cipherCtx, err := NewCounterCipher(key, iv)
	if err != nil {
		return nil, err
	}
	payload := ciphertext[ctSize:]
	out := make([]byte, len(payload))
	cipherCtx.Transform(out, payload)
	return out, nil
}
