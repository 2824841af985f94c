// Package crypto implements the CryptoAdapter facade consumed by the DTM
// exchange and record layers.
//
// The package wraps three post-quantum KEM variants (Kyber512, Kyber768,
// Kyber1024 from github.com/cloudflare/circl) behind a single dispatch
// point keyed by the parameter set's OID byte 0, and wraps
// golang.org/x/crypto/chacha20 as the counter-mode symmetric primitive
// used by the post-handshake record layer.
//
// # Core Types
//
//   - [Adapter]: uniform facade over gen_keypair/encrypt/decrypt/derive_sym_key/cipher_init/transform
//   - [CounterCipher]: keyed chacha20 keystream cipher, advanced strictly by byte order
//   - [KEMVariant]: tagged enum selecting one of the three supported KEM families
//
// # Usage
//
//	adapter := crypto.NewAdapter()
//	kp, _ := adapter.GenKeyPair(crypto.KEMKyber768)
//	ct, _ := adapter.Encrypt(crypto.KEMKyber768, kp.Public, plaintext)
//	pt, _ := adapter.Decrypt(crypto.KEMKyber768, kp.Private, ct)
//	key, iv, _ := adapter.DeriveSymKey(session)
//	ctx, _ := adapter.CipherInit(session, key, iv)
//	adapter.Transform(ctx, buf, buf) // in-place counter-mode transform
//
// # Secure Memory Handling
//
// Key material should be wiped after use with [SecureWipe] or [ZeroBytes];
// both use constant-time XOR so the compiler cannot elide the write.
package crypto
