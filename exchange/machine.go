// Package exchange implements ExchangeStateMachine, the strict
// nine-stage handshake that establishes the Auth-stage and Primary-stage
// symmetric channels over a pair of post-quantum KEM exchanges, per spec
// §4.4.
//
// The machine is transport-agnostic: it is driven through the PacketIO
// interface so the same state machine can be exercised by the real
// TransportDispatcher or by an in-memory pipe in tests.
package exchange

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dtm-project/dtmcore/crypto"
	"github.com/dtm-project/dtmcore/identity"
	"github.com/dtm-project/dtmcore/packet"
	"github.com/dtm-project/dtmcore/session"
)

// ErrCancelled is returned when the application's identity callback sets
// its cancel flag during the handshake.
var ErrCancelled = errors.New("exchange: application cancelled handshake")

// PacketIO is the minimal send/receive surface the exchange machine
// needs from the transport layer: framed Exchange-type packets in, one
// stage at a time, matching the peer's step for step.
type PacketIO interface {
	Send(flag packet.ExchangeFlag, payload []byte) error
	Recv(ctx context.Context) (packet.ExchangeFlag, []byte, error)
}

// Config carries the local identity and negotiated parameters the
// machine needs to run both stages of the exchange. Both peers must
// agree on AuthVariant, PrimaryVariant, AuthSession, and PrimarySession
// ahead of time (normally via the ParameterSet OID negotiated out of
// band); the machine does not negotiate parameters itself, only
// advertises and validates identities.
type Config struct {
	PublicID []byte
	SecretID []byte

	AuthVariant    crypto.KEMVariant
	PrimaryVariant crypto.KEMVariant
	AuthSession    identity.DtmSession
	PrimarySession identity.DtmSession

	Padding identity.PaddingProfile
}

// Machine drives one session's handshake to completion.
type Machine struct {
	IO      PacketIO
	State   *session.State
	Adapter *crypto.Adapter
	Config  Config
	Timeout time.Duration
}

// New constructs a Machine with the default handshake timeout.
func New(io PacketIO, state *session.State, cfg Config) *Machine {
	return &Machine{
		IO:      io,
		State:   state,
		Adapter: crypto.NewAdapter(),
		Config:  cfg,
		Timeout: session.DefaultHandshakeTimeout,
	}
}

// Run executes all nine stages in order, returning once the session
// reaches Established (both ciphers keyed) or a failure occurs. Every
// failure path fires OnSessionError with SeverityCritical before
// returning, per spec §4.4/§7.
func (m *Machine) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	if err := m.runStages(ctx); err != nil {
		m.State.Callbacks.FireSessionError(err, session.SeverityCritical)
		m.State.Advance(session.ExchangeClosed)
		return err
	}
	return nil
}

func (m *Machine) runStages(ctx context.Context) error {
	if err := m.stageConnect(ctx); err != nil {
		return fmt.Errorf("exchange: connect: %w", err)
	}
	if err := m.stageInit(ctx); err != nil {
		return fmt.Errorf("exchange: init: %w", err)
	}

	authKeyPair, peerAuthPub, err := m.stagePreAuth(ctx)
	if err != nil {
		return fmt.Errorf("exchange: preauth: %w", err)
	}

	ownAuthKey, ownAuthIV, peerAuthKey, peerAuthIV, err := m.stageAuthEx(ctx, authKeyPair, peerAuthPub)
	if err != nil {
		return fmt.Errorf("exchange: authex: %w", err)
	}
	defer crypto.ZeroBytes(ownAuthKey)
	defer crypto.ZeroBytes(peerAuthKey)

	authSend, err := m.Adapter.CipherInit(authSymSession(m.Config.AuthSession), ownAuthKey, ownAuthIV)
	if err != nil {
		return fmt.Errorf("exchange: auth send cipher: %w", err)
	}
	authRecv, err := m.Adapter.CipherInit(authSymSession(m.Config.AuthSession), peerAuthKey, peerAuthIV)
	if err != nil {
		return fmt.Errorf("exchange: auth recv cipher: %w", err)
	}

	if err := m.stageAuth(ctx, authSend, authRecv); err != nil {
		return fmt.Errorf("exchange: auth: %w", err)
	}
	if err := m.stageSync(ctx, authSend, authRecv); err != nil {
		return fmt.Errorf("exchange: sync: %w", err)
	}

	primaryKeyPair, peerPrimaryPub, err := m.stagePrimeEx(ctx, authSend, authRecv)
	if err != nil {
		return fmt.Errorf("exchange: primeex: %w", err)
	}

	ownPrimaryKey, ownPrimaryIV, peerPrimaryKey, peerPrimaryIV, err :=
		m.stagePrimary(ctx, authSend, authRecv, primaryKeyPair, peerPrimaryPub)
	if err != nil {
		return fmt.Errorf("exchange: primary: %w", err)
	}
	defer crypto.ZeroBytes(ownPrimaryKey)
	defer crypto.ZeroBytes(peerPrimaryKey)

	if err := m.stageEstablished(ctx); err != nil {
		return fmt.Errorf("exchange: established: %w", err)
	}

	sendCipher, err := m.Adapter.CipherInit(authSymSession(m.Config.PrimarySession), ownPrimaryKey, ownPrimaryIV)
	if err != nil {
		return fmt.Errorf("exchange: primary send cipher: %w", err)
	}
	recvCipher, err := m.Adapter.CipherInit(authSymSession(m.Config.PrimarySession), peerPrimaryKey, peerPrimaryIV)
	if err != nil {
		return fmt.Errorf("exchange: primary recv cipher: %w", err)
	}

	m.State.SetCiphers(sendCipher, recvCipher)
	return nil
}

func authSymSession(s identity.DtmSession) crypto.SymmetricSession {
	return crypto.SymmetricSession{
		CipherID:   s.CipherID,
		KeySize:    int(s.KeySize),
		IVSize:     int(s.IVSize),
		RoundCount: int(s.RoundCount),
		Digest:     crypto.DigestSelector(s.DigestID),
	}
}

// stageConnect exchanges each peer's public_id under a zero pke_id and
// default session, per spec stage 1.
func (m *Machine) stageConnect(ctx context.Context) error {
	m.State.Advance(session.ExchangeConnect)

	own := identity.DtmIdentity{IDBytes: m.Config.PublicID}
	if err := m.IO.Send(packet.FlagConnect, own.Serialize()); err != nil {
		return err
	}

	peer, err := m.recvIdentity(ctx, packet.FlagConnect)
	if err != nil {
		return err
	}
	if m.State.Callbacks.FireIdentityReceived(session.StageConnect, peer) {
		return ErrCancelled
	}
	return nil
}

// stageInit exchanges full identities carrying the negotiated Auth
// session parameters, per spec stage 2.
func (m *Machine) stageInit(ctx context.Context) error {
	m.State.Advance(session.ExchangeInit)

	own := identity.DtmIdentity{IDBytes: m.Config.PublicID, Session: m.Config.AuthSession}
	if err := m.IO.Send(packet.FlagInit, own.Serialize()); err != nil {
		return err
	}

	peer, err := m.recvIdentity(ctx, packet.FlagInit)
	if err != nil {
		return err
	}
	if m.State.Callbacks.FireIdentityReceived(session.StageInit, peer) {
		return ErrCancelled
	}
	return nil
}

// stagePreAuth exchanges bit-exact Auth-stage KEM public keys, per spec
// stage 3.
func (m *Machine) stagePreAuth(ctx context.Context) (*crypto.KEMKeyPair, []byte, error) {
	m.State.Advance(session.ExchangePreAuth)

	keyPair, err := m.Adapter.GenKeyPair(m.Config.AuthVariant)
	if err != nil {
		return nil, nil, err
	}
	ownPub, err := m.Adapter.MarshalPublicKey(keyPair.Public)
	if err != nil {
		return nil, nil, err
	}
	if err := m.IO.Send(packet.FlagPreAuth, ownPub); err != nil {
		return nil, nil, err
	}

	peerPub, err := m.recvRaw(ctx, packet.FlagPreAuth)
	if err != nil {
		return nil, nil, err
	}
	return keyPair, peerPub, nil
}

// stageAuthEx exchanges Auth-stage symmetric (key, iv) pairs, each
// asymmetrically encrypted under the peer's PreAuth public key, per spec
// stage 4.
func (m *Machine) stageAuthEx(ctx context.Context, own *crypto.KEMKeyPair, peerPubBytes []byte) (ownKey, ownIV, peerKey, peerIV []byte, err error) {
	m.State.Advance(session.ExchangeAuthEx)

	if err = sleepProfile(m.Config.Padding.MaxAsmKeyDelayMs); err != nil {
		return nil, nil, nil, nil, err
	}

	ownKey, ownIV, err = m.Adapter.DeriveSymKey(authSymSession(m.Config.AuthSession))
	if err != nil {
		return nil, nil, nil, nil, err
	}

	peerPub, err := m.Adapter.UnmarshalPublicKey(m.Config.AuthVariant, peerPubBytes)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	plaintext := append(append([]byte{}, ownKey...), ownIV...)
	ciphertext, err := m.Adapter.Encrypt(m.Config.AuthVariant, peerPub, plaintext)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err = m.IO.Send(packet.FlagAuthEx, ciphertext); err != nil {
		return nil, nil, nil, nil, err
	}

	peerCiphertext, err := m.recvRaw(ctx, packet.FlagAuthEx)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	peerPlaintext, err := m.Adapter.Decrypt(m.Config.AuthVariant, own.Private, peerCiphertext)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	keySize := int(m.Config.AuthSession.KeySize)
	if len(peerPlaintext) < keySize {
		return nil, nil, nil, nil, errors.New("exchange: authex payload too short")
	}
	peerKey = peerPlaintext[:keySize]
	peerIV = peerPlaintext[keySize:]
	return ownKey, ownIV, peerKey, peerIV, nil
}

// stageAuth exchanges each peer's secret_id, padded and encrypted under
// the sender's own Auth-stage send cipher, per spec stage 5.
func (m *Machine) stageAuth(ctx context.Context, send, recv *crypto.CounterCipher) error {
	m.State.Advance(session.ExchangeAuth)

	own := identity.DtmIdentity{IDBytes: m.Config.SecretID}
	wrapped, err := packet.Wrap(own.Serialize(),
		packet.PadRange{Max: m.Config.Padding.MaxAuthPrepend},
		packet.PadRange{Max: m.Config.Padding.MaxAuthAppend})
	if err != nil {
		return err
	}
	ciphertext := make([]byte, len(wrapped))
	send.Transform(ciphertext, wrapped)
	if err := m.IO.Send(packet.FlagAuth, ciphertext); err != nil {
		return err
	}

	peerCiphertext, err := m.recvRaw(ctx, packet.FlagAuth)
	if err != nil {
		return err
	}
	peerWrapped := make([]byte, len(peerCiphertext))
	recv.Transform(peerWrapped, peerCiphertext)
	peerPlain, err := packet.Unwrap(peerWrapped)
	if err != nil {
		return err
	}
	peer, err := identity.ParseDtmIdentity(peerPlain)
	if err != nil {
		return err
	}
	if m.State.Callbacks.FireIdentityReceived(session.StageAuth, peer) {
		return ErrCancelled
	}
	return nil
}

// stageSync exchanges each peer's secret_id again, this time carrying
// the negotiated Primary-stage session parameters, per spec stage 6.
func (m *Machine) stageSync(ctx context.Context, send, recv *crypto.CounterCipher) error {
	m.State.Advance(session.ExchangeSync)

	own := identity.DtmIdentity{IDBytes: m.Config.SecretID, Session: m.Config.PrimarySession}
	wrapped, err := packet.Wrap(own.Serialize(),
		packet.PadRange{Max: m.Config.Padding.MaxAuthPrepend},
		packet.PadRange{Max: m.Config.Padding.MaxAuthAppend})
	if err != nil {
		return err
	}
	ciphertext := make([]byte, len(wrapped))
	send.Transform(ciphertext, wrapped)
	if err := m.IO.Send(packet.FlagSync, ciphertext); err != nil {
		return err
	}

	peerCiphertext, err := m.recvRaw(ctx, packet.FlagSync)
	if err != nil {
		return err
	}
	peerWrapped := make([]byte, len(peerCiphertext))
	recv.Transform(peerWrapped, peerCiphertext)
	peerPlain, err := packet.Unwrap(peerWrapped)
	if err != nil {
		return err
	}
	peer, err := identity.ParseDtmIdentity(peerPlain)
	if err != nil {
		return err
	}
	if m.State.Callbacks.FireIdentityReceived(session.StageSync, peer) {
		return ErrCancelled
	}
	return nil
}

// stagePrimeEx exchanges Primary-stage KEM public keys, wrapped in
// random padding and encrypted under the Auth-stage symmetric channel,
// per spec stage 7.
func (m *Machine) stagePrimeEx(ctx context.Context, send, recv *crypto.CounterCipher) (*crypto.KEMKeyPair, []byte, error) {
	m.State.Advance(session.ExchangePrimeEx)

	if err := sleepProfile(m.Config.Padding.MaxSymKeyDelayMs); err != nil {
		return nil, nil, err
	}

	keyPair, err := m.Adapter.GenKeyPair(m.Config.PrimaryVariant)
	if err != nil {
		return nil, nil, err
	}
	ownPub, err := m.Adapter.MarshalPublicKey(keyPair.Public)
	if err != nil {
		return nil, nil, err
	}
	wrapped, err := packet.Wrap(ownPub,
		packet.PadRange{Max: m.Config.Padding.MaxSymKeyPrepend},
		packet.PadRange{Max: m.Config.Padding.MaxSymKeyAppend})
	if err != nil {
		return nil, nil, err
	}
	ciphertext := make([]byte, len(wrapped))
	send.Transform(ciphertext, wrapped)
	if err := m.IO.Send(packet.FlagPrimeEx, ciphertext); err != nil {
		return nil, nil, err
	}

	peerCiphertext, err := m.recvRaw(ctx, packet.FlagPrimeEx)
	if err != nil {
		return nil, nil, err
	}
	peerWrapped := make([]byte, len(peerCiphertext))
	recv.Transform(peerWrapped, peerCiphertext)
	peerPubBytes, err := packet.Unwrap(peerWrapped)
	if err != nil {
		return nil, nil, err
	}
	return keyPair, peerPubBytes, nil
}

// stagePrimary exchanges Primary-stage symmetric (key, iv) pairs,
// asymmetrically encrypted, wrapped, and re-encrypted under the
// Auth-stage symmetric channel, per spec stage 8.
func (m *Machine) stagePrimary(ctx context.Context, send, recv *crypto.CounterCipher,
	own *crypto.KEMKeyPair, peerPubBytes []byte) (ownKey, ownIV, peerKey, peerIV []byte, err error) {
	m.State.Advance(session.ExchangePrimary)

	if err = sleepProfile(m.Config.Padding.MaxAsmKeyDelayMs); err != nil {
		return nil, nil, nil, nil, err
	}

	ownKey, ownIV, err = m.Adapter.DeriveSymKey(authSymSession(m.Config.PrimarySession))
	if err != nil {
		return nil, nil, nil, nil, err
	}
	peerPub, err := m.Adapter.UnmarshalPublicKey(m.Config.PrimaryVariant, peerPubBytes)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	plaintext := append(append([]byte{}, ownKey...), ownIV...)
	innerCiphertext, err := m.Adapter.Encrypt(m.Config.PrimaryVariant, peerPub, plaintext)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	wrapped, err := packet.Wrap(innerCiphertext,
		packet.PadRange{Max: m.Config.Padding.MaxAsmKeyPrepend},
		packet.PadRange{Max: m.Config.Padding.MaxAsmKeyAppend})
	if err != nil {
		return nil, nil, nil, nil, err
	}
	outerCiphertext := make([]byte, len(wrapped))
	send.Transform(outerCiphertext, wrapped)
	if err = m.IO.Send(packet.FlagPrimary, outerCiphertext); err != nil {
		return nil, nil, nil, nil, err
	}

	peerOuterCiphertext, err := m.recvRaw(ctx, packet.FlagPrimary)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	peerWrapped := make([]byte, len(peerOuterCiphertext))
	recv.Transform(peerWrapped, peerOuterCiphertext)
	peerInnerCiphertext, err := packet.Unwrap(peerWrapped)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	peerPlaintext, err := m.Adapter.Decrypt(m.Config.PrimaryVariant, own.Private, peerInnerCiphertext)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	keySize := int(m.Config.PrimarySession.KeySize)
	if len(peerPlaintext) < keySize {
		return nil, nil, nil, nil, errors.New("exchange: primary payload too short")
	}
	peerKey = peerPlaintext[:keySize]
	peerIV = peerPlaintext[keySize:]
	return ownKey, ownIV, peerKey, peerIV, nil
}

// stageEstablished exchanges the empty-body acknowledgment that closes
// the handshake, per spec stage 9.
func (m *Machine) stageEstablished(ctx context.Context) error {
	if err := m.IO.Send(packet.FlagEstablished, nil); err != nil {
		return err
	}
	_, err := m.recvRaw(ctx, packet.FlagEstablished)
	return err
}

func (m *Machine) recvRaw(ctx context.Context, want packet.ExchangeFlag) ([]byte, error) {
	flag, payload, err := m.IO.Recv(ctx)
	if err != nil {
		return nil, err
	}
	if flag != want {
		return nil, fmt.Errorf("exchange: expected stage %s, got %s", want, flag)
	}
	return payload, nil
}

func (m *Machine) recvIdentity(ctx context.Context, want packet.ExchangeFlag) (identity.DtmIdentity, error) {
	payload, err := m.recvRaw(ctx, want)
	if err != nil {
		return identity.DtmIdentity{}, err
	}
	return identity.ParseDtmIdentity(payload)
}

// sleepProfile blocks for a uniformly-chosen duration in
// [maxMs/2, maxMs] milliseconds, or returns immediately if maxMs is 0,
// per spec §4.4's timing-obfuscation delays.
func sleepProfile(maxMs uint32) error {
	if maxMs == 0 {
		return nil
	}
	lo := maxMs / 2
	span := maxMs - lo + 1
	raw, err := crypto.GenerateRandom(4)
	if err != nil {
		return err
	}
	ms := lo + binary.LittleEndian.Uint32(raw)%span
	tp := crypto.GetDefaultTimeProvider()
	start := tp.Now()
	time.Sleep(time.Duration(ms) * time.Millisecond)
	logrus.WithFields(logrus.Fields{
		"function": "sleepProfile",
		"delay_ms": ms,
		"elapsed":  tp.Since(start),
	}).Debug("applied handshake timing delay")
	return nil
}
