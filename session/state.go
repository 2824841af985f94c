package session

import (
	"sync"
	"time"

	"github.com/dtm-project/dtmcore/buffer"
	"github.com/dtm-project/dtmcore/crypto"
	"github.com/dtm-project/dtmcore/identity"
)

// Role identifies which side of the handshake this session plays.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// ExchangeStage is a handshake checkpoint, per spec §4.4. Stages advance
// strictly in the order listed here; Closed is terminal and reachable
// from any stage.
type ExchangeStage int

const (
	ExchangeConnect ExchangeStage = iota
	ExchangeInit
	ExchangePreAuth
	ExchangeAuthEx
	ExchangeAuth
	ExchangeSync
	ExchangePrimeEx
	ExchangePrimary
	ExchangeEstablished
	ExchangeClosed
)

func (s ExchangeStage) String() string {
	switch s {
	case ExchangeConnect:
		return "Connect"
	case ExchangeInit:
		return "Init"
	case ExchangePreAuth:
		return "PreAuth"
	case ExchangeAuthEx:
		return "AuthEx"
	case ExchangeAuth:
		return "Auth"
	case ExchangeSync:
		return "Sync"
	case ExchangePrimeEx:
		return "PrimeEx"
	case ExchangePrimary:
		return "Primary"
	case ExchangeEstablished:
		return "Established"
	case ExchangeClosed:
		return "Closed"
	default:
		return "unknown"
	}
}

// DefaultConnectionTimeout is the default keepalive-miss threshold
// (connection_timeout), per spec §4.8. Bounded to [1, 1024].
const DefaultConnectionTimeout = 10

// DefaultHandshakeTimeout bounds how long the 9-stage handshake may take
// before it is abandoned with SeverityCritical, per spec §4.4.
const DefaultHandshakeTimeout = 240 * time.Second

// State holds everything the core tracks for one peer connection: its
// handshake progress, its two keyed ciphers once established, its
// send/receive sequencing and buffering, and its liveness bookkeeping.
// Exported fields are read/written under Mu; callers outside the session
// package should hold Mu for anything beyond an atomic-ish single field
// read.
type State struct {
	Mu sync.Mutex

	Role  Role
	Stage ExchangeStage

	// SendCipher/RecvCipher are nil until the Primary-stage key exchange
	// completes at Established.
	SendCipher *crypto.CounterCipher
	RecvCipher *crypto.CounterCipher

	SendSequence uint64
	RecvSequence uint64

	SendBuffer *buffer.PacketBuffer
	RecvBuffer *buffer.PacketBuffer

	BytesSent     uint64
	BytesReceived uint64

	KeepaliveMisses   int
	ConnectionTimeout int
	ReconnectEnabled  bool

	PeerIdentity    *identity.DtmIdentity
	PeerParams      *identity.ParameterSet
	LocalIdentity   identity.DtmIdentity
	LocalParams     identity.ParameterSet

	Callbacks *Callbacks
}

// New creates a State for the given role with default buffers and
// timeout, ready to begin the handshake at ExchangeConnect.
func New(role Role, local identity.DtmIdentity, localParams identity.ParameterSet, cb *Callbacks) *State {
	return &State{
		Role:              role,
		Stage:             ExchangeConnect,
		SendBuffer:        buffer.New(buffer.DefaultCapacity),
		RecvBuffer:        buffer.New(buffer.DefaultCapacity),
		ConnectionTimeout: DefaultConnectionTimeout,
		LocalIdentity:     local,
		LocalParams:       localParams,
		Callbacks:         cb,
	}
}

// Advance moves the session to stage, but only forward (or to Closed from
// anywhere). Backward transitions are a no-op; callers that need to
// detect a stale/out-of-order advance should compare Stage before and
// after.
func (s *State) Advance(stage ExchangeStage) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if stage == ExchangeClosed || stage > s.Stage {
		s.Stage = stage
	}
}

// CurrentStage returns the session's current handshake stage.
func (s *State) CurrentStage() ExchangeStage {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.Stage
}

// Established reports whether the Primary-stage exchange has completed
// and both ciphers are keyed.
func (s *State) Established() bool {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.Stage == ExchangeEstablished && s.SendCipher != nil && s.RecvCipher != nil
}

// SetCiphers installs the post-exchange send/receive ciphers and marks
// the session Established, firing OnSessionEstablished.
func (s *State) SetCiphers(send, recv *crypto.CounterCipher) {
	s.Mu.Lock()
	s.SendCipher = send
	s.RecvCipher = recv
	s.Stage = ExchangeEstablished
	cb := s.Callbacks
	s.Mu.Unlock()

	cb.FireSessionEstablished(send, recv)
}

// NextSendSequence returns the next send sequence number and increments
// the counter.
func (s *State) NextSendSequence() uint64 {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	seq := s.SendSequence
	s.SendSequence++
	return seq
}

// RecordSent accounts for n encrypted bytes sent on the main channel.
func (s *State) RecordSent(n int) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.BytesSent += uint64(n)
}

// RecordReceived accounts for n encrypted bytes received on the main
// channel.
func (s *State) RecordReceived(n int) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.BytesReceived += uint64(n)
}

// ResetKeepaliveMisses clears the keepalive miss counter; the transport
// Dispatcher calls it when a KeepAlive service packet arrives from the
// peer.
func (s *State) ResetKeepaliveMisses() {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.KeepaliveMisses = 0
}

// IncrementKeepaliveMisses increments the miss counter and reports
// whether it has now reached ConnectionTimeout.
func (s *State) IncrementKeepaliveMisses() bool {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.KeepaliveMisses++
	return s.KeepaliveMisses >= s.ConnectionTimeout
}

// SetPeer records the peer's identity and parameter set, as learned
// across the Connect/Init/Auth/Sync stages.
func (s *State) SetPeer(id identity.DtmIdentity, params identity.ParameterSet) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.PeerIdentity = &id
	s.PeerParams = &params
}
