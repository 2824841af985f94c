package exchange

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtm-project/dtmcore/crypto"
	"github.com/dtm-project/dtmcore/identity"
	"github.com/dtm-project/dtmcore/packet"
	"github.com/dtm-project/dtmcore/session"
)

// pipeIO connects two Machines in-process: Send on one side delivers to
// the other side's Recv, in stage order, with no framing/transport
// involved.
type pipeIO struct {
	out chan stageMsg
	in  chan stageMsg
}

type stageMsg struct {
	flag    packet.ExchangeFlag
	payload []byte
}

func newPipePair() (*pipeIO, *pipeIO) {
	a := make(chan stageMsg, 16)
	b := make(chan stageMsg, 16)
	return &pipeIO{out: a, in: b}, &pipeIO{out: b, in: a}
}

func (p *pipeIO) Send(flag packet.ExchangeFlag, payload []byte) error {
	cp := append([]byte(nil), payload...)
	p.out <- stageMsg{flag: flag, payload: cp}
	return nil
}

func (p *pipeIO) Recv(ctx context.Context) (packet.ExchangeFlag, []byte, error) {
	select {
	case msg := <-p.in:
		return msg.flag, msg.payload, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func testConfig(publicID, secretID []byte) Config {
	return Config{
		PublicID:       publicID,
		SecretID:       secretID,
		AuthVariant:    crypto.KEMKyber512,
		PrimaryVariant: crypto.KEMKyber512,
		AuthSession: identity.DtmSession{
			CipherID: 0, KeySize: 32, IVSize: 12, RoundCount: 0, DigestID: byte(crypto.DigestSHA256),
		},
		PrimarySession: identity.DtmSession{
			CipherID: 0, KeySize: 32, IVSize: 12, RoundCount: 0, DigestID: byte(crypto.DigestSHA256),
		},
		Padding: identity.PaddingProfile{},
	}
}

func TestHandshakeEstablishesMatchingCiphers(t *testing.T) {
	ioA, ioB := newPipePair()

	var identityCountA, identityCountB int
	var mu sync.Mutex

	cbA := &session.Callbacks{
		OnIdentityReceived: func(stage session.Stage, id identity.DtmIdentity, cancel *bool) {
			mu.Lock()
			identityCountA++
			mu.Unlock()
		},
	}
	cbB := &session.Callbacks{
		OnIdentityReceived: func(stage session.Stage, id identity.DtmIdentity, cancel *bool) {
			mu.Lock()
			identityCountB++
			mu.Unlock()
		},
	}

	stateA := session.New(session.RoleClient, identity.DtmIdentity{IDBytes: []byte{3, 3, 3, 3}}, identity.ParameterSet{}, cbA)
	stateB := session.New(session.RoleServer, identity.DtmIdentity{IDBytes: []byte{4, 4, 4, 4}}, identity.ParameterSet{}, cbB)

	machineA := New(ioA, stateA, testConfig([]byte{3, 3, 3, 3}, []byte{5, 5, 5, 5}))
	machineB := New(ioB, stateB, testConfig([]byte{4, 4, 4, 4}, []byte{6, 6, 6, 6}))
	machineA.Timeout = 5 * time.Second
	machineB.Timeout = 5 * time.Second

	var errA, errB error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); errA = machineA.Run(context.Background()) }()
	go func() { defer wg.Done(); errB = machineB.Run(context.Background()) }()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB)

	assert.True(t, stateA.Established())
	assert.True(t, stateB.Established())
	assert.Equal(t, 4, identityCountA)
	assert.Equal(t, 4, identityCountB)

	plaintext := []byte("hello peer")
	ciphertext := make([]byte, len(plaintext))
	stateA.SendCipher.Transform(ciphertext, plaintext)
	recovered := make([]byte, len(ciphertext))
	stateB.RecvCipher.Transform(recovered, ciphertext)
	assert.Equal(t, plaintext, recovered)
}

func TestHandshakeCancelAtInit(t *testing.T) {
	ioA, ioB := newPipePair()

	cbA := &session.Callbacks{}
	cbB := &session.Callbacks{
		OnIdentityReceived: func(stage session.Stage, id identity.DtmIdentity, cancel *bool) {
			if stage == session.StageInit {
				*cancel = true
			}
		},
	}

	stateA := session.New(session.RoleClient, identity.DtmIdentity{IDBytes: []byte{1}}, identity.ParameterSet{}, cbA)
	stateB := session.New(session.RoleServer, identity.DtmIdentity{IDBytes: []byte{2}}, identity.ParameterSet{}, cbB)

	machineA := New(ioA, stateA, testConfig([]byte{1}, []byte{9}))
	machineB := New(ioB, stateB, testConfig([]byte{2}, []byte{8}))
	machineA.Timeout = 300 * time.Millisecond
	machineB.Timeout = 300 * time.Millisecond

	var errA, errB error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); errA = machineA.Run(context.Background()) }()
	go func() { defer wg.Done(); errB = machineB.Run(context.Background()) }()
	wg.Wait()

	assert.Error(t, errB)
	assert.ErrorIs(t, errB, ErrCancelled)
	assert.False(t, stateB.Established())
	assert.Error(t, errA)
}
