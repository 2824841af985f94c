package filetransfer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtm-project/dtmcore/crypto"
	"github.com/dtm-project/dtmcore/identity"
	"github.com/dtm-project/dtmcore/packet"
	"github.com/dtm-project/dtmcore/session"
)

// routeSender delivers a Send call directly into a peer Manager's
// HandlePacket, standing in for a TransportDispatcher wiring two
// processes together over the main channel.
type routeSender struct {
	target *Manager
}

func (r *routeSender) Send(h packet.Header, payload []byte) error {
	return r.target.HandlePacket(h, payload)
}

func establishedManagerPair(t *testing.T) (*Manager, *session.State, *Manager, *session.State) {
	t.Helper()

	keyA, err := crypto.GenerateRandom(32)
	require.NoError(t, err)
	ivA, err := crypto.GenerateRandom(12)
	require.NoError(t, err)
	keyB, err := crypto.GenerateRandom(32)
	require.NoError(t, err)
	ivB, err := crypto.GenerateRandom(12)
	require.NoError(t, err)

	params := identity.ParameterSet{
		PrimarySession: identity.DtmSession{KeySize: 32, IVSize: 12},
	}

	stateA := session.New(session.RoleClient, identity.DtmIdentity{}, params, &session.Callbacks{})
	stateB := session.New(session.RoleServer, identity.DtmIdentity{}, params, &session.Callbacks{})

	sendA, err := crypto.NewCounterCipher(keyA, ivA)
	require.NoError(t, err)
	recvA, err := crypto.NewCounterCipher(keyB, ivB)
	require.NoError(t, err)
	sendB, err := crypto.NewCounterCipher(keyB, ivB)
	require.NoError(t, err)
	recvB, err := crypto.NewCounterCipher(keyA, ivA)
	require.NoError(t, err)

	stateA.SetCiphers(sendA, recvA)
	stateB.SetCiphers(sendB, recvB)

	senderToB := &routeSender{}
	senderToA := &routeSender{}
	mgrA := NewManager(stateA, senderToB)
	mgrB := NewManager(stateB, senderToA)
	senderToB.target = mgrB
	senderToA.target = mgrA

	return mgrA, stateA, mgrB, stateB
}

func TestSendFileRoundTrip(t *testing.T) {
	mgrA, stateA, mgrB, stateB := establishedManagerPair(t)

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source.bin")
	content := make([]byte, 3*ChunkSize+17)
	for i := range content {
		content[i] = byte(i % 251)
	}
	require.NoError(t, os.WriteFile(srcPath, content, 0o600))

	destPath := filepath.Join(dir, "dest.bin")
	var requestedName string
	stateB.Callbacks.OnFileRequest = func(name string, dest *string, cancel *bool) {
		requestedName = name
		*dest = destPath
	}

	doneA := make(chan uint64, 1)
	doneB := make(chan uint64, 1)
	stateA.Callbacks.OnFileSent = func(fileID uint64) { doneA <- fileID }
	stateB.Callbacks.OnFileReceived = func(fileID uint64) { doneB <- fileID }

	fileID, err := mgrA.SendFile(srcPath)
	require.NoError(t, err)

	select {
	case id := <-doneB:
		assert.Equal(t, fileID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for receiver completion")
	}
	select {
	case id := <-doneA:
		assert.Equal(t, fileID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sender acknowledgment")
	}

	assert.Equal(t, "source.bin", requestedName)
	got, err := os.ReadFile(destPath)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	assert.Equal(t, 0, mgrA.Len())
	assert.Equal(t, 0, mgrB.Len())
}

func TestSendFileRefused(t *testing.T) {
	mgrA, stateA, mgrB, stateB := establishedManagerPair(t)

	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source.bin")
	require.NoError(t, os.WriteFile(srcPath, []byte("small file"), 0o600))

	stateB.Callbacks.OnFileRequest = func(name string, dest *string, cancel *bool) {
		*cancel = true
	}

	var gotErr error
	errCh := make(chan struct{}, 1)
	stateA.Callbacks.OnSessionError = func(err error, severity session.Severity, cancel *bool) {
		gotErr = err
		errCh <- struct{}{}
	}

	fileID, err := mgrA.SendFile(srcPath)
	require.NoError(t, err)

	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for refusal to propagate")
	}

	assert.Error(t, gotErr)
	assert.Equal(t, 0, mgrA.Len())
	assert.Equal(t, 0, mgrB.Len())
	_ = fileID
}

func TestSendFileBeforeEstablishedFails(t *testing.T) {
	state := session.New(session.RoleClient, identity.DtmIdentity{}, identity.ParameterSet{}, &session.Callbacks{})
	mgr := NewManager(state, &routeSender{})

	_, err := mgr.SendFile("/nonexistent/path")
	assert.ErrorIs(t, err, ErrNotEstablished)
}
