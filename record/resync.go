package record

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dtm-project/dtmcore/packet"
	"github.com/dtm-project/dtmcore/session"
)

// ErrKeystreamBehind is returned when a peer's Resync response reports
// fewer bytes sent than this side has already received: the local
// recv_cipher has run ahead of the peer's send_cipher, which the
// protocol treats as unrecoverable, per spec §4.7.
var ErrKeystreamBehind = errors.New("record: resync delta negative, keystream desynchronized")

// ResyncPayload is option_flag = bytes_sent at construction time
// (including the bytes of this payload's own ciphertext), and
// payload = encrypt(send_cipher, wrap(identity.secret_id)), per spec
// §4.7.
type ResyncPayload struct {
	BytesSent  uint64
	Ciphertext []byte
}

// BuildResync constructs this side's Resync response to a peer's
// DataLost, encrypting its own secret_id under its current send_cipher
// so the peer can verify the session hasn't silently drifted to a
// different identity.
func (l *Layer) BuildResync(secretID []byte) (ResyncPayload, error) {
	wrapped, err := packet.Wrap(secretID,
		packet.PadRange{Max: l.Padding.MaxAuthPrepend},
		packet.PadRange{Max: l.Padding.MaxAuthAppend})
	if err != nil {
		return ResyncPayload{}, fmt.Errorf("record: resync wrap: %w", err)
	}

	l.State.Mu.Lock()
	ciphertext := make([]byte, len(wrapped))
	l.State.SendCipher.Transform(ciphertext, wrapped)
	l.State.BytesSent += uint64(len(ciphertext))
	bytesSent := l.State.BytesSent
	l.State.Mu.Unlock()

	return ResyncPayload{BytesSent: bytesSent, Ciphertext: ciphertext}, nil
}

// ApplyResync consumes a peer's Resync response: it computes the
// keystream delta, advances recv_cipher past any bytes the peer sent
// that this side never observed, decrypts and unwraps the peer's
// identity proof, and compares it against the stored peer identity.
// Any mismatch, or a negative delta, is a data-loss failure.
func (l *Layer) ApplyResync(resp ResyncPayload) error {
	l.State.Mu.Lock()
	bytesReceived := l.State.BytesReceived
	delta := int64(resp.BytesSent) - int64(len(resp.Ciphertext)) - int64(bytesReceived)
	if delta < 0 {
		l.State.Mu.Unlock()
		return ErrKeystreamBehind
	}
	if delta > 0 {
		l.State.RecvCipher.Discard(int(delta))
	}
	plain := make([]byte, len(resp.Ciphertext))
	l.State.RecvCipher.Transform(plain, resp.Ciphertext)
	l.State.Mu.Unlock()

	unwrapped, err := packet.Unwrap(plain)
	if err != nil {
		return fmt.Errorf("record: resync unwrap: %w", err)
	}

	l.State.Mu.Lock()
	peer := l.State.PeerIdentity
	l.State.Mu.Unlock()
	if peer == nil {
		return errors.New("record: resync received before any peer identity is known")
	}
	if !bytesEqual(unwrapped, peer.IDBytes) {
		return errors.New("record: resync identity mismatch")
	}

	l.State.Mu.Lock()
	l.State.BytesReceived += uint64(len(resp.Ciphertext))
	l.State.Mu.Unlock()
	return nil
}

// HandleDataLost is the initiator side's entry point after receiving a
// peer's DataLost service packet. It fires the session-error callback
// with SeverityDataLoss so the application is informed a resync is
// underway; failure to complete the resync escalates to Critical at the
// call site, per spec §4.7/§7.
func (l *Layer) HandleDataLost() {
	l.State.Callbacks.FireSessionError(errDataLost, session.SeverityDataLoss)
}

var errDataLost = errors.New("record: peer reported data loss, resync in progress")

// SerializeResyncPayload packs a ResyncPayload for transmission as a
// Service/Resync packet body: [bytes_sent u64][ciphertext].
func SerializeResyncPayload(p ResyncPayload) []byte {
	buf := make([]byte, 8+len(p.Ciphertext))
	binary.LittleEndian.PutUint64(buf[0:8], p.BytesSent)
	copy(buf[8:], p.Ciphertext)
	return buf
}

// ParseResyncPayload reverses SerializeResyncPayload.
func ParseResyncPayload(data []byte) (ResyncPayload, error) {
	if len(data) < 8 {
		return ResyncPayload{}, fmt.Errorf("record: resync payload too short")
	}
	return ResyncPayload{
		BytesSent:  binary.LittleEndian.Uint64(data[0:8]),
		Ciphertext: append([]byte(nil), data[8:]...),
	}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
