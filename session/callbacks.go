package session

import (
	"github.com/dtm-project/dtmcore/crypto"
	"github.com/dtm-project/dtmcore/identity"
)

// Stage names the handshake stage an identity callback fired at.
type Stage string

const (
	StageConnect     Stage = "Connect"
	StageInit        Stage = "Init"
	StagePreAuth     Stage = "PreAuth"
	StageAuthEx      Stage = "AuthEx"
	StageAuth        Stage = "Auth"
	StageSync        Stage = "Sync"
	StagePrimeEx     Stage = "PrimeEx"
	StagePrimary     Stage = "Primary"
	StageEstablished Stage = "Established"
)

// Callbacks is the single handler object installed per session, replacing
// the teacher's event-multicast pattern with one struct of optional
// function fields (spec §9, "Global callbacks / delegates"). Every field
// is optional; a nil field means the core proceeds without notifying
// the application. The Fire* methods are safe to call on a nil
// *Callbacks receiver.
type Callbacks struct {
	// OnConnected reports that the underlying byte stream is up, before
	// the handshake begins. No package in this module calls
	// FireConnected; the code that opens the stream does.
	OnConnected func()

	// OnIdentityReceived fires at Connect, Init, Auth, and Sync with the
	// peer's DtmIdentity for that stage. Setting *cancel = true tears
	// the session down at the next checkpoint.
	OnIdentityReceived func(stage Stage, peerIdentity identity.DtmIdentity, cancel *bool)

	// OnPacketReceived/OnPacketSent report every framed packet crossing
	// the wire, keyed by its flag value and payload length.
	OnPacketReceived func(flag uint16, length int)
	OnPacketSent     func(flag uint16, length int)

	// OnDataReceived delivers one decrypted, unwrapped application
	// payload from the RecordLayer.
	OnDataReceived func(payload []byte)

	// OnSessionEstablished fires once, after the Established stage,
	// with the two keyed cipher instances this side now owns.
	OnSessionEstablished func(sendCipher, recvCipher *crypto.CounterCipher)

	// OnSessionError reports a session-level error with its severity.
	// Setting *cancel = true makes the transport Dispatcher close its
	// connection for the errors it reports; the exchange, record and
	// filetransfer packages do not read the flag.
	OnSessionError func(err error, severity Severity, cancel *bool)

	// OnFileRequest fires when a peer proposes an incoming file
	// transfer. The application returns a destination path, or sets
	// *cancel = true to refuse.
	OnFileRequest func(name string, destPath *string, cancel *bool)

	OnFileReceived func(fileID uint64)
	OnFileSent     func(fileID uint64)
	OnProgress     func(fileID uint64, fraction float64)
}

// FireConnected invokes OnConnected if set.
func (c *Callbacks) FireConnected() {
	if c != nil && c.OnConnected != nil {
		c.OnConnected()
	}
}

// FireIdentityReceived invokes OnIdentityReceived if set and returns
// whether the application requested cancellation.
func (c *Callbacks) FireIdentityReceived(stage Stage, id identity.DtmIdentity) bool {
	cancel := false
	if c != nil && c.OnIdentityReceived != nil {
		c.OnIdentityReceived(stage, id, &cancel)
	}
	return cancel
}

// FirePacketReceived invokes OnPacketReceived if set.
func (c *Callbacks) FirePacketReceived(flag uint16, length int) {
	if c != nil && c.OnPacketReceived != nil {
		c.OnPacketReceived(flag, length)
	}
}

// FirePacketSent invokes OnPacketSent if set.
func (c *Callbacks) FirePacketSent(flag uint16, length int) {
	if c != nil && c.OnPacketSent != nil {
		c.OnPacketSent(flag, length)
	}
}

// FireDataReceived invokes OnDataReceived if set.
func (c *Callbacks) FireDataReceived(payload []byte) {
	if c != nil && c.OnDataReceived != nil {
		c.OnDataReceived(payload)
	}
}

// FireSessionEstablished invokes OnSessionEstablished if set.
func (c *Callbacks) FireSessionEstablished(send, recv *crypto.CounterCipher) {
	if c != nil && c.OnSessionEstablished != nil {
		c.OnSessionEstablished(send, recv)
	}
}

// FireSessionError invokes OnSessionError if set and returns whether the
// application requested cancellation.
func (c *Callbacks) FireSessionError(err error, severity Severity) bool {
	cancel := false
	if c != nil && c.OnSessionError != nil {
		c.OnSessionError(err, severity, &cancel)
	}
	return cancel
}

// FireFileRequest invokes OnFileRequest if set and returns the chosen
// destination path and whether the application refused the transfer.
func (c *Callbacks) FireFileRequest(name string) (destPath string, cancel bool) {
	if c != nil && c.OnFileRequest != nil {
		c.OnFileRequest(name, &destPath, &cancel)
	}
	return destPath, cancel
}

// FireFileReceived invokes OnFileReceived if set.
func (c *Callbacks) FireFileReceived(fileID uint64) {
	if c != nil && c.OnFileReceived != nil {
		c.OnFileReceived(fileID)
	}
}

// FireFileSent invokes OnFileSent if set.
func (c *Callbacks) FireFileSent(fileID uint64) {
	if c != nil && c.OnFileSent != nil {
		c.OnFileSent(fileID)
	}
}

// FireProgress invokes OnProgress if set.
func (c *Callbacks) FireProgress(fileID uint64, fraction float64) {
	if c != nil && c.OnProgress != nil {
		c.OnProgress(fileID, fraction)
	}
}
