package session

import (
	"github.com/sirupsen/logrus"
)

// ReconnectAction tells the transport dispatcher what to do after a
// connection loss, per spec §4.8: a server re-listens for a fresh
// stream on the same port; a client reconnects to the known address.
// Either way, once the byte stream is back the session issues DataLost
// and expects the peer to answer Resync before any Message traffic
// resumes.
type ReconnectAction int

const (
	// ReconnectNone: reconnect is disabled or the session is not
	// established; the session should simply close.
	ReconnectNone ReconnectAction = iota
	// ReconnectRelisten: server-side, wait for a new inbound stream.
	ReconnectRelisten
	// ReconnectDial: client-side, dial the peer again.
	ReconnectDial
)

// DecideReconnect chooses the reconnect action for the session's current
// role and configuration after a connection-severed event.
func (s *State) DecideReconnect() ReconnectAction {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	if !s.ReconnectEnabled || s.Stage != ExchangeEstablished {
		return ReconnectNone
	}
	if s.Role == RoleServer {
		return ReconnectRelisten
	}
	return ReconnectDial
}

// BeginReconnect resets per-stream counters ahead of a reconnect attempt
// while preserving the established ciphers and sequence numbers: the
// stream is new, but the keystream position and peer identity are not,
// per spec §4.8's DataLost/Resync handshake. It also clears the
// keepalive miss counter so the new stream starts with a clean slate.
func (s *State) BeginReconnect() {
	s.Mu.Lock()
	s.KeepaliveMisses = 0
	s.Mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "State.BeginReconnect",
		"role":     s.Role,
	}).Info("reconnecting, awaiting DataLost/Resync exchange")
}
