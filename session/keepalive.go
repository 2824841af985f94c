package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// KeepaliveInterval is the fixed tick period for the liveness pulse,
// per spec §4.8.
const KeepaliveInterval = 1 * time.Second

// Pulse runs the one-second keepalive ticker until ctx is cancelled.
// send is called once per tick to emit a keepalive packet; onTimeout is
// called when the miss counter reaches s.ConnectionTimeout with no
// s.ResetKeepaliveMisses call in between (the transport Dispatcher makes
// that call for each inbound KeepAlive). Pulse itself only increments,
// once per tick.
func (s *State) Pulse(ctx context.Context, send func() error, onTimeout func()) {
	ticker := time.NewTicker(KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := send(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "State.Pulse",
					"error":    err,
				}).Warn("keepalive send failed")
			}
			if s.IncrementKeepaliveMisses() {
				onTimeout()
				return
			}
		}
	}
}
