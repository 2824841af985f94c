package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dtm-project/dtmcore/identity"
)

func TestPulseFiresTimeoutAfterConfiguredMisses(t *testing.T) {
	s := New(RoleClient, identity.DtmIdentity{}, identity.ParameterSet{}, &Callbacks{})
	s.ConnectionTimeout = 1

	var sendCount, timeoutCount int32
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	s.Pulse(ctx, func() error {
		atomic.AddInt32(&sendCount, 1)
		return nil
	}, func() {
		atomic.AddInt32(&timeoutCount, 1)
	})

	assert.Equal(t, int32(1), atomic.LoadInt32(&sendCount))
	assert.Equal(t, int32(1), atomic.LoadInt32(&timeoutCount))
}

func TestPulseResetByIncomingTrafficNeverTimesOut(t *testing.T) {
	s := New(RoleClient, identity.DtmIdentity{}, identity.ParameterSet{}, &Callbacks{})
	s.ConnectionTimeout = 2

	var timeoutCount int32
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	s.Pulse(ctx, func() error {
		// Simulates a packet arriving from the peer between ticks.
		s.ResetKeepaliveMisses()
		return nil
	}, func() {
		atomic.AddInt32(&timeoutCount, 1)
	})

	assert.Equal(t, int32(0), atomic.LoadInt32(&timeoutCount))
}

func TestPulseStopsOnContextCancel(t *testing.T) {
	s := New(RoleClient, identity.DtmIdentity{}, identity.ParameterSet{}, &Callbacks{})
	s.ConnectionTimeout = 100

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Pulse(ctx, func() error { return nil }, func() {})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Pulse did not stop after context cancellation")
	}
}
