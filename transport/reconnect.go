package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dtm-project/dtmcore/packet"
	"github.com/dtm-project/dtmcore/session"
)

// Reconnector performs the network I/O behind a session.ReconnectAction:
// relisten for a fresh inbound stream on the server side, or redial the
// peer's known address on the client side, per spec §4.8. It returns the
// new stream and a close function for it, decoupled from net.Conn so
// non-TCP reconnectors (and test fakes) can implement it directly.
type Reconnector interface {
	Reconnect(ctx context.Context, action session.ReconnectAction) (conn io.ReadWriter, closeFn func() error, err error)
}

// TCPReconnector is the production Reconnector: a server holds a
// pre-bound net.Listener so the port survives a dropped stream, a
// client holds the peer's dial address.
type TCPReconnector struct {
	Listener    net.Listener
	DialAddr    string
	DialTimeout time.Duration
}

// Reconnect accepts one new connection (server) or dials DialAddr
// (client), per the action DecideReconnect chose.
func (r *TCPReconnector) Reconnect(ctx context.Context, action session.ReconnectAction) (io.ReadWriter, func() error, error) {
	switch action {
	case session.ReconnectRelisten:
		if r.Listener == nil {
			return nil, nil, errors.New("transport: relisten requested but no listener configured")
		}
		conn, err := r.Listener.Accept()
		if err != nil {
			return nil, nil, fmt.Errorf("transport: relisten accept: %w", err)
		}
		return conn, conn.Close, nil
	case session.ReconnectDial:
		dialer := net.Dialer{Timeout: r.DialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", r.DialAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("transport: redial: %w", err)
		}
		return conn, conn.Close, nil
	default:
		return nil, nil, errors.New("transport: reconnect not applicable to this action")
	}
}

// Rebind swaps the Dispatcher's underlying stream for a freshly
// reconnected one, under both the transmission and receive locks so no
// in-flight Send/Run call observes a half-swapped connection.
func (d *Dispatcher) Rebind(conn io.ReadWriter, closeFn func() error) {
	d.txMu.Lock()
	d.recvMu.Lock()
	d.conn = conn
	d.closeFn = closeFn
	d.closeOnce = sync.Once{}
	d.recvMu.Unlock()
	d.txMu.Unlock()
}

// RunKeepalive drives the session's liveness pulse on top of this
// Dispatcher: it emits a KeepAlive Service packet once per
// session.KeepaliveInterval and, if the peer goes silent for
// ConnectionTimeout consecutive ticks, attempts the reconnect action
// DecideReconnect chooses, per spec §4.8. It returns once ctx is
// cancelled or once the first keepalive timeout has been handled,
// whether or not a reconnect succeeded; the pulse does not continue on a
// reconnected stream.
func (d *Dispatcher) RunKeepalive(ctx context.Context) {
	d.state.Pulse(ctx, func() error {
		return d.SendService(packet.FlagKeepAlive, 0, nil)
	}, func() {
		d.handleKeepaliveTimeout(ctx)
	})
}

func (d *Dispatcher) handleKeepaliveTimeout(ctx context.Context) {
	cancel := d.state.Callbacks.FireSessionError(
		errors.New("transport: keepalive timed out, no packet received from peer"),
		session.SeverityConnection)
	if cancel {
		d.Close()
		return
	}

	action := d.state.DecideReconnect()
	if action == session.ReconnectNone || d.Reconnector == nil {
		d.Close()
		return
	}

	conn, closeFn, err := d.Reconnector.Reconnect(ctx, action)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Dispatcher.handleKeepaliveTimeout",
			"action":   action,
			"error":    err,
		}).Warn("reconnect attempt failed")
		d.state.Callbacks.FireSessionError(err, session.SeverityCritical)
		d.Close()
		return
	}

	d.state.BeginReconnect()
	d.Rebind(conn, closeFn)
	if err := d.SendService(packet.FlagDataLost, 0, nil); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Dispatcher.handleKeepaliveTimeout",
			"error":    err,
		}).Warn("failed to announce DataLost after reconnect")
	}
}
