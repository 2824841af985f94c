// Package transport implements Dispatcher, the byte-stream framer and
// router described in spec §4.6. It turns a reliable, ordered byte
// stream (a net.Conn in production, anything satisfying io.ReadWriter in
// tests) into a sequence of framed packets, drains them in order, and
// routes each to the ExchangeStateMachine, RecordLayer, FileTransfer
// sidechannel, or an internal Service handler.
package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dtm-project/dtmcore/buffer"
	"github.com/dtm-project/dtmcore/packet"
	"github.com/dtm-project/dtmcore/session"
)

// ResendThreshold is the default out-of-sequence gap, in packets, that
// triggers an eager Resend request, per spec §4.6.
const ResendThreshold = 10

// throttleAttempts is the number of write attempts (the first write plus
// doubling-backoff retries) before a write failure escalates to a
// Connection-severity error.
const throttleAttempts = 4

// throttleBaseDelay is the first backoff delay in the write throttle
// ladder; it doubles on each subsequent attempt.
const throttleBaseDelay = 50 * time.Millisecond

// Handler processes one fully-framed inbound packet. Implementations
// are the ExchangeStateMachine, RecordLayer, FileTransfer sidechannel,
// and the Dispatcher's own internal Service handler.
type Handler interface {
	HandlePacket(h packet.Header, payload []byte) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(h packet.Header, payload []byte) error

func (f HandlerFunc) HandlePacket(h packet.Header, payload []byte) error { return f(h, payload) }

// Dispatcher frames one session's byte stream in both directions: it
// parses inbound bytes into packets, drains them strictly in sequence,
// and serializes outbound packets through a single transmission mutex
// so writes never interleave.
type Dispatcher struct {
	conn  io.ReadWriter
	state *session.State

	routes map[packet.Type]Handler

	txMu sync.Mutex

	recvMu      sync.Mutex
	rcvSequence uint64
	seqCounter  uint64

	closeOnce sync.Once
	closeFn   func() error

	// Reconnector, if set, is consulted by RunKeepalive after a keepalive
	// timeout to relisten/redial and resume the stream, per spec §4.8.
	// Left nil, a timeout simply closes the connection.
	Reconnector Reconnector
}

// New constructs a Dispatcher over conn for the given session state.
// closeFn, if non-nil, is invoked once by Close (e.g. (*net.TCPConn).Close).
func New(conn io.ReadWriter, state *session.State, closeFn func() error) *Dispatcher {
	return &Dispatcher{
		conn:    conn,
		state:   state,
		routes:  make(map[packet.Type]Handler),
		closeFn: closeFn,
	}
}

// Route installs the handler for a top-level packet type, per the
// routing table in spec §4.6.
func (d *Dispatcher) Route(t packet.Type, h Handler) {
	d.routes[t] = h
}

// Close shuts down the underlying connection exactly once.
func (d *Dispatcher) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if d.closeFn != nil {
			err = d.closeFn()
		}
	})
	return err
}

// Send frames h and payload, appends non-Service packets to the send
// buffer keyed by h.Sequence, and writes the frame under the
// transmission mutex so concurrent senders never interleave bytes on
// the wire. Write failures are retried through a four-attempt
// doubling-backoff throttle ladder before surfacing as a Connection
// error, per spec §4.6/§7.
func (d *Dispatcher) Send(h packet.Header, payload []byte) error {
	frame := packet.Frame(h, payload)

	if h.PacketType != packet.TypeService {
		d.state.SendBuffer.Push(h.Sequence, frame)
	}

	d.txMu.Lock()
	defer d.txMu.Unlock()

	delay := throttleBaseDelay
	var lastErr error
	for attempt := 0; attempt < throttleAttempts; attempt++ {
		if attempt > 0 {
			logrus.WithFields(logrus.Fields{
				"function": "Dispatcher.Send",
				"attempt":  attempt,
				"delay":    delay,
			}).Warn("retrying packet write after failure")
			time.Sleep(delay)
			delay *= 2
		}
		if _, err := d.conn.Write(frame); err != nil {
			lastErr = err
			continue
		}
		d.state.Callbacks.FirePacketSent(h.PacketFlag, len(payload))
		return nil
	}

	cancel := d.state.Callbacks.FireSessionError(
		fmt.Errorf("transport: write failed after %d attempts: %w", throttleAttempts, lastErr),
		session.SeverityConnection)
	if cancel {
		d.Close()
	}
	return lastErr
}

// SendService frames and writes a Service packet, bypassing the send
// buffer entirely, per spec §4.6's transmission contract.
func (d *Dispatcher) SendService(flag packet.ServiceFlag, optionFlag uint64, payload []byte) error {
	h := packet.Header{
		PacketType: packet.TypeService,
		PacketFlag: uint16(flag),
		Sequence:   0,
		OptionFlag: optionFlag,
	}
	return d.Send(h, payload)
}

// Run reads the byte stream until ctx is cancelled or a read error
// occurs, parsing and dispatching packets as they arrive. It implements
// the three inbound cases from spec §4.6: an exact single packet, a
// chunk spanning multiple packets, and a malformed-or-oversized chunk
// that triggers a Resend and abandons the remainder.
func (d *Dispatcher) Run(ctx context.Context) error {
	var pending []byte
	buf := make([]byte, 64*1024)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := d.conn.Read(buf)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("transport: read: %w", err)
		}
		pending = append(pending, buf[:n]...)
		pending = d.consume(pending)
		d.drain()
	}
}

// consume repeatedly extracts complete frames from pending, pushing
// each into the receive buffer keyed by sequence (Service frames, which
// all carry sequence 0, are handled at once instead), and returns
// whatever incomplete remainder is left for the next read.
func (d *Dispatcher) consume(pending []byte) []byte {
	for {
		if len(pending) < packet.HeaderSize {
			return pending
		}
		h, err := packet.ParseHeader(pending)
		if err != nil {
			d.requestResend()
			return nil
		}
		if h.PayloadLength > buffer.MaxPayloadSize {
			d.requestResend()
			return nil
		}
		total := packet.HeaderSize + int(h.PayloadLength)
		if len(pending) < total {
			return pending // incomplete: wait for more bytes
		}

		payload := append([]byte(nil), pending[packet.HeaderSize:total]...)
		if h.PacketType == packet.TypeService {
			d.state.Callbacks.FirePacketReceived(h.PacketFlag, len(payload))
			d.handleService(h, payload)
			pending = pending[total:]
			continue
		}
		d.recvMu.Lock()
		d.state.RecvBuffer.Push(h.Sequence, packet.Frame(h, payload))
		if h.Sequence > d.seqCounter {
			d.seqCounter = h.Sequence
		}
		d.recvMu.Unlock()

		d.state.Callbacks.FirePacketReceived(h.PacketFlag, len(payload))
		pending = pending[total:]
	}
}

// drain dispatches every buffered packet starting at rcv_sequence, in
// order, and requests retransmission if the gap to the highest observed
// sequence exceeds ResendThreshold, per spec §4.6.
func (d *Dispatcher) drain() {
	d.recvMu.Lock()
	rcv := d.rcvSequence
	seqCounter := d.seqCounter
	d.recvMu.Unlock()

	for {
		frame, ok := d.state.RecvBuffer.Pop(rcv)
		if !ok {
			break
		}
		d.dispatchFrame(frame)
		rcv++
	}

	d.recvMu.Lock()
	d.rcvSequence = rcv
	d.recvMu.Unlock()

	if seqCounter > rcv && seqCounter-rcv > ResendThreshold {
		d.requestResend()
	}
}

func (d *Dispatcher) dispatchFrame(frame []byte) {
	h, err := packet.ParseHeader(frame)
	if err != nil {
		return
	}
	payload := frame[packet.HeaderSize:]

	if h.PacketType == packet.TypeService {
		d.handleService(h, payload)
		return
	}

	handler, ok := d.routes[h.PacketType]
	if !ok {
		return
	}
	if err := handler.HandlePacket(h, payload); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "Dispatcher.dispatchFrame",
			"packet_type": h.PacketType,
			"error":       err,
		}).Warn("handler returned error")
	}
}

// handleService implements the internal Service routing table from
// spec §4.6: KeepAlive resets the miss counter, Echo frees a
// send-buffer entry, Resend replays a buffered packet (or falls back to
// DataLost if it's gone), and DataLost/Resync/Refusal/Terminate surface
// through the session-error callback for the record layer or caller to
// act on.
func (d *Dispatcher) handleService(h packet.Header, payload []byte) {
	flag := packet.ServiceFlag(h.PacketFlag)
	switch flag {
	case packet.FlagKeepAlive:
		d.state.ResetKeepaliveMisses()
	case packet.FlagEcho:
		d.state.SendBuffer.Destroy(h.OptionFlag)
	case packet.FlagResend:
		d.handleResend(h.OptionFlag)
	case packet.FlagDataLost, packet.FlagResync, packet.FlagRefusal, packet.FlagTerminate:
		if handler, ok := d.routes[packet.TypeService]; ok {
			_ = handler.HandlePacket(h, payload)
		}
	}
}

func (d *Dispatcher) handleResend(seq uint64) {
	frame, ok := d.state.SendBuffer.Peek(seq)
	if !ok {
		_ = d.SendService(packet.FlagDataLost, 0, nil)
		return
	}
	d.txMu.Lock()
	defer d.txMu.Unlock()
	if _, err := d.conn.Write(frame); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Dispatcher.handleResend",
			"sequence": seq,
			"error":    err,
		}).Warn("resend write failed")
	}
}

func (d *Dispatcher) requestResend() {
	d.recvMu.Lock()
	next := d.rcvSequence
	d.recvMu.Unlock()
	_ = d.SendService(packet.FlagResend, next, nil)
}
