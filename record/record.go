// Package record implements RecordLayer, the post-handshake data path:
// wrap/encrypt/frame on send, decrypt/unwrap/deliver on receive, plus the
// blocking SendReceive RPC variant, per spec §4.5.
package record

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dtm-project/dtmcore/crypto"
	"github.com/dtm-project/dtmcore/identity"
	"github.com/dtm-project/dtmcore/packet"
	"github.com/dtm-project/dtmcore/session"
)

// ErrNotEstablished is returned when the record layer is used before the
// session has completed its handshake.
var ErrNotEstablished = errors.New("record: session not established")

// Sender is the minimal outbound surface the record layer needs from the
// transport: append a framed packet to the send buffer (if buffered) and
// write it to the underlying stream.
type Sender interface {
	SendMessage(seq uint64, flag packet.MessageFlag, ciphertext []byte) error
	SendServiceEcho(seq uint64) error
}

// Layer implements the send/receive data path over one established
// session.
type Layer struct {
	State   *session.State
	Padding identity.PaddingProfile
	Out     Sender
}

// New constructs a Layer bound to an established session.
func New(state *session.State, padding identity.PaddingProfile, out Sender) *Layer {
	return &Layer{State: state, Padding: padding, Out: out}
}

// Send wraps, encrypts, and frames one application payload as a
// Message/Transmission packet, advancing send_sequence and bytes_sent,
// per spec §4.5.
func (l *Layer) Send(payload []byte) error {
	if !l.State.Established() {
		return ErrNotEstablished
	}

	if err := sleepProfile(l.Padding.MaxMessageDelayMs); err != nil {
		return fmt.Errorf("record: delay: %w", err)
	}

	wrapped, err := packet.Wrap(payload,
		packet.PadRange{Max: l.Padding.MaxMessagePrepend},
		packet.PadRange{Max: l.Padding.MaxMessageAppend})
	if err != nil {
		return fmt.Errorf("record: wrap: %w", err)
	}

	ciphertext := make([]byte, len(wrapped))
	l.State.Mu.Lock()
	l.State.SendCipher.Transform(ciphertext, wrapped)
	l.State.Mu.Unlock()

	seq := l.State.NextSendSequence()
	if err := l.Out.SendMessage(seq, packet.FlagTransmission, ciphertext); err != nil {
		return fmt.Errorf("record: send: %w", err)
	}
	l.State.RecordSent(len(ciphertext))
	l.State.Callbacks.FirePacketSent(uint16(packet.FlagTransmission), len(ciphertext))
	return nil
}

// Deliver decrypts, unwraps, and delivers one inbound Message packet's
// ciphertext via OnDataReceived, then calls Out.SendServiceEcho(seq) so
// the peer can free its send-buffer entry; the echo's error, if any, is
// Deliver's return value.
func (l *Layer) Deliver(seq uint64, ciphertext []byte) error {
	if !l.State.Established() {
		return ErrNotEstablished
	}

	wrapped := make([]byte, len(ciphertext))
	l.State.Mu.Lock()
	l.State.RecvCipher.Transform(wrapped, ciphertext)
	l.State.Mu.Unlock()

	payload, err := packet.Unwrap(wrapped)
	if err != nil {
		return fmt.Errorf("record: unwrap: %w", err)
	}

	l.State.RecordReceived(len(ciphertext))
	l.State.Callbacks.FirePacketReceived(uint16(packet.FlagTransmission), len(ciphertext))
	l.State.Callbacks.FireDataReceived(payload)

	return l.Out.SendServiceEcho(seq)
}

// SendReceive emits one Message and synchronously awaits exactly one
// inbound Message, bypassing the echo and retransmit mechanisms. It is
// intended for latency-sensitive RPC-style exchanges. The send sequence
// and both byte counters advance as for Send/Deliver; no receive
// sequence is advanced for the reply.
func (l *Layer) SendReceive(ctx context.Context, payload []byte, awaitReply func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if !l.State.Established() {
		return nil, ErrNotEstablished
	}

	if err := sleepProfile(l.Padding.MaxMessageDelayMs); err != nil {
		return nil, fmt.Errorf("record: delay: %w", err)
	}

	wrapped, err := packet.Wrap(payload,
		packet.PadRange{Max: l.Padding.MaxMessagePrepend},
		packet.PadRange{Max: l.Padding.MaxMessageAppend})
	if err != nil {
		return nil, fmt.Errorf("record: wrap: %w", err)
	}

	ciphertext := make([]byte, len(wrapped))
	l.State.Mu.Lock()
	l.State.SendCipher.Transform(ciphertext, wrapped)
	l.State.Mu.Unlock()

	seq := l.State.NextSendSequence()
	if err := l.Out.SendMessage(seq, packet.FlagTransmission, ciphertext); err != nil {
		return nil, fmt.Errorf("record: send: %w", err)
	}
	l.State.RecordSent(len(ciphertext))

	replyCiphertext, err := awaitReply(ctx)
	if err != nil {
		return nil, fmt.Errorf("record: await reply: %w", err)
	}

	replyWrapped := make([]byte, len(replyCiphertext))
	l.State.Mu.Lock()
	l.State.RecvCipher.Transform(replyWrapped, replyCiphertext)
	l.State.Mu.Unlock()

	replyPayload, err := packet.Unwrap(replyWrapped)
	if err != nil {
		return nil, fmt.Errorf("record: unwrap reply: %w", err)
	}
	l.State.RecordReceived(len(replyCiphertext))
	return replyPayload, nil
}

// sleepProfile blocks for a uniformly-chosen duration in
// [maxMs/2, maxMs] milliseconds, or returns immediately if maxMs is 0,
// per spec §4.8's post-establishment message timing-obfuscation delay.
func sleepProfile(maxMs uint32) error {
	if maxMs == 0 {
		return nil
	}
	lo := maxMs / 2
	span := maxMs - lo + 1
	raw, err := crypto.GenerateRandom(4)
	if err != nil {
		return err
	}
	ms := lo + binary.LittleEndian.Uint32(raw)%span
	tp := crypto.GetDefaultTimeProvider()
	start := tp.Now()
	time.Sleep(time.Duration(ms) * time.Millisecond)
	logrus.WithFields(logrus.Fields{
		"function": "sleepProfile",
		"delay_ms": ms,
		"elapsed":  tp.Since(start),
	}).Debug("applied message timing delay")
	return nil
}
