package transport

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtm-project/dtmcore/identity"
	"github.com/dtm-project/dtmcore/packet"
	"github.com/dtm-project/dtmcore/session"
)

// pipeConn is an in-memory io.ReadWriter split into independent read and
// write sides, letting tests feed bytes in arbitrary chunks to simulate
// partial TCP reads.
type pipeConn struct {
	r io.Reader
	w io.Writer
}

func (p *pipeConn) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeConn) Write(b []byte) (int, error) { return p.w.Write(b) }

func newDispatcherForTest(rw io.ReadWriter) (*Dispatcher, *session.State) {
	state := session.New(session.RoleServer, identity.DtmIdentity{}, identity.ParameterSet{}, &session.Callbacks{})
	d := New(rw, state, nil)
	return d, state
}

func TestConsumePartialFrameWaitsForMoreBytes(t *testing.T) {
	d, state := newDispatcherForTest(&pipeConn{})

	h := packet.Header{PacketType: packet.TypeMessage, PacketFlag: uint16(packet.FlagTransmission), Sequence: 1}
	frame := packet.Frame(h, []byte("hello"))

	// Feed only the header, no payload yet.
	remainder := d.consume(append([]byte(nil), frame[:packet.HeaderSize]...))
	assert.Len(t, remainder, packet.HeaderSize)
	assert.Equal(t, 0, state.RecvBuffer.Len())

	// Now the rest arrives.
	remainder = d.consume(append(remainder, frame[packet.HeaderSize:]...))
	assert.Empty(t, remainder)
	assert.Equal(t, 1, state.RecvBuffer.Len())
}

func TestConsumeMultiplePacketsInOneChunk(t *testing.T) {
	d, state := newDispatcherForTest(&pipeConn{})

	h1 := packet.Header{PacketType: packet.TypeMessage, Sequence: 1}
	h2 := packet.Header{PacketType: packet.TypeMessage, Sequence: 2}
	chunk := append(packet.Frame(h1, []byte("a")), packet.Frame(h2, []byte("bb"))...)

	remainder := d.consume(chunk)
	assert.Empty(t, remainder)
	assert.Equal(t, 2, state.RecvBuffer.Len())
}

func TestConsumeMalformedHeaderRequestsResend(t *testing.T) {
	var buf writeRecorder
	d, _ := newDispatcherForTest(&pipeConn{w: &buf})

	oversized := packet.Header{PacketType: packet.TypeMessage, Sequence: 1, PayloadLength: 1 << 40}
	frame := packet.Frame(oversized, nil)
	// Frame() recomputes PayloadLength from len(payload)=0, so hand-craft
	// a header with an oversized declared length directly.
	raw := oversized.Serialize()
	remainder := d.consume(raw)
	assert.Nil(t, remainder)
	require.Len(t, buf.writes, 1)

	parsedHeader, err := packet.ParseHeader(buf.writes[0])
	require.NoError(t, err)
	assert.Equal(t, packet.TypeService, parsedHeader.PacketType)
	assert.Equal(t, uint16(packet.FlagResend), parsedHeader.PacketFlag)
	_ = frame
}

type writeRecorder struct {
	mu     sync.Mutex
	writes [][]byte
}

func (w *writeRecorder) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, append([]byte(nil), b...))
	return len(b), nil
}

func TestRouteDispatchesToHandler(t *testing.T) {
	r, w := io.Pipe()
	d, _ := newDispatcherForTest(&pipeConn{r: r, w: io.Discard})

	var got []byte
	var wg sync.WaitGroup
	wg.Add(1)
	d.Route(packet.TypeMessage, HandlerFunc(func(h packet.Header, payload []byte) error {
		got = payload
		wg.Done()
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go d.Run(ctx)

	h := packet.Header{PacketType: packet.TypeMessage, Sequence: 0}
	frame := packet.Frame(h, []byte("payload"))
	go func() { _, _ = w.Write(frame) }()

	wg.Wait()
	assert.Equal(t, []byte("payload"), got)
}

func TestHandleServiceEchoFreesSendBuffer(t *testing.T) {
	d, state := newDispatcherForTest(&pipeConn{})
	state.SendBuffer.Push(7, []byte("buffered"))

	echo := packet.Header{PacketType: packet.TypeService, PacketFlag: uint16(packet.FlagEcho), OptionFlag: 7}
	d.handleService(echo, nil)

	assert.False(t, state.SendBuffer.Exists(7))
}
