package filetransfer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dtm-project/dtmcore/crypto"
	"github.com/dtm-project/dtmcore/identity"
	"github.com/dtm-project/dtmcore/packet"
	"github.com/dtm-project/dtmcore/session"
)

// ErrUnknownTransfer is returned when a Refused/Received service packet
// references a file_id no longer (or never) present in the transfer map.
var ErrUnknownTransfer = errors.New("filetransfer: unknown file transfer")

// ErrNotEstablished is returned when SendFile is called before the
// session has completed its handshake.
var ErrNotEstablished = errors.New("filetransfer: session not established")

// Sender is the minimal outbound surface the sidechannel needs from the
// transport: TransportDispatcher.Send satisfies it directly.
type Sender interface {
	Send(h packet.Header, payload []byte) error
}

// entry is one row of the process-wide file-transfer map from spec §3,
// keyed by file_id. UUID is an internal tracking handle layered on top
// of the wire file_id, following the teacher's go.mod pull of
// google/uuid.
type entry struct {
	fileID   uint64
	uuid     uuid.UUID
	transfer *Transfer
	cipher   *crypto.CounterCipher
	listener net.Listener
	conn     net.Conn
}

// Manager implements the FileTransferSidechannel: it owns the
// process-wide file-transfer map and drives one ephemeral goroutine per
// active transfer, mirroring the concurrency model of spec §5. It
// satisfies transport.Handler so a TransportDispatcher can route
// packet.TypeTransfer frames directly to HandlePacket.
type Manager struct {
	mu          sync.Mutex
	entries     map[uint64]*entry
	fileCounter uint64

	state   *session.State
	adapter *crypto.Adapter
	out     Sender

	// dial is injected so tests can substitute an in-process connector
	// instead of a real net.Dial("tcp", ...).
	dial func(port uint16) (net.Conn, error)
}

// NewManager constructs a Manager bound to an established session's
// ciphers and a Sender for the main channel.
func NewManager(state *session.State, out Sender) *Manager {
	return &Manager{
		entries: make(map[uint64]*entry),
		state:   state,
		adapter: crypto.NewAdapter(),
		out:     out,
		dial: func(port uint16) (net.Conn, error) {
			return net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		},
	}
}

// SendFile begins sending path to the peer, per spec §4.9: it allocates
// a file_id, opens a listener on an ephemeral port, derives a fresh
// (key, iv) from the Primary-stage session, and sends a Transfer/Request
// over the main channel before streaming the file on a dedicated
// goroutine.
func (m *Manager) SendFile(path string) (uint64, error) {
	if !m.state.Established() {
		return 0, ErrNotEstablished
	}

	m.mu.Lock()
	m.fileCounter++
	fileID := m.fileCounter
	m.mu.Unlock()

	tr, err := openOutgoing(fileID, path)
	if err != nil {
		return 0, fmt.Errorf("filetransfer: open %s: %w", path, err)
	}

	m.state.Mu.Lock()
	primarySession := m.state.LocalParams.PrimarySession
	padding := m.state.LocalParams.Padding
	m.state.Mu.Unlock()

	sess := symSessionFromDtm(primarySession)
	key, iv, err := m.adapter.DeriveSymKey(sess)
	if err != nil {
		tr.Close(err)
		return 0, fmt.Errorf("filetransfer: derive key: %w", err)
	}
	cipher, err := m.adapter.CipherInit(sess, key, iv)
	if err != nil {
		crypto.ZeroBytes(key)
		tr.Close(err)
		return 0, fmt.Errorf("filetransfer: cipher init: %w", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		crypto.ZeroBytes(key)
		tr.Close(err)
		return 0, fmt.Errorf("filetransfer: listen: %w", err)
	}
	port := uint16(listener.Addr().(*net.TCPAddr).Port)

	req := requestPayload{
		Info: FileInfo{Name: filepath.Base(path), Length: tr.Length, Port: port},
		Key:  key,
		IV:   iv,
	}

	// The entry must be in the map before the request is sent: a
	// synchronous peer (or an in-process test harness) may answer with
	// Refused/Received before SendFile returns, and that handler needs
	// to find this transfer to clean it up.
	ent := &entry{fileID: fileID, uuid: uuid.New(), transfer: tr, cipher: cipher, listener: listener}
	m.mu.Lock()
	m.entries[fileID] = ent
	m.mu.Unlock()

	if err := m.sendRequest(fileID, req, padding); err != nil {
		crypto.ZeroBytes(key)
		m.remove(fileID)
		listener.Close()
		tr.Close(err)
		return 0, err
	}

	m.mu.Lock()
	_, stillPending := m.entries[fileID]
	m.mu.Unlock()
	if stillPending {
		go m.serveOutgoing(ent)
	}

	return fileID, nil
}

func (m *Manager) sendRequest(fileID uint64, req requestPayload, padding identity.PaddingProfile) error {
	wrapped, err := packet.Wrap(req.serialize(),
		packet.PadRange{Max: padding.MaxMessagePrepend},
		packet.PadRange{Max: padding.MaxMessageAppend})
	if err != nil {
		return fmt.Errorf("filetransfer: wrap request: %w", err)
	}

	ciphertext := make([]byte, len(wrapped))
	m.state.Mu.Lock()
	m.state.SendCipher.Transform(ciphertext, wrapped)
	m.state.Mu.Unlock()
	m.state.RecordSent(len(ciphertext))

	h := packet.Header{PacketType: packet.TypeTransfer, PacketFlag: uint16(packet.FlagRequest), OptionFlag: fileID}
	if err := m.out.Send(h, ciphertext); err != nil {
		return fmt.Errorf("filetransfer: send request: %w", err)
	}
	return nil
}

// serveOutgoing accepts the peer's connection on ent's listener and
// streams the file, encrypted under ent's dedicated cipher, until EOF or
// failure. It does not remove ent from the map: the sender's side of the
// entry is only freed once Transfer/Received arrives (HandlePacket).
func (m *Manager) serveOutgoing(ent *entry) {
	conn, err := ent.listener.Accept()
	if err != nil {
		m.fail(ent.fileID, fmt.Errorf("filetransfer: accept: %w", err))
		return
	}
	ent.conn = conn
	defer ent.listener.Close()

	for {
		chunk, readErr := ent.transfer.ReadChunk()
		if len(chunk) > 0 {
			ciphertext := make([]byte, len(chunk))
			ent.cipher.Transform(ciphertext, chunk)
			if _, err := conn.Write(ciphertext); err != nil {
				m.fail(ent.fileID, fmt.Errorf("filetransfer: write: %w", err))
				return
			}
			m.state.Callbacks.FireProgress(ent.fileID, ent.transfer.Fraction())
		}
		if readErr == io.EOF {
			logrus.WithFields(logrus.Fields{
				"function": "Manager.serveOutgoing",
				"file_id":  ent.fileID,
			}).Info("file fully streamed, awaiting Transfer/Received")
			return
		}
		if readErr != nil {
			m.fail(ent.fileID, fmt.Errorf("filetransfer: read: %w", readErr))
			return
		}
	}
}

// HandlePacket routes an inbound TypeTransfer frame by its flag, per
// spec §4.9, satisfying transport.Handler.
func (m *Manager) HandlePacket(h packet.Header, payload []byte) error {
	switch packet.TransferFlag(h.PacketFlag) {
	case packet.FlagRequest:
		return m.handleRequest(h, payload)
	case packet.FlagRefused:
		return m.handleRefused(h)
	case packet.FlagReceived:
		return m.handleReceived(h)
	default:
		return fmt.Errorf("filetransfer: unknown transfer flag %d", h.PacketFlag)
	}
}

func (m *Manager) handleRequest(h packet.Header, payload []byte) error {
	wrapped := make([]byte, len(payload))
	m.state.Mu.Lock()
	m.state.RecvCipher.Transform(wrapped, payload)
	m.state.Mu.Unlock()
	m.state.RecordReceived(len(payload))

	unwrapped, err := packet.Unwrap(wrapped)
	if err != nil {
		return fmt.Errorf("filetransfer: unwrap request: %w", err)
	}
	req, err := parseRequestPayload(unwrapped)
	if err != nil {
		return fmt.Errorf("filetransfer: parse request: %w", err)
	}

	fileID := h.OptionFlag
	destPath, cancel := m.state.Callbacks.FireFileRequest(req.Info.Name)
	if cancel {
		h := packet.Header{PacketType: packet.TypeTransfer, PacketFlag: uint16(packet.FlagRefused), OptionFlag: fileID}
		return m.out.Send(h, nil)
	}
	if destPath == "" {
		destPath = req.Info.Name
	}

	sess := crypto.SymmetricSession{KeySize: len(req.Key), IVSize: len(req.IV)}
	cipher, err := m.adapter.CipherInit(sess, req.Key, req.IV)
	if err != nil {
		return fmt.Errorf("filetransfer: cipher init: %w", err)
	}
	tr, err := openIncoming(fileID, destPath, req.Info.Length)
	if err != nil {
		return fmt.Errorf("filetransfer: open %s: %w", destPath, err)
	}

	ent := &entry{fileID: fileID, uuid: uuid.New(), transfer: tr, cipher: cipher}
	m.mu.Lock()
	m.entries[fileID] = ent
	m.mu.Unlock()

	go m.serveIncoming(ent, req.Info.Port)
	return nil
}

// serveIncoming dials the peer's listener and receives the encrypted
// file, decrypting under ent's dedicated cipher, until the declared
// length is reached.
func (m *Manager) serveIncoming(ent *entry, port uint16) {
	conn, err := m.dial(port)
	if err != nil {
		m.fail(ent.fileID, fmt.Errorf("filetransfer: dial: %w", err))
		return
	}
	ent.conn = conn
	defer conn.Close()

	buf := make([]byte, ChunkSize)
	for !ent.transfer.Done() {
		n, err := conn.Read(buf)
		if n > 0 {
			plaintext := make([]byte, n)
			ent.cipher.Transform(plaintext, buf[:n])
			if err := ent.transfer.WriteChunk(plaintext); err != nil {
				m.fail(ent.fileID, fmt.Errorf("filetransfer: write chunk: %w", err))
				return
			}
			m.state.Callbacks.FireProgress(ent.fileID, ent.transfer.Fraction())
		}
		if err != nil {
			if err == io.EOF && ent.transfer.Done() {
				break
			}
			m.fail(ent.fileID, fmt.Errorf("filetransfer: read: %w", err))
			return
		}
	}

	ent.transfer.Close(nil)
	m.state.Callbacks.FireFileReceived(ent.fileID)

	h := packet.Header{PacketType: packet.TypeTransfer, PacketFlag: uint16(packet.FlagReceived), OptionFlag: ent.fileID}
	if err := m.out.Send(h, nil); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.serveIncoming",
			"file_id":  ent.fileID,
			"error":    err,
		}).Warn("failed to send Transfer/Received acknowledgment")
	}

	m.mu.Lock()
	delete(m.entries, ent.fileID)
	m.mu.Unlock()
}

func (m *Manager) handleRefused(h packet.Header) error {
	ent := m.remove(h.OptionFlag)
	if ent == nil {
		return ErrUnknownTransfer
	}
	if ent.listener != nil {
		ent.listener.Close()
	}
	ent.transfer.Close(errors.New("filetransfer: peer refused transfer"))
	m.state.Callbacks.FireSessionError(
		fmt.Errorf("filetransfer: peer refused file %d", h.OptionFlag), session.SeverityWarning)
	return nil
}

func (m *Manager) handleReceived(h packet.Header) error {
	ent := m.remove(h.OptionFlag)
	if ent == nil {
		return ErrUnknownTransfer
	}
	if ent.conn != nil {
		ent.conn.Close()
	}
	m.state.Callbacks.FireFileSent(ent.fileID)
	return nil
}

// fail tears down ent, firing the session-error callback and always
// cleaning up the map entry, per spec §4.9's failure contract.
func (m *Manager) fail(fileID uint64, cause error) {
	ent := m.remove(fileID)
	if ent != nil {
		if ent.listener != nil {
			ent.listener.Close()
		}
		if ent.conn != nil {
			ent.conn.Close()
		}
		ent.transfer.Close(cause)
	}
	m.state.Callbacks.FireSessionError(cause, session.SeverityDataLoss)
}

func (m *Manager) remove(fileID uint64) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	ent, ok := m.entries[fileID]
	if !ok {
		return nil
	}
	delete(m.entries, fileID)
	return ent
}

// Len reports the number of in-flight transfers, for tests and
// diagnostics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func symSessionFromDtm(s identity.DtmSession) crypto.SymmetricSession {
	return crypto.SymmetricSession{
		CipherID:   s.CipherID,
		KeySize:    int(s.KeySize),
		IVSize:     int(s.IVSize),
		RoundCount: int(s.RoundCount),
		Digest:     crypto.DigestSelector(s.DigestID),
	}
}
