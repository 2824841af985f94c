package filetransfer

import (
	"errors"
	"io"
	"os"
	"sync"
)

// ChunkSize is the size of each plaintext chunk read from or written to
// disk before it crosses the per-file cipher.
const ChunkSize = 32 * 1024

// Direction indicates which side of a transfer this process plays.
type Direction uint8

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
)

// State is a transfer's lifecycle position.
type State uint8

const (
	StateRunning State = iota
	StateCompleted
	StateError
)

// Transfer tracks one file's local I/O and progress, independent of the
// network connection or cipher streaming it. Grounded in the teacher's
// file.Transfer chunked read/write idiom, trimmed to what spec §4.9
// names: no pause/resume, since the protocol has no control packet for
// either.
type Transfer struct {
	FileID    uint64
	Name      string
	Length    uint64
	Direction Direction

	mu          sync.Mutex
	state       State
	transferred uint64
	handle      *os.File
	err         error
}

// openOutgoing opens path for reading and returns a Transfer ready to
// serve ReadChunk calls.
func openOutgoing(fileID uint64, path string) (*Transfer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Transfer{
		FileID:    fileID,
		Name:      info.Name(),
		Length:    uint64(info.Size()),
		Direction: DirectionOutgoing,
		handle:    f,
	}, nil
}

// openIncoming creates destPath for writing and returns a Transfer ready
// to serve WriteChunk calls.
func openIncoming(fileID uint64, destPath string, length uint64) (*Transfer, error) {
	f, err := os.Create(destPath)
	if err != nil {
		return nil, err
	}
	return &Transfer{
		FileID:    fileID,
		Name:      destPath,
		Length:    length,
		Direction: DirectionIncoming,
		handle:    f,
	}, nil
}

// ReadChunk reads up to ChunkSize plaintext bytes for an outgoing
// transfer. It returns io.EOF once the file is exhausted.
func (t *Transfer) ReadChunk() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Direction != DirectionOutgoing {
		return nil, errors.New("filetransfer: cannot read an incoming transfer")
	}

	buf := make([]byte, ChunkSize)
	n, err := t.handle.Read(buf)
	if n > 0 {
		t.transferred += uint64(n)
	}
	if err != nil && err != io.EOF {
		t.state = StateError
		t.err = err
		return nil, err
	}
	if err == io.EOF {
		return buf[:n], io.EOF
	}
	return buf[:n], nil
}

// WriteChunk appends data to an incoming transfer's destination file.
func (t *Transfer) WriteChunk(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Direction != DirectionIncoming {
		return errors.New("filetransfer: cannot write an outgoing transfer")
	}
	if _, err := t.handle.Write(data); err != nil {
		t.state = StateError
		t.err = err
		return err
	}
	t.transferred += uint64(len(data))
	return nil
}

// Fraction returns transferred/length in [0, 1], or 0 for a zero-length
// file.
func (t *Transfer) Fraction() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Length == 0 {
		return 0
	}
	return float64(t.transferred) / float64(t.Length)
}

// Done reports whether every declared byte has been transferred.
func (t *Transfer) Done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferred >= t.Length
}

// Close closes the underlying file handle and marks the transfer
// complete or errored accordingly.
func (t *Transfer) Close(cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cause != nil {
		t.state = StateError
		t.err = cause
	} else {
		t.state = StateCompleted
	}
	return t.handle.Close()
}
