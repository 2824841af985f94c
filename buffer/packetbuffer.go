// Package buffer implements PacketBuffer, the sequence-keyed ordered
// store used for both outbound retransmit (send buffer) and inbound
// reassembly (receive buffer), per spec §4.2.
package buffer

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the default bound on entries held by a PacketBuffer
// before the drop-oldest overflow policy kicks in.
const DefaultCapacity = 1024

// MaxPayloadSize is MAX_RECV_BUFFER from spec §5/§8: the largest payload
// the transport dispatcher will accept in one packet.
const MaxPayloadSize = 240 * 1024 * 1024

// PacketBuffer is a sequence-indexed container of framed packet bytes.
// It is safe for concurrent use; spec §5 assigns ownership of the send
// buffer to the transmission mutex and the receive buffer to the
// transport goroutine, but the type itself does not assume single-owner
// access so it can be reused in tests without that discipline.
type PacketBuffer struct {
	mu       sync.Mutex
	entries  map[uint64][]byte
	order    []uint64 // insertion order, for drop-oldest eviction
	capacity int
}

// New creates an empty PacketBuffer with the given capacity. A capacity
// of 0 uses DefaultCapacity.
func New(capacity int) *PacketBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &PacketBuffer{
		entries:  make(map[uint64][]byte),
		capacity: capacity,
	}
}

// Push inserts bytes under seq. Pushing an identical duplicate is a
// no-op; pushing different bytes under a seq already present overwrites
// the entry (idempotent re-delivery, last write wins) per spec §4.2.
// When the buffer is at capacity, the oldest entry is dropped to make
// room, per the drop-oldest overflow policy.
func (b *PacketBuffer) Push(seq uint64, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.entries[seq]; ok {
		if bytesEqual(existing, data) {
			return
		}
		b.entries[seq] = data
		return
	}

	if len(b.entries) >= b.capacity {
		b.evictOldestLocked()
	}

	b.entries[seq] = data
	b.order = append(b.order, seq)
}

func (b *PacketBuffer) evictOldestLocked() {
	if len(b.order) == 0 {
		return
	}
	oldest := b.order[0]
	b.order = b.order[1:]
	delete(b.entries, oldest)
	logrus.WithFields(logrus.Fields{
		"function": "PacketBuffer.evictOldestLocked",
		"sequence": oldest,
	}).Warn("packet buffer at capacity, dropped oldest entry")
}

// Pop removes and returns the entry at seq, if any.
func (b *PacketBuffer) Pop(seq uint64) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.entries[seq]
	if ok {
		delete(b.entries, seq)
		b.removeFromOrderLocked(seq)
	}
	return data, ok
}

// Exists reports whether seq is currently buffered.
func (b *PacketBuffer) Exists(seq uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[seq]
	return ok
}

// Peek returns the entry at seq without removing it.
func (b *PacketBuffer) Peek(seq uint64) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.entries[seq]
	return data, ok
}

// Destroy removes the entry at seq, discarding its value.
func (b *PacketBuffer) Destroy(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, seq)
	b.removeFromOrderLocked(seq)
}

// HighestKey returns the largest sequence number currently buffered, and
// false if the buffer is empty.
func (b *PacketBuffer) HighestKey() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) == 0 {
		return 0, false
	}
	var max uint64
	first := true
	for seq := range b.entries {
		if first || seq > max {
			max = seq
			first = false
		}
	}
	return max, true
}

// Clear removes all entries.
func (b *PacketBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[uint64][]byte)
	b.order = nil
}

// Len returns the number of buffered entries.
func (b *PacketBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *PacketBuffer) removeFromOrderLocked(seq uint64) {
	for i, s := range b.order {
		if s == seq {
			b.order = append(b.order[:i], b.order[i+1:]...)
			return
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
