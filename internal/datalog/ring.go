package datalog

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// ringBuffer is a fixed-capacity FIFO of records that overwrites the oldest
// entry when full, like a circular set of flash pages.
// Not safe for concurrent use; the caller must synchronize.
type ringBuffer struct {
	buf      []Raw
	capacity int
	head     int // next write position
	count    int
	overflow bool // true if any record was dropped since the last rewind
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		buf:      make([]Raw, capacity),
		capacity: capacity,
	}
}

// push appends rec and reports whether the oldest record was overwritten.
func (r *ringBuffer) push(rec Raw) bool {
	if r.count == r.capacity {
		r.buf[r.head] = rec
		r.head = (r.head + 1) % r.capacity
		return true
	}
	r.buf[r.head] = rec
	r.head = (r.head + 1) % r.capacity
	r.count++
	return false
}

// at returns the i-th oldest record.
func (r *ringBuffer) at(i int) Raw {
	start := (r.head - r.count + r.capacity) % r.capacity
	return r.buf[(start+i)%r.capacity]
}

func (r *ringBuffer) len() int {
	return r.count
}

// MemStore is an in-memory Storage with a bounded number of records.
type MemStore struct {
	mu      sync.Mutex
	ring    *ringBuffer
	cursor  int
	dropped int
}

// NewMemStore creates a store that keeps the most recent capacity records.
func NewMemStore(capacity int) *MemStore {
	if capacity < 1 {
		capacity = 1
	}
	return &MemStore{ring: newRingBuffer(capacity)}
}

// Append stores rec, dropping the oldest record when full.
func (m *MemStore) Append(_ context.Context, rec Raw) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ring.push(rec) {
		if !m.ring.overflow {
			log.Warn().Int("capacity", m.ring.capacity).Msg("datalog: store full, dropping oldest records")
			m.ring.overflow = true
		}
		m.dropped++
		// The oldest unread record is gone; keep the cursor on the same data.
		if m.cursor > 0 {
			m.cursor--
		}
	}
	return nil
}

// Rewind resets the read cursor.
func (m *MemStore) Rewind(_ context.Context) error {
	m.mu.Lock()
	m.cursor = 0
	m.ring.overflow = false
	m.mu.Unlock()
	return nil
}

// Next returns the next record in append order.
func (m *MemStore) Next(_ context.Context) (Raw, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor >= m.ring.len() {
		return Raw{}, false, nil
	}
	rec := m.ring.at(m.cursor)
	m.cursor++
	return rec, true, nil
}

// Count returns the number of stored records.
func (m *MemStore) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.len(), nil
}

// Dropped returns how many records were overwritten since startup.
func (m *MemStore) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Close is a no-op.
func (m *MemStore) Close() error {
	return nil
}
