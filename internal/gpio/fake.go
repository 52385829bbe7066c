package gpio

import (
	"sync"

	"github.com/sweeney/sentry-node/internal/alarm"
)

// FakeReader is a test double with settable line levels.
type FakeReader struct {
	mu sync.Mutex

	presence bool
	motion   bool
	vector   [3]byte
	onEdge   EdgeFunc

	// EdgesEnabled reflects the last EnableEdges/DisableEdges call.
	EdgesEnabled bool

	// EnableCalls and DisableCalls count edge control calls.
	EnableCalls  int
	DisableCalls int

	// ReadError, if set, will be returned by Read()
	ReadError error

	// EnableError, if set, will be returned by EnableEdges()
	EnableError error

	// Closed tracks if Close was called
	Closed bool
}

// NewFakeReader creates a FakeReader with both lines low and edges enabled.
func NewFakeReader(onEdge EdgeFunc) *FakeReader {
	return &FakeReader{onEdge: onEdge, EdgesEnabled: true}
}

// Set changes the line levels without firing edges.
func (f *FakeReader) Set(presence, motion bool) {
	f.mu.Lock()
	f.presence, f.motion = presence, motion
	f.mu.Unlock()
}

// SetVector sets the vector that the next motion edge caches.
func (f *FakeReader) SetVector(v [3]byte) {
	f.mu.Lock()
	f.vector = v
	f.mu.Unlock()
}

// Edge drives sensor's line to level and fires its edge callback when
// edges are enabled, as the interrupt handler would.
func (f *FakeReader) Edge(sensor alarm.Sensor, level bool) {
	f.mu.Lock()
	switch sensor {
	case alarm.Presence:
		f.presence = level
	case alarm.Motion:
		f.motion = level
	}
	enabled, cb := f.EdgesEnabled, f.onEdge
	f.mu.Unlock()
	if enabled && cb != nil {
		cb(sensor)
	}
}

// Read returns the current levels.
func (f *FakeReader) Read() (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadError != nil {
		return false, false, f.ReadError
	}
	return f.presence, f.motion, nil
}

// MotionVector returns the configured vector.
func (f *FakeReader) MotionVector() [3]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vector
}

// EnableEdges turns edge callbacks back on.
func (f *FakeReader) EnableEdges() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EnableCalls++
	if f.EnableError != nil {
		return f.EnableError
	}
	f.EdgesEnabled = true
	return nil
}

// DisableEdges suppresses edge callbacks.
func (f *FakeReader) DisableEdges() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DisableCalls++
	f.EdgesEnabled = false
	return nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}
