//go:build !linux

package gpio

import (
	"errors"
	"time"
)

// Options configures the sensor lines.
type Options struct {
	Chip         string
	PinPresence  int
	PinMotion    int
	ActiveLow    bool
	Debounce     time.Duration
	OnEdge       EdgeFunc
	MotionSource VectorSource
}

// RealReader is not available on non-Linux platforms.
type RealReader struct{}

// NewRealReader returns an error on non-Linux platforms.
func NewRealReader(Options) (*RealReader, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (r *RealReader) Read() (bool, bool, error) {
	return false, false, errors.New("gpio: not supported")
}

// MotionVector always returns zero.
func (r *RealReader) MotionVector() [3]byte { return [3]byte{} }

// EnableEdges is not implemented on non-Linux platforms.
func (r *RealReader) EnableEdges() error { return errors.New("gpio: not supported") }

// DisableEdges is not implemented on non-Linux platforms.
func (r *RealReader) DisableEdges() error { return errors.New("gpio: not supported") }

// Close is not implemented on non-Linux platforms.
func (r *RealReader) Close() error {
	return nil
}
