// Package gpio provides the presence and motion sensor lines with hardware
// abstraction. The real implementation uses the Linux GPIO character device
// with edge events; the fake implementation allows testing without hardware.
package gpio

import "github.com/sweeney/sentry-node/internal/alarm"

// Reader reads the sensor lines.
type Reader interface {
	// Read returns the logical levels of the presence and motion lines.
	// true means the sensor is asserting (presence detected / motion INT).
	Read() (presence bool, motion bool, err error)

	// MotionVector returns the accelerometer vector cached when the last
	// motion edge fired.
	MotionVector() [3]byte

	// Close releases GPIO resources.
	Close() error
}

// EdgeControl turns edge interrupts on and off.
type EdgeControl interface {
	EnableEdges() error
	DisableEdges() error
}

// EdgeFunc is called from interrupt context when a sensor line changes.
// It must not block.
type EdgeFunc func(alarm.Sensor)

// VectorSource provides the most recent accelerometer sample.
type VectorSource interface {
	Latest() [3]byte
}

// Pin definitions (BCM numbering)
const (
	DefaultPinPresence = 17
	DefaultPinMotion   = 27
)
