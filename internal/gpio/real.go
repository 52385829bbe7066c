//go:build linux

package gpio

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/sentry-node/internal/alarm"
)

// Options configures the sensor lines.
type Options struct {
	Chip         string // e.g. "gpiochip0"
	PinPresence  int
	PinMotion    int
	ActiveLow    bool          // sensors pull the line low when asserting
	Debounce     time.Duration // kernel debounce, 0 disables
	OnEdge       EdgeFunc
	MotionSource VectorSource // optional; vector cached on each motion edge
}

// RealReader reads the sensor lines from the Linux GPIO character device.
// Edge events are delivered on gpiocdev's event goroutine.
type RealReader struct {
	chip     *gpiocdev.Chip
	presence *gpiocdev.Line
	motion   *gpiocdev.Line
	source   VectorSource
	onEdge   EdgeFunc
	vector   atomic.Uint32 // packed x<<16 | y<<8 | z
}

// NewRealReader requests both lines as inputs with edge detection.
func NewRealReader(opts Options) (*RealReader, error) {
	if opts.Chip == "" {
		opts.Chip = "gpiochip0"
	}
	chip, err := gpiocdev.NewChip(opts.Chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	r := &RealReader{chip: chip, source: opts.MotionSource, onEdge: opts.OnEdge}

	lineOpts := func(sensor alarm.Sensor) []gpiocdev.LineReqOption {
		o := []gpiocdev.LineReqOption{
			gpiocdev.AsInput,
			gpiocdev.WithPullDown,
			gpiocdev.WithBothEdges,
			gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { r.handleEdge(sensor) }),
		}
		if opts.ActiveLow {
			o = append(o, gpiocdev.AsActiveLow)
		}
		if opts.Debounce > 0 {
			o = append(o, gpiocdev.WithDebounce(opts.Debounce))
		}
		return o
	}

	r.presence, err = chip.RequestLine(opts.PinPresence, lineOpts(alarm.Presence)...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request presence pin %d: %w", opts.PinPresence, err)
	}

	r.motion, err = chip.RequestLine(opts.PinMotion, lineOpts(alarm.Motion)...)
	if err != nil {
		r.presence.Close()
		chip.Close()
		return nil, fmt.Errorf("request motion pin %d: %w", opts.PinMotion, err)
	}

	return r, nil
}

// handleEdge runs in interrupt context: cache the motion vector, then
// signal. Nothing else.
func (r *RealReader) handleEdge(sensor alarm.Sensor) {
	if sensor == alarm.Motion && r.source != nil {
		v := r.source.Latest()
		r.vector.Store(uint32(v[0])<<16 | uint32(v[1])<<8 | uint32(v[2]))
	}
	if r.onEdge != nil {
		r.onEdge(sensor)
	}
}

// Read returns the logical levels of both lines.
func (r *RealReader) Read() (bool, bool, error) {
	p, err := r.presence.Value()
	if err != nil {
		return false, false, fmt.Errorf("read presence pin: %w", err)
	}
	m, err := r.motion.Value()
	if err != nil {
		return false, false, fmt.Errorf("read motion pin: %w", err)
	}
	return p == 1, m == 1, nil
}

// MotionVector returns the vector cached at the last motion edge.
func (r *RealReader) MotionVector() [3]byte {
	v := r.vector.Load()
	return [3]byte{byte(v >> 16), byte(v >> 8), byte(v)}
}

// EnableEdges re-arms edge detection on both lines.
func (r *RealReader) EnableEdges() error {
	if err := r.presence.Reconfigure(gpiocdev.WithBothEdges); err != nil {
		return fmt.Errorf("enable presence edges: %w", err)
	}
	if err := r.motion.Reconfigure(gpiocdev.WithBothEdges); err != nil {
		return fmt.Errorf("enable motion edges: %w", err)
	}
	return nil
}

// DisableEdges stops edge detection on both lines.
func (r *RealReader) DisableEdges() error {
	if err := r.presence.Reconfigure(gpiocdev.WithoutEdges); err != nil {
		return fmt.Errorf("disable presence edges: %w", err)
	}
	if err := r.motion.Reconfigure(gpiocdev.WithoutEdges); err != nil {
		return fmt.Errorf("disable motion edges: %w", err)
	}
	return nil
}

// Close releases GPIO resources.
// Reconfigures pins to input with pull-down before closing so the lines are
// left in their boot default state.
func (r *RealReader) Close() error {
	var errs []error

	for name, l := range map[string]*gpiocdev.Line{"presence": r.presence, "motion": r.motion} {
		if l == nil {
			continue
		}
		if err := l.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown, gpiocdev.WithoutEdges); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", name, err))
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", name, err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		log.Warn().Errs("errors", errs).Msg("gpio: close")
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
