// Package status provides a thread-safe status tracker for the sentry-node daemon.
// It is fed by the coordinator after every iteration and read by HTTP handlers
// and system event publishers.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/sentry-node/internal/sentry"
)

// NetworkInfo contains network state as reported by the host helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Transport     string
	Broker        string
	HTTPAddr      string
	Storage       string
	LogIntervalMs int64
	PinPresence   int
	PinMotion     int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Node      sentry.State
	Ready     bool // at least one coordinator iteration has completed
	StartTime time.Time
	Now       time.Time
	LinkUp    bool // broker or adapter link, independent of any peer
	Network   *NetworkInfo
	Config    Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Observe records the coordinator state. It implements sentry.Observer.
func (t *Tracker) Observe(s sentry.State) {
	t.mu.Lock()
	t.snap.Node = s
	t.snap.Ready = true
	t.mu.Unlock()
}

// SetLinkUp sets the transport link status.
func (t *Tracker) SetLinkUp(up bool) {
	t.mu.Lock()
	t.snap.LinkUp = up
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

var _ sentry.Observer = (*Tracker)(nil)
