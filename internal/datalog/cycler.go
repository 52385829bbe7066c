package datalog

import (
	"context"
	"fmt"
)

// State is the phase of the log cycle.
type State int

const (
	StateIdle          State = iota // logging disabled, no replay requested
	StateArmed                      // logging enabled, waiting for the interval
	StateLogging                    // a record is due
	StateReplayPending              // a client asked for the history
	StateReplaying                  // records are being transmitted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateLogging:
		return "logging"
	case StateReplayPending:
		return "replay_pending"
	case StateReplaying:
		return "replaying"
	}
	return "unknown"
}

// Stats counts cycler activity.
type Stats struct {
	Appended int
	Replayed int
	Replays  int
}

// Cycler decides when records are appended and guards the store while a
// replay is transmitting it. Owned by the coordinator goroutine.
type Cycler struct {
	store          Storage
	interval       int // log ticks per record
	counter        int
	loggingDefault bool
	logging        bool
	state          State
	stats          Stats
}

// NewCycler creates a cycler that appends one record every interval log
// ticks while logging is enabled.
func NewCycler(store Storage, interval int, loggingEnabled bool) *Cycler {
	if interval < 1 {
		interval = 1
	}
	c := &Cycler{
		store:          store,
		interval:       interval,
		loggingDefault: loggingEnabled,
		logging:        loggingEnabled,
	}
	c.state = c.restState()
	return c
}

func (c *Cycler) restState() State {
	if c.logging {
		return StateArmed
	}
	return StateIdle
}

// State returns the current phase.
func (c *Cycler) State() State {
	return c.state
}

// Replaying reports whether a replay cycle owns the store.
func (c *Cycler) Replaying() bool {
	return c.state == StateReplaying
}

// LoggingEnabled reports the logging-enable bit.
func (c *Cycler) LoggingEnabled() bool {
	return c.logging
}

// SetLogging sets the logging-enable bit. The interval count restarts.
func (c *Cycler) SetLogging(enabled bool) {
	c.logging = enabled
	c.counter = 0
	if c.state == StateIdle || c.state == StateArmed || c.state == StateLogging {
		c.state = c.restState()
	}
}

// RequestReplay latches a client request for the stored history.
// It is ignored while a replay is already running.
func (c *Cycler) RequestReplay() {
	if c.state != StateReplaying {
		c.state = StateReplayPending
	}
}

// ReplayPending reports whether a replay has been requested but not started.
func (c *Cycler) ReplayPending() bool {
	return c.state == StateReplayPending
}

// OnLogTick advances the interval counter and reports whether a record is
// due. Ticks observed while a replay is pending or running are consumed
// without logging.
func (c *Cycler) OnLogTick() bool {
	if c.state == StateReplayPending || c.state == StateReplaying {
		return false
	}
	c.counter = (c.counter + 1) % c.interval
	if c.counter != 0 || !c.logging {
		return false
	}
	c.state = StateLogging
	return true
}

// Append stores rec. It fails with ErrReplayActive while a replay runs.
func (c *Cycler) Append(ctx context.Context, rec Record) error {
	if c.state == StateReplaying {
		return ErrReplayActive
	}
	if err := c.store.Append(ctx, rec.Encode()); err != nil {
		return err
	}
	c.stats.Appended++
	if c.state == StateLogging {
		c.state = c.restState()
	}
	return nil
}

// BeginReplay takes ownership of the store and rewinds it.
func (c *Cycler) BeginReplay(ctx context.Context) error {
	if err := c.store.Rewind(ctx); err != nil {
		return fmt.Errorf("rewind log: %w", err)
	}
	c.state = StateReplaying
	c.stats.Replays++
	return nil
}

// NextReplay returns the next stored record of the running replay.
func (c *Cycler) NextReplay(ctx context.Context) (Raw, bool, error) {
	if c.state != StateReplaying {
		return Raw{}, false, nil
	}
	rec, ok, err := c.store.Next(ctx)
	if ok {
		c.stats.Replayed++
	}
	return rec, ok, err
}

// EndReplay releases the store and resets the logging-enable and replay
// request bits to their defaults.
func (c *Cycler) EndReplay() {
	c.logging = c.loggingDefault
	c.counter = 0
	c.state = c.restState()
}

// Stats returns the activity counters.
func (c *Cycler) Stats() Stats {
	return c.stats
}

// Count returns the number of stored records.
func (c *Cycler) Count(ctx context.Context) (int, error) {
	return c.store.Count(ctx)
}
