// Package flags carries "event occurred" signals from interrupt context to
// the coordinator loop.
//
// Each flag has one producer (a GPIO edge handler, a ticker goroutine or a
// transport callback) and one consumer (the coordinator). Setting a flag
// never blocks. Repeated sets before the consumer runs coalesce into one
// observation, so delivery is at-least-once, never exactly-once.
package flags

import (
	"context"
	"sync/atomic"
	"time"
)

// Flag is a single event signal.
type Flag uint32

const (
	PresenceEdge Flag = 1 << iota
	MotionEdge
	LogTick
	SecondTick
	SendComplete
	// Control is set when a client write latched a request.
	Control
)

// All lists every flag.
var All = [...]Flag{PresenceEdge, MotionEdge, LogTick, SecondTick, SendComplete, Control}

func (f Flag) String() string {
	switch f {
	case PresenceEdge:
		return "presence_edge"
	case MotionEdge:
		return "motion_edge"
	case LogTick:
		return "log_tick"
	case SecondTick:
		return "second_tick"
	case SendComplete:
		return "send_complete"
	case Control:
		return "control"
	}
	return "unknown"
}

// Stats counts producer activity for status reporting.
type Stats struct {
	Sets      uint32 // accepted sets
	Coalesced uint32 // sets that found the flag already pending
	Dropped   uint32 // sets rejected because the producer was disabled
}

// Bridge is a fixed set of flags plus a one-slot wake signal.
type Bridge struct {
	pending  atomic.Uint32
	disabled atomic.Uint32
	wake     chan struct{}

	sets      atomic.Uint32
	coalesced atomic.Uint32
	dropped   atomic.Uint32
}

// NewBridge creates a bridge with every producer enabled.
func NewBridge() *Bridge {
	return &Bridge{wake: make(chan struct{}, 1)}
}

// Set raises f and wakes the consumer. Safe to call from any goroutine.
func (b *Bridge) Set(f Flag) {
	if b.disabled.Load()&uint32(f) != 0 {
		b.dropped.Add(1)
		return
	}
	old := b.pending.Or(uint32(f))
	if old&uint32(f) != 0 {
		b.coalesced.Add(1)
	} else {
		b.sets.Add(1)
	}
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Take reports whether f was pending and clears it.
func (b *Bridge) Take(f Flag) bool {
	return b.pending.And(^uint32(f))&uint32(f) != 0
}

// Pending reports whether f is set without consuming it.
func (b *Bridge) Pending(f Flag) bool {
	return b.pending.Load()&uint32(f) != 0
}

// Any reports whether any flag is pending.
func (b *Bridge) Any() bool {
	return b.pending.Load() != 0
}

// Disable stops the producer of f: later sets are dropped until Enable.
// A set already pending is left in place.
func (b *Bridge) Disable(f Flag) {
	b.disabled.Or(uint32(f))
}

// Enable lets the producer of f set it again.
func (b *Bridge) Enable(f Flag) {
	b.disabled.And(^uint32(f))
}

// Enabled reports whether the producer of f is enabled.
func (b *Bridge) Enabled(f Flag) bool {
	return b.disabled.Load()&uint32(f) == 0
}

// Wait blocks until a flag is pending or ctx is done. It returns at once
// when a flag is already pending, so a set racing with the end of an
// iteration is never slept through.
func (b *Bridge) Wait(ctx context.Context) error {
	for !b.Any() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.wake:
		}
	}
	return nil
}

// Await blocks until f is pending and consumes it, or until timeout or ctx
// expires. It reports whether f was observed.
func (b *Bridge) Await(ctx context.Context, f Flag, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if b.Take(f) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return b.Take(f)
		case <-b.wake:
		}
	}
}

// Stats returns the producer counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Sets:      b.sets.Load(),
		Coalesced: b.coalesced.Load(),
		Dropped:   b.dropped.Load(),
	}
}
