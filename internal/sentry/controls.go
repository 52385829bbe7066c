package sentry

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sweeney/sentry-node/internal/alarm"
	"github.com/sweeney/sentry-node/internal/clock"
	"github.com/sweeney/sentry-node/internal/flags"
	"github.com/sweeney/sentry-node/internal/mode"
	"github.com/sweeney/sentry-node/internal/transport"
)

type armRequest struct {
	set   bool
	armed bool
}

// latched holds the client requests collected since the last iteration.
type latched struct {
	arm     [len(alarm.Sensors)]armRequest
	clear   byte // bit per alarm.Sensor
	logging *bool
	replay  bool
	time    *clock.Timestamp
}

// controls is written by transport goroutines and drained by the loop.
type controls struct {
	mu      sync.Mutex
	pending latched
}

func (c *controls) latch(fn func(*latched)) {
	c.mu.Lock()
	fn(&c.pending)
	c.mu.Unlock()
}

func (c *controls) take() latched {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.pending
	c.pending = latched{}
	return l
}

// HandleWrite is the transport write hook. Writes with an unexpected
// length, or to a handle that is not writable, are dropped without any
// state change. Accepted writes wake the loop.
func (c *Coordinator) HandleWrite(h transport.Handle, value []byte) {
	switch h {
	case transport.HandleDFU, transport.HandleBroadcast, transport.HandleTimeSync:
		b, ok := oneByte(h, value)
		if !ok || b == 0 {
			return
		}
		c.requests.Set(requestBits[h])

	case transport.HandleTime:
		ts, err := clock.ParsePayload(value)
		if err != nil {
			log.Debug().Err(err).Str("handle", h.String()).Msg("dropping write")
			return
		}
		c.ctl.latch(func(l *latched) { l.time = &ts })

	case transport.HandlePresenceArm, transport.HandleMotionArm:
		b, ok := oneByte(h, value)
		if !ok {
			return
		}
		s := alarm.Presence
		if h == transport.HandleMotionArm {
			s = alarm.Motion
		}
		c.ctl.latch(func(l *latched) { l.arm[s] = armRequest{set: true, armed: b != 0} })

	case transport.HandleClearAlarm:
		b, ok := oneByte(h, value)
		if !ok {
			return
		}
		mask := b & (1<<alarm.Presence | 1<<alarm.Motion)
		if mask == 0 {
			log.Debug().Str("handle", h.String()).Msg("dropping empty clear request")
			return
		}
		c.ctl.latch(func(l *latched) { l.clear |= mask })

	case transport.HandleLogEnable:
		b, ok := oneByte(h, value)
		if !ok {
			return
		}
		enabled := b != 0
		c.ctl.latch(func(l *latched) { l.logging = &enabled })

	case transport.HandleLogReplay:
		b, ok := oneByte(h, value)
		if !ok || b == 0 {
			return
		}
		c.ctl.latch(func(l *latched) { l.replay = true })

	default:
		log.Debug().Str("handle", h.String()).Int("len", len(value)).Msg("dropping write to read-only handle")
		return
	}
	c.bridge.Set(flags.Control)
}

var requestBits = map[transport.Handle]mode.Bit{
	transport.HandleDFU:       mode.BitDFU,
	transport.HandleBroadcast: mode.BitBroadcast,
	transport.HandleTimeSync:  mode.BitTimeSync,
}

func oneByte(h transport.Handle, value []byte) (byte, bool) {
	if len(value) != 1 {
		log.Debug().Str("handle", h.String()).Int("len", len(value)).Msg("dropping write")
		return 0, false
	}
	return value[0], true
}

// HandleConnection is the transport connection hook. It wakes the loop so
// latched mode requests are re-evaluated against the new state.
func (c *Coordinator) HandleConnection(connected bool) {
	log.Info().Bool("connected", connected).Msg("peer connection changed")
	c.bridge.Set(flags.Control)
}
