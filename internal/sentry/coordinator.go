// Package sentry is the node's coordinator: a single-threaded cooperative
// loop that drains the flag bridge in a fixed order and drives the clock,
// the alarm evaluator, the data log cycler and the mode arbiter.
//
// Interrupt context (GPIO edge handlers, timer goroutines, transport
// callbacks) only sets flags and latches write requests. Everything else
// runs on the goroutine calling Run.
package sentry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sweeney/sentry-node/internal/alarm"
	"github.com/sweeney/sentry-node/internal/clock"
	"github.com/sweeney/sentry-node/internal/datalog"
	"github.com/sweeney/sentry-node/internal/flags"
	"github.com/sweeney/sentry-node/internal/mode"
	"github.com/sweeney/sentry-node/internal/transport"
)

// Outcome tells the caller why the loop stopped.
type Outcome int

const (
	OutcomeRunning Outcome = iota
	OutcomeShutdown
	OutcomeBroadcast
	OutcomeFirmwareUpdate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRunning:
		return "running"
	case OutcomeShutdown:
		return "shutdown"
	case OutcomeBroadcast:
		return "broadcast"
	case OutcomeFirmwareUpdate:
		return "firmware_update"
	}
	return "unknown"
}

// Config holds the coordinator's behavioural defaults.
type Config struct {
	PresenceArmed  bool
	MotionArmed    bool
	LoggingEnabled bool
	// LogInterval is the number of log ticks per appended record.
	LogInterval int
	// ReplayAckTimeout bounds the wait for a send completion after the
	// transport reports Busy during a replay.
	ReplayAckTimeout time.Duration
}

// DefaultConfig returns the factory defaults.
func DefaultConfig() Config {
	return Config{
		PresenceArmed:    true,
		MotionArmed:      true,
		LoggingEnabled:   true,
		LogInterval:      10,
		ReplayAckTimeout: 2 * time.Second,
	}
}

// Deps are the coordinator's collaborators. Observer is optional.
type Deps struct {
	Bridge      *flags.Bridge
	Clock       *clock.Clock
	Store       datalog.Storage
	Link        Link
	Sensors     Sensors
	Interrupts  Interrupts
	SecondTimer Timer
	LogTimer    Timer
	Restarter   Restarter
	Observer    Observer
}

// NotifyCounts counts notify outcomes.
type NotifyCounts struct {
	Delivered    int
	NotConnected int
	Busy         int
}

// Coordinator owns all node state that is not touched from interrupt
// context.
type Coordinator struct {
	cfg Config

	bridge    *flags.Bridge
	clock     *clock.Clock
	evaluator *alarm.Evaluator
	cycler    *datalog.Cycler
	arbiter   *mode.Arbiter
	requests  mode.Request
	ctl       controls

	link        Link
	sensors     Sensors
	interrupts  Interrupts
	secondTimer Timer
	logTimer    Timer
	restarter   Restarter
	observer    Observer

	presence      bool
	vector        [3]byte
	lastRecord    *datalog.Raw
	records       int
	notifies      NotifyCounts
	sendCompletes int
}

// New wires a coordinator. Nothing runs until Start.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	switch {
	case deps.Bridge == nil:
		return nil, fmt.Errorf("%w: bridge", ErrMissingDependency)
	case deps.Clock == nil:
		return nil, fmt.Errorf("%w: clock", ErrMissingDependency)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	case deps.Link == nil:
		return nil, fmt.Errorf("%w: link", ErrMissingDependency)
	case deps.Sensors == nil:
		return nil, fmt.Errorf("%w: sensors", ErrMissingDependency)
	case deps.Interrupts == nil:
		return nil, fmt.Errorf("%w: interrupts", ErrMissingDependency)
	case deps.SecondTimer == nil || deps.LogTimer == nil:
		return nil, fmt.Errorf("%w: timers", ErrMissingDependency)
	case deps.Restarter == nil:
		return nil, fmt.Errorf("%w: restarter", ErrMissingDependency)
	}
	if cfg.ReplayAckTimeout <= 0 {
		cfg.ReplayAckTimeout = DefaultConfig().ReplayAckTimeout
	}
	return &Coordinator{
		cfg:         cfg,
		bridge:      deps.Bridge,
		clock:       deps.Clock,
		evaluator:   alarm.NewEvaluator(cfg.PresenceArmed, cfg.MotionArmed),
		cycler:      datalog.NewCycler(deps.Store, cfg.LogInterval, cfg.LoggingEnabled),
		arbiter:     mode.NewArbiter(),
		link:        deps.Link,
		sensors:     deps.Sensors,
		interrupts:  deps.Interrupts,
		secondTimer: deps.SecondTimer,
		logTimer:    deps.LogTimer,
		restarter:   deps.Restarter,
		observer:    deps.Observer,
	}, nil
}

// Start brings up the transport, the edge interrupts and both timers. Any
// failure is fatal. Both edge flags are raised so the first iteration
// reads the initial sensor levels.
func (c *Coordinator) Start(ctx context.Context) error {
	hooks := transport.Hooks{
		Write:        c.HandleWrite,
		Connection:   c.HandleConnection,
		SendComplete: func() { c.bridge.Set(flags.SendComplete) },
	}
	if err := c.link.Start(hooks); err != nil {
		return fatal("start transport", err)
	}
	if err := c.link.StartAdvertising(); err != nil {
		return fatal("start advertising", err)
	}
	if err := c.interrupts.EnableEdges(); err != nil {
		return fatal("enable edge interrupts", err)
	}
	if err := c.secondTimer.Start(); err != nil {
		return fatal("start second timer", err)
	}
	if err := c.logTimer.Start(); err != nil {
		return fatal("start log timer", err)
	}
	n, err := c.cycler.Count(ctx)
	if err != nil {
		return fatal("open data log", err)
	}
	c.records = n

	c.bridge.Set(flags.PresenceEdge)
	c.bridge.Set(flags.MotionEdge)
	log.Info().
		Str("time", c.clock.Now().String()).
		Int("records", n).
		Bool("logging", c.cfg.LoggingEnabled).
		Msg("coordinator started")
	return nil
}

// Stop halts the timers and edge interrupts. Errors are logged.
func (c *Coordinator) Stop() {
	if err := c.secondTimer.Stop(); err != nil {
		log.Warn().Err(err).Msg("stop second timer")
	}
	if err := c.logTimer.Stop(); err != nil {
		log.Warn().Err(err).Msg("stop log timer")
	}
	if err := c.interrupts.DisableEdges(); err != nil {
		log.Warn().Err(err).Msg("disable edge interrupts")
	}
}

// Run iterates until the context is cancelled, a terminal mode is entered
// or a fatal error occurs. Between iterations it blocks in Bridge.Wait,
// the loop's only suspension point.
func (c *Coordinator) Run(ctx context.Context) (Outcome, error) {
	for {
		out, err := c.Iterate(ctx)
		if err != nil || out != OutcomeRunning {
			return out, err
		}
		if err := c.bridge.Wait(ctx); err != nil {
			return OutcomeShutdown, nil
		}
	}
}

// Iterate performs one pass over the pending work in a fixed order:
// mode checks, presence alarm, motion alarm, second tick, log tick or
// replay, time sync, clear alarm, send completion.
func (c *Coordinator) Iterate(ctx context.Context) (Outcome, error) {
	if ctx.Err() != nil {
		return OutcomeShutdown, nil
	}
	if out, err := c.checkMode(); out != OutcomeRunning || err != nil {
		return out, err
	}

	l := c.applyControls()
	c.handleSensors(l)
	c.handleSecondTick()
	if err := c.handleLog(ctx); err != nil {
		return OutcomeRunning, err
	}
	c.handleTimeSync(l)
	c.handleClear(l)
	if c.bridge.Take(flags.SendComplete) {
		c.sendCompletes++
	}

	if c.observer != nil {
		c.observer.Observe(c.Snapshot())
	}
	return OutcomeRunning, nil
}

func (c *Coordinator) checkMode() (Outcome, error) {
	if prev := c.arbiter.Mode(); prev.Terminal() {
		return outcomeFor(prev), nil
	}
	switch c.arbiter.Evaluate(&c.requests, c.link) {
	case mode.FirmwareUpdate:
		log.Warn().Msg("entering firmware update mode")
		if err := c.restarter.EnterUpdateMode(); err != nil {
			return OutcomeFirmwareUpdate, fatal("persist update request", err)
		}
		return OutcomeFirmwareUpdate, nil
	case mode.BroadcastOnly:
		c.enterBroadcast()
		return OutcomeBroadcast, nil
	}
	return OutcomeRunning, nil
}

func outcomeFor(m mode.Mode) Outcome {
	switch m {
	case mode.FirmwareUpdate:
		return OutcomeFirmwareUpdate
	case mode.BroadcastOnly:
		return OutcomeBroadcast
	}
	return OutcomeRunning
}

// enterBroadcast swaps connectable advertising for a broadcast of the
// latest log record.
func (c *Coordinator) enterBroadcast() {
	if err := c.link.StopAdvertising(); err != nil {
		log.Warn().Err(err).Msg("stop advertising")
	}
	payload := c.currentRecord().Encode()
	if c.lastRecord != nil {
		payload = *c.lastRecord
	}
	if err := c.link.StartBroadcast(payload[:]); err != nil {
		log.Warn().Err(err).Msg("start broadcast")
	}
	log.Info().Msg("entered broadcast-only mode")
}

func (c *Coordinator) applyControls() latched {
	if !c.bridge.Take(flags.Control) {
		return latched{}
	}
	l := c.ctl.take()
	for _, s := range alarm.Sensors {
		if l.arm[s].set {
			c.evaluator.SetArmed(s, l.arm[s].armed)
			log.Info().Str("sensor", s.String()).Bool("armed", l.arm[s].armed).Msg("arm changed")
		}
	}
	if l.logging != nil {
		c.cycler.SetLogging(*l.logging)
		log.Info().Bool("enabled", *l.logging).Msg("logging changed")
	}
	if l.replay {
		c.cycler.RequestReplay()
		log.Info().Msg("log replay requested")
	}
	return l
}

// handleSensors re-reads the lines for every sensor whose edge flag was
// observed. Edge direction is never trusted since flags coalesce.
func (c *Coordinator) handleSensors(l latched) {
	presence := c.bridge.Take(flags.PresenceEdge) || l.arm[alarm.Presence].set
	motion := c.bridge.Take(flags.MotionEdge) || l.arm[alarm.Motion].set
	if !presence && !motion {
		return
	}
	p, m, err := c.sensors.Read()
	if err != nil {
		log.Error().Err(err).Msg("sensor read failed")
		return
	}
	if presence {
		c.presence = p
		c.notify(transport.HandlePresenceLevel, []byte{boolByte(p)})
		c.evaluate(alarm.Presence, p)
	}
	if motion {
		c.vector = c.sensors.MotionVector()
		c.evaluate(alarm.Motion, m)
	}
}

func (c *Coordinator) evaluate(s alarm.Sensor, raw bool) {
	if ch, ok := c.evaluator.Evaluate(s, raw); ok {
		c.pushAlarm(ch)
	}
}

// pushAlarm notifies ch and commits it whatever the outcome.
func (c *Coordinator) pushAlarm(ch alarm.Change) {
	out := c.notify(alarmHandle(ch.Sensor), []byte{ch.To.Byte()})
	c.evaluator.Commit(ch)
	log.Info().
		Str("sensor", ch.Sensor.String()).
		Str("from", string(ch.From)).
		Str("to", string(ch.To)).
		Str("outcome", out.String()).
		Msg("alarm transition")
}

func (c *Coordinator) handleSecondTick() {
	if !c.bridge.Take(flags.SecondTick) {
		return
	}
	now := c.clock.AdvanceOneSecond()
	c.notify(transport.HandleTime, now.Payload())
}

func (c *Coordinator) handleLog(ctx context.Context) error {
	if c.cycler.ReplayPending() {
		return c.replay(ctx)
	}
	if !c.bridge.Take(flags.LogTick) || !c.cycler.OnLogTick() {
		return nil
	}
	rec := c.currentRecord()
	if err := c.cycler.Append(ctx, rec); err != nil {
		log.Error().Err(err).Msg("append log record")
		return nil
	}
	raw := rec.Encode()
	c.lastRecord = &raw
	if n, err := c.cycler.Count(ctx); err == nil {
		c.records = n
	}
	log.Debug().Str("time", rec.Timestamp.String()).Int("records", c.records).Msg("log record appended")
	return nil
}

func (c *Coordinator) currentRecord() datalog.Record {
	return datalog.Record{
		Timestamp: c.clock.Now(),
		Motion:    c.vector,
		Presence:  boolByte(c.presence),
	}
}

func (c *Coordinator) handleTimeSync(l latched) {
	if l.time != nil {
		if err := c.clock.SetTime(*l.time); err != nil {
			log.Warn().Err(err).Msg("set time")
		} else {
			log.Info().Str("time", l.time.String()).Msg("clock set")
		}
	}
	if c.requests.Take(mode.BitTimeSync) {
		c.notify(transport.HandleTime, c.clock.Now().Payload())
	}
}

func (c *Coordinator) handleClear(l latched) {
	for _, s := range alarm.Sensors {
		if l.clear&(1<<s) == 0 {
			continue
		}
		if ch, ok := c.evaluator.Clear(s); ok {
			c.pushAlarm(ch)
		}
	}
}

// notify pushes value and counts the outcome. No outcome is an error and
// nothing is retried.
func (c *Coordinator) notify(h transport.Handle, value []byte) transport.Outcome {
	out := c.link.Notify(h, value)
	switch out {
	case transport.Delivered:
		c.notifies.Delivered++
	case transport.NotConnected:
		c.notifies.NotConnected++
	case transport.Busy:
		c.notifies.Busy++
	}
	if out != transport.Delivered {
		log.Debug().Str("handle", h.String()).Str("outcome", out.String()).Msg("notify not delivered")
	}
	return out
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
