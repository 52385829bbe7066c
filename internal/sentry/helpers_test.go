package sentry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sweeney/sentry-node/internal/alarm"
	"github.com/sweeney/sentry-node/internal/clock"
	"github.com/sweeney/sentry-node/internal/datalog"
	"github.com/sweeney/sentry-node/internal/flags"
	"github.com/sweeney/sentry-node/internal/gpio"
	"github.com/sweeney/sentry-node/internal/transport"
)

type fakeTimer struct {
	starts, stops int
	running       bool
	startErr      error
}

func (t *fakeTimer) Start() error {
	t.starts++
	if t.startErr != nil {
		return t.startErr
	}
	t.running = true
	return nil
}

func (t *fakeTimer) Stop() error {
	t.stops++
	t.running = false
	return nil
}

type fakeRestarter struct {
	calls int
	err   error
}

func (r *fakeRestarter) EnterUpdateMode() error {
	r.calls++
	return r.err
}

type recordingObserver struct {
	calls int
	last  State
}

func (o *recordingObserver) Observe(s State) {
	o.calls++
	o.last = s
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	c         *Coordinator
	bridge    *flags.Bridge
	clock     *clock.Clock
	link      *transport.Fake
	gpio      *gpio.FakeReader
	second    *fakeTimer
	logTimer  *fakeTimer
	restarter *fakeRestarter
	store     *datalog.MemStore
	observer  *recordingObserver
}

var start = clock.Timestamp{Year: 2024, Month: 1, Day: 20, Hours: 14, Minutes: 5, Seconds: 30}

// newHarness builds and starts a coordinator over fakes, then runs the
// baseline iteration.
func newHarness(t *testing.T, cfg Config) *harness {
	return newHarnessWithLink(t, cfg, transport.NewFake(), nil)
}

func newHarnessWithLink(t *testing.T, cfg Config, fake *transport.Fake, link Link) *harness {
	t.Helper()
	bridge := flags.NewBridge()
	h := &harness{
		t:         t,
		ctx:       context.Background(),
		bridge:    bridge,
		clock:     clock.New(start),
		link:      fake,
		gpio:      gpio.NewFakeReader(func(s alarm.Sensor) { bridge.Set(EdgeFlag(s)) }),
		second:    &fakeTimer{},
		logTimer:  &fakeTimer{},
		restarter: &fakeRestarter{},
		store:     datalog.NewMemStore(64),
		observer:  &recordingObserver{},
	}
	if link == nil {
		link = fake
	}
	c, err := New(cfg, Deps{
		Bridge:      h.bridge,
		Clock:       h.clock,
		Store:       h.store,
		Link:        link,
		Sensors:     h.gpio,
		Interrupts:  h.gpio,
		SecondTimer: h.second,
		LogTimer:    h.logTimer,
		Restarter:   h.restarter,
		Observer:    h.observer,
	})
	require.NoError(t, err)
	h.c = c
	require.NoError(t, c.Start(h.ctx))
	h.iterate()
	return h
}

func (h *harness) iterate() Outcome {
	h.t.Helper()
	out, err := h.c.Iterate(h.ctx)
	require.NoError(h.t, err)
	return out
}

func (h *harness) appendRecords(n int) []datalog.Raw {
	h.t.Helper()
	var out []datalog.Raw
	for i := 0; i < n; i++ {
		rec := datalog.Record{Timestamp: start, Motion: [3]byte{byte(i), 0, 0}, Presence: 1}
		raw := rec.Encode()
		require.NoError(h.t, h.store.Append(h.ctx, raw))
		out = append(out, raw)
	}
	return out
}
