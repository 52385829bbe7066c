package sentry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/sentry-node/internal/alarm"
	"github.com/sweeney/sentry-node/internal/clock"
	"github.com/sweeney/sentry-node/internal/datalog"
	"github.com/sweeney/sentry-node/internal/flags"
	"github.com/sweeney/sentry-node/internal/mode"
	"github.com/sweeney/sentry-node/internal/transport"
)

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{})
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestStartFailuresAreFatal(t *testing.T) {
	fake := transport.NewFake()
	fake.StartError = errors.New("no adapter")
	bridge := flags.NewBridge()
	c, err := New(DefaultConfig(), Deps{
		Bridge:      bridge,
		Clock:       clock.New(start),
		Store:       datalog.NewMemStore(4),
		Link:        fake,
		Sensors:     &stubSensors{},
		Interrupts:  &stubSensors{},
		SecondTimer: &fakeTimer{},
		LogTimer:    &fakeTimer{},
		Restarter:   &fakeRestarter{},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Start(context.Background()), ErrFatal)

	fake.StartError = nil
	lt := &fakeTimer{startErr: errors.New("no timer")}
	c, err = New(DefaultConfig(), Deps{
		Bridge:      bridge,
		Clock:       clock.New(start),
		Store:       datalog.NewMemStore(4),
		Link:        fake,
		Sensors:     &stubSensors{},
		Interrupts:  &stubSensors{},
		SecondTimer: &fakeTimer{},
		LogTimer:    lt,
		Restarter:   &fakeRestarter{},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, c.Start(context.Background()), ErrFatal)
}

type stubSensors struct{}

func (stubSensors) Read() (bool, bool, error) { return false, false, nil }
func (stubSensors) MotionVector() [3]byte     { return [3]byte{} }
func (stubSensors) EnableEdges() error        { return nil }
func (stubSensors) DisableEdges() error       { return nil }

func TestStartReadsBaseline(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	assert.True(t, h.link.Advertising)
	assert.True(t, h.second.running)
	assert.True(t, h.logTimer.running)
	assert.Equal(t, 1, h.gpio.EnableCalls)
	assert.Equal(t, 1, h.link.AttemptsFor(transport.HandlePresenceLevel), "baseline raw level push")
	assert.Zero(t, h.link.AttemptsFor(transport.HandlePresenceAlarm))
	assert.Zero(t, h.link.AttemptsFor(transport.HandleMotionAlarm))
	assert.Equal(t, 1, h.observer.calls)
}

func TestPresenceRaisedAtBoot(t *testing.T) {
	fake := transport.NewFake()
	fake.SetAll(true)
	bridge := flags.NewBridge()
	sensors := &levelSensors{presence: true}
	c, err := New(DefaultConfig(), Deps{
		Bridge: bridge, Clock: clock.New(start), Store: datalog.NewMemStore(4),
		Link: fake, Sensors: sensors, Interrupts: sensors,
		SecondTimer: &fakeTimer{}, LogTimer: &fakeTimer{}, Restarter: &fakeRestarter{},
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	_, err = c.Iterate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, [][]byte{{1}}, fake.Values(transport.HandlePresenceAlarm))
}

type levelSensors struct {
	stubSensors
	presence, motion bool
}

func (s *levelSensors) Read() (bool, bool, error) { return s.presence, s.motion, nil }

func TestCoalescedEdgesEvaluateOnce(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.link.Connect()
	h.iterate()
	before := h.link.AttemptsFor(transport.HandlePresenceLevel)

	// Clear -> Raised -> Clear -> Raised before the loop runs.
	h.gpio.Edge(alarm.Presence, true)
	h.gpio.Edge(alarm.Presence, false)
	h.gpio.Edge(alarm.Presence, true)
	assert.GreaterOrEqual(t, h.bridge.Stats().Coalesced, uint32(2))

	h.iterate()
	assert.Equal(t, before+1, h.link.AttemptsFor(transport.HandlePresenceLevel), "one handler run for N edges")
	assert.Equal(t, [][]byte{{1}}, h.link.Values(transport.HandlePresenceAlarm))

	h.iterate()
	assert.Len(t, h.link.Values(transport.HandlePresenceAlarm), 1, "unchanged level must not push again")
}

func TestCoalescedEdgesWithNoNetChange(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.link.Connect()

	h.gpio.Edge(alarm.Presence, true)
	h.gpio.Edge(alarm.Presence, false)
	h.iterate()

	assert.Empty(t, h.link.Values(transport.HandlePresenceAlarm))
	assert.Equal(t, alarm.LevelClear, h.c.Snapshot().Alarms[alarm.Presence].LastReported)
}

func TestMotionAlarmCachesVector(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.link.Connect()

	h.gpio.SetVector([3]byte{1, 2, 3})
	h.gpio.Edge(alarm.Motion, true)
	h.iterate()

	assert.Equal(t, [][]byte{{1}}, h.link.Values(transport.HandleMotionAlarm))
	assert.Equal(t, [3]byte{1, 2, 3}, h.c.Snapshot().Vector)
	assert.Equal(t, 1, h.c.Snapshot().Counts.MotionRaised)
}

func TestFailedPushIsNotRetried(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.gpio.Edge(alarm.Presence, true)
	h.iterate()
	assert.Equal(t, 1, h.link.AttemptsFor(transport.HandlePresenceAlarm))
	assert.Equal(t, alarm.LevelRaised, h.c.Snapshot().Alarms[alarm.Presence].LastReported)

	h.link.Connect()
	h.iterate()
	h.iterate()
	assert.Equal(t, 1, h.link.AttemptsFor(transport.HandlePresenceAlarm))
}

func TestDisarmForcesClear(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.link.Connect()
	h.gpio.Edge(alarm.Presence, true)
	h.iterate()

	h.link.Write(transport.HandlePresenceArm, []byte{0})
	h.iterate()

	assert.Equal(t, [][]byte{{1}, {0}}, h.link.Values(transport.HandlePresenceAlarm))
	st := h.c.Snapshot().Alarms[alarm.Presence]
	assert.False(t, st.Armed)
	assert.Equal(t, alarm.LevelClear, st.Current)

	// Edges while disarmed never raise.
	h.gpio.Edge(alarm.Presence, false)
	h.gpio.Edge(alarm.Presence, true)
	h.iterate()
	assert.Len(t, h.link.Values(transport.HandlePresenceAlarm), 2)

	// Re-arming with the line high raises at once.
	h.link.Write(transport.HandlePresenceArm, []byte{1})
	h.iterate()
	assert.Equal(t, [][]byte{{1}, {0}, {1}}, h.link.Values(transport.HandlePresenceAlarm))
}

func TestClearAlarm(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.link.Connect()
	h.gpio.Edge(alarm.Presence, true)
	h.gpio.Edge(alarm.Motion, true)
	h.iterate()

	h.link.Write(transport.HandleClearAlarm, []byte{0})
	h.iterate()
	assert.Len(t, h.link.Values(transport.HandlePresenceAlarm), 1, "empty mask is dropped")

	h.link.Write(transport.HandleClearAlarm, []byte{0x03})
	h.iterate()
	assert.Equal(t, [][]byte{{1}, {0}}, h.link.Values(transport.HandlePresenceAlarm))
	assert.Equal(t, [][]byte{{1}, {0}}, h.link.Values(transport.HandleMotionAlarm))
}

func TestSecondTickAdvancesClockAcrossLeapDay(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.link.Connect()

	h.link.Write(transport.HandleTime, clock.Timestamp{Year: 2024, Month: 2, Day: 28, Hours: 23, Minutes: 59, Seconds: 59}.Payload())
	h.iterate()
	assert.Empty(t, h.link.Values(transport.HandleTime), "setting the time does not push")

	h.bridge.Set(flags.SecondTick)
	h.iterate()

	want := clock.Timestamp{Year: 2024, Month: 2, Day: 29}
	assert.Equal(t, want, h.c.Snapshot().Time)
	assert.Equal(t, [][]byte{want.Payload()}, h.link.Values(transport.HandleTime))
}

func TestSecondTicksCoalesce(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	for i := 0; i < 5; i++ {
		h.bridge.Set(flags.SecondTick)
	}
	h.iterate()
	want := start
	want.Seconds++
	assert.Equal(t, want, h.c.Snapshot().Time)
}

func TestTimeSyncPushesCurrentTime(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.link.Connect()

	h.link.Write(transport.HandleTimeSync, []byte{1})
	h.iterate()
	assert.Equal(t, [][]byte{start.Payload()}, h.link.Values(transport.HandleTime))

	h.iterate()
	assert.Len(t, h.link.Values(transport.HandleTime), 1, "request bit is consumed")
}

func TestMalformedWritesAreDropped(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.link.Connect()
	h.iterate()

	h.link.Write(transport.HandleTime, []byte{0x07, 0xE8, 1, 20})
	h.link.Write(transport.HandleTime, []byte{0x07, 0xE8, 13, 1, 0, 0, 0})
	h.link.Write(transport.HandleDFU, []byte{1, 1})
	h.link.Write(transport.HandleBroadcast, []byte{})
	h.link.Write(transport.HandlePresenceArm, []byte{0, 0})
	h.link.Write(transport.HandleLogData, []byte{1})
	h.link.Write(transport.Handle(99), []byte{1})

	h.link.Disconnect()
	assert.Equal(t, OutcomeRunning, h.iterate())
	st := h.c.Snapshot()
	assert.Equal(t, start, st.Time)
	assert.True(t, st.Alarms[alarm.Presence].Armed)
	assert.Equal(t, mode.Connectable, st.Mode)
	assert.Zero(t, h.restarter.calls)
}

func TestDFULatchedUntilDisconnect(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.link.Connect()

	h.link.Write(transport.HandleDFU, []byte{1})
	assert.Equal(t, OutcomeRunning, h.iterate())
	assert.Equal(t, OutcomeRunning, h.iterate())
	assert.Zero(t, h.restarter.calls, "no reset while connected")
	assert.Zero(t, h.link.Disconnects, "no forced disconnect")

	h.link.Disconnect()
	assert.Equal(t, OutcomeFirmwareUpdate, h.iterate())
	assert.Equal(t, 1, h.restarter.calls)

	// Terminal modes are sticky and do not repeat their effect.
	assert.Equal(t, OutcomeFirmwareUpdate, h.iterate())
	assert.Equal(t, 1, h.restarter.calls)
}

func TestDFUMarkerFailureIsFatal(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.restarter.err = errors.New("read-only fs")
	h.link.Write(transport.HandleDFU, []byte{1})

	out, err := h.c.Iterate(h.ctx)
	assert.Equal(t, OutcomeFirmwareUpdate, out)
	assert.ErrorIs(t, err, ErrFatal)
}

func TestDFUTakesPrecedenceOverBroadcast(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.link.Write(transport.HandleBroadcast, []byte{1})
	h.link.Write(transport.HandleDFU, []byte{1})
	assert.Equal(t, OutcomeFirmwareUpdate, h.iterate())
	assert.False(t, h.link.Broadcasting)
}

func TestBroadcastGuardIgnoresManagementService(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.link.Set(mode.ServiceManagement, true)
	h.link.Write(transport.HandleBroadcast, []byte{1})
	h.link.Write(transport.HandleDFU, []byte{1})

	// DFU is held off by the management connection; broadcast is not.
	assert.Equal(t, OutcomeBroadcast, h.iterate())
	assert.Zero(t, h.restarter.calls)
}

func TestBroadcastCarriesLastRecord(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogInterval = 1
	h := newHarness(t, cfg)
	h.link.Connect()
	h.gpio.SetVector([3]byte{1, 2, 3})
	h.gpio.Edge(alarm.Motion, true)
	h.gpio.Edge(alarm.Presence, true)
	h.iterate()
	h.bridge.Set(flags.LogTick)
	h.iterate()

	h.link.Write(transport.HandleBroadcast, []byte{1})
	assert.Equal(t, OutcomeRunning, h.iterate(), "held while a sensor service is connected")

	h.link.Disconnect()
	assert.Equal(t, OutcomeBroadcast, h.iterate())
	assert.False(t, h.link.Advertising)
	assert.True(t, h.link.Broadcasting)

	want := datalog.Record{Timestamp: start, Motion: [3]byte{1, 2, 3}, Presence: 1}.Encode()
	assert.Equal(t, want[:], h.link.BroadcastData)
}

func TestLogTickAppendsEveryInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogInterval = 3
	h := newHarness(t, cfg)
	h.gpio.SetVector([3]byte{1, 2, 3})
	h.gpio.Edge(alarm.Motion, true)
	h.gpio.Edge(alarm.Presence, true)
	h.iterate()

	for i := 0; i < 6; i++ {
		h.bridge.Set(flags.LogTick)
		h.iterate()
	}
	n, err := h.store.Count(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, h.c.Snapshot().Log.Records)

	require.NoError(t, h.store.Rewind(h.ctx))
	raw, ok, err := h.store.Next(h.ctx)
	require.NoError(t, err)
	require.True(t, ok)
	rec, err := datalog.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, datalog.Record{Timestamp: start, Motion: [3]byte{1, 2, 3}, Presence: 1}, rec)
	assert.Equal(t, [4]uint32{0x07E80114, 0x000E051E, 0x00010203, 0x1}, rec.Words())
}

func TestLoggingDisabledWrite(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogInterval = 1
	h := newHarness(t, cfg)

	h.link.Write(transport.HandleLogEnable, []byte{0})
	h.bridge.Set(flags.LogTick)
	h.iterate()

	n, _ := h.store.Count(h.ctx)
	assert.Zero(t, n)
	assert.False(t, h.c.Snapshot().Log.Enabled)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Outcome, 1)
	go func() {
		out, err := h.c.Run(ctx)
		assert.NoError(t, err)
		done <- out
	}()
	cancel()

	select {
	case out := <-done:
		assert.Equal(t, OutcomeShutdown, out)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunReturnsTerminalMode(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.link.Write(transport.HandleDFU, []byte{1})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := h.c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFirmwareUpdate, out)
}

func TestIterateAfterCancelShutsDownFirst(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.link.Write(transport.HandleDFU, []byte{1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := h.c.Iterate(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeShutdown, out)
	assert.Zero(t, h.restarter.calls)
}

func TestStopHaltsProducers(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.c.Stop()
	assert.False(t, h.second.running)
	assert.False(t, h.logTimer.running)
	assert.False(t, h.gpio.EdgesEnabled)
}

func TestSendCompleteIsCounted(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.link.Hooks.SendComplete()
	h.link.Hooks.SendComplete()
	h.iterate()
	assert.Equal(t, 1, h.c.Snapshot().SendCompletes)
}
