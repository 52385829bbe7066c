package sentry

import (
	"github.com/sweeney/sentry-node/internal/alarm"
	"github.com/sweeney/sentry-node/internal/clock"
	"github.com/sweeney/sentry-node/internal/datalog"
	"github.com/sweeney/sentry-node/internal/flags"
	"github.com/sweeney/sentry-node/internal/mode"
)

// LogState describes the data log.
type LogState struct {
	State   datalog.State
	Enabled bool
	Records int
	Stats   datalog.Stats
	// Last is the most recently appended record, nil before the first.
	Last *datalog.Raw
}

// State is a copy of the coordinator's state for status reporting.
type State struct {
	Time          clock.Timestamp
	Mode          mode.Mode
	Alarms        [len(alarm.Sensors)]alarm.State
	Counts        alarm.Counts
	Presence      bool
	Vector        [3]byte
	Connected     bool
	Log           LogState
	Flags         flags.Stats
	Notify        NotifyCounts
	SendCompletes int
}

var allServices = []mode.Service{
	mode.ServicePresence, mode.ServiceMotion, mode.ServiceManagement, mode.ServiceDataLogger,
}

// Snapshot returns the current state. Call it from the loop goroutine, or
// through an Observer.
func (c *Coordinator) Snapshot() State {
	s := State{
		Time:     c.clock.Now(),
		Mode:     c.arbiter.Mode(),
		Counts:   c.evaluator.CountsSnapshot(),
		Presence: c.presence,
		Vector:   c.vector,
		Log: LogState{
			State:   c.cycler.State(),
			Enabled: c.cycler.LoggingEnabled(),
			Records: c.records,
			Stats:   c.cycler.Stats(),
		},
		Flags:         c.bridge.Stats(),
		Notify:        c.notifies,
		SendCompletes: c.sendCompletes,
	}
	if c.lastRecord != nil {
		last := *c.lastRecord
		s.Log.Last = &last
	}
	for _, sensor := range alarm.Sensors {
		s.Alarms[sensor] = c.evaluator.State(sensor)
	}
	for _, svc := range allServices {
		if c.link.Connected(svc) {
			s.Connected = true
			break
		}
	}
	return s
}
