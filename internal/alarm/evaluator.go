package alarm

// Evaluator tracks alarm state for both sensors and decides when a
// transition has to be pushed. It is owned by the coordinator goroutine.
type Evaluator struct {
	states [len(Sensors)]State
	counts Counts
}

// NewEvaluator creates an evaluator with the given armed defaults.
// Both sensors start Clear and reported Clear.
func NewEvaluator(presenceArmed, motionArmed bool) *Evaluator {
	e := &Evaluator{}
	e.states[Presence] = State{Armed: presenceArmed, Current: LevelClear, LastReported: LevelClear}
	e.states[Motion] = State{Armed: motionArmed, Current: LevelClear, LastReported: LevelClear}
	return e
}

// Evaluate recomputes the alarm level of sensor from its raw input.
// A disarmed sensor is forced Clear. It returns a change only when the new
// level differs from the last reported one; the caller must Commit the
// change once the push has been attempted.
func (e *Evaluator) Evaluate(sensor Sensor, raw bool) (Change, bool) {
	st := &e.states[sensor]
	st.Current = LevelClear
	if st.Armed && detect(sensor, raw) {
		st.Current = LevelRaised
	}
	return e.pending(sensor)
}

// detect is the per-sensor detection predicate. Both sensors signal an
// alarm with an asserted line.
func detect(sensor Sensor, raw bool) bool {
	switch sensor {
	case Presence, Motion:
		return raw
	}
	return false
}

func (e *Evaluator) pending(sensor Sensor) (Change, bool) {
	st := e.states[sensor]
	if st.Current == st.LastReported {
		return Change{}, false
	}
	return Change{Sensor: sensor, From: st.LastReported, To: st.Current}, true
}

// Commit records that c was pushed. Delivery failures are not
// distinguished from success: the transition is never retried.
func (e *Evaluator) Commit(c Change) {
	e.states[c.Sensor].LastReported = c.To
	switch {
	case c.Sensor == Presence && c.To == LevelRaised:
		e.counts.PresenceRaised++
	case c.Sensor == Presence:
		e.counts.PresenceCleared++
	case c.To == LevelRaised:
		e.counts.MotionRaised++
	default:
		e.counts.MotionCleared++
	}
}

// SetArmed changes the armed bit of sensor. The new bit takes effect on
// the next Evaluate.
func (e *Evaluator) SetArmed(sensor Sensor, armed bool) {
	e.states[sensor].Armed = armed
}

// Clear forces sensor back to Clear, returning a change if Raised was the
// last reported level.
func (e *Evaluator) Clear(sensor Sensor) (Change, bool) {
	e.states[sensor].Current = LevelClear
	return e.pending(sensor)
}

// State returns a copy of the alarm state of sensor.
func (e *Evaluator) State(sensor Sensor) State {
	return e.states[sensor]
}

// CountsSnapshot returns a copy of the transition counters.
func (e *Evaluator) CountsSnapshot() Counts {
	return e.counts
}
