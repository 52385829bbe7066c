// Package alarm contains the alarm policy for the presence and motion sensors.
// This package has NO external dependencies (no GPIO, transport or storage).
package alarm

// Level is the alarm output of a sensor.
type Level string

const (
	LevelClear  Level = "CLEAR"
	LevelRaised Level = "RAISED"
)

// Byte returns the one-byte characteristic value for l.
func (l Level) Byte() byte {
	if l == LevelRaised {
		return 1
	}
	return 0
}

// Sensor identifies one of the node's two alarm sources.
type Sensor int

const (
	Presence Sensor = iota
	Motion
)

func (s Sensor) String() string {
	switch s {
	case Presence:
		return "presence"
	case Motion:
		return "motion"
	}
	return "unknown"
}

// Sensors lists every sensor in evaluation order.
var Sensors = [...]Sensor{Presence, Motion}

// State is the alarm state of a single sensor.
type State struct {
	// Whether alarm evaluation is enabled. Disarmed sensors always read Clear.
	Armed bool
	// Level computed by the most recent evaluation
	Current Level
	// Level most recently pushed (or attempted) to the peer
	LastReported Level
}

// Change is an alarm transition that should be pushed to the peer.
type Change struct {
	Sensor Sensor
	From   Level
	To     Level
}

// Counts tracks reported transitions per sensor since startup.
type Counts struct {
	PresenceRaised  int
	PresenceCleared int
	MotionRaised    int
	MotionCleared   int
}
