package sentry

import (
	"github.com/sweeney/sentry-node/internal/alarm"
	"github.com/sweeney/sentry-node/internal/flags"
	"github.com/sweeney/sentry-node/internal/mode"
	"github.com/sweeney/sentry-node/internal/transport"
)

// Sensors reads the presence and motion lines.
type Sensors interface {
	Read() (presence, motion bool, err error)
	// MotionVector returns the accelerometer vector cached at the last
	// motion edge.
	MotionVector() [3]byte
}

// Interrupts gates the sensor edge interrupts.
type Interrupts interface {
	EnableEdges() error
	DisableEdges() error
}

// Timer is a restartable periodic tick producer.
type Timer interface {
	Start() error
	Stop() error
}

// Restarter persists the firmware update request ahead of the restart.
type Restarter interface {
	EnterUpdateMode() error
}

// Link is the coordinator's view of the transport.
type Link interface {
	transport.Notifier
	transport.Advertiser
	mode.Connections
	Start(hooks transport.Hooks) error
}

// Observer receives a snapshot after every iteration. Observe runs on the
// coordinator goroutine and must not block.
type Observer interface {
	Observe(State)
}

// EdgeFlag maps a sensor to the flag its edge interrupt sets.
func EdgeFlag(s alarm.Sensor) flags.Flag {
	if s == alarm.Motion {
		return flags.MotionEdge
	}
	return flags.PresenceEdge
}

func alarmHandle(s alarm.Sensor) transport.Handle {
	if s == alarm.Motion {
		return transport.HandleMotionAlarm
	}
	return transport.HandlePresenceAlarm
}
