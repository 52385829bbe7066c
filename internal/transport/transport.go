// Package transport defines how the coordinator reaches a connected peer.
// Implementations live in subpackages (mqtt, ble); Fake is for tests.
package transport

import (
	"sync/atomic"

	"github.com/sweeney/sentry-node/internal/mode"
)

// Handle names a characteristic exposed to the peer.
type Handle uint16

const (
	HandlePresenceLevel Handle = iota + 1 // notify: raw presence level
	HandlePresenceAlarm                   // notify: presence alarm level
	HandlePresenceArm                     // write: 1 byte armed bit
	HandleMotionAlarm                     // notify: motion alarm level
	HandleMotionArm                       // write: 1 byte armed bit
	HandleClearAlarm                      // write: bit0 presence, bit1 motion
	HandleTime                            // notify + write: 7-byte timestamp
	HandleDFU                             // write: 1 byte firmware update request
	HandleBroadcast                       // write: 1 byte broadcast-only request
	HandleTimeSync                        // write: 1 byte time sync request
	HandleLogEnable                       // write: 1 byte logging enable bit
	HandleLogReplay                       // write: 1 byte replay request
	HandleLogData                         // notify: 16-byte log records
)

// Handles lists every handle.
var Handles = [...]Handle{
	HandlePresenceLevel, HandlePresenceAlarm, HandlePresenceArm,
	HandleMotionAlarm, HandleMotionArm, HandleClearAlarm,
	HandleTime, HandleDFU, HandleBroadcast, HandleTimeSync,
	HandleLogEnable, HandleLogReplay, HandleLogData,
}

var handleNames = map[Handle]string{
	HandlePresenceLevel: "presence_level",
	HandlePresenceAlarm: "presence_alarm",
	HandlePresenceArm:   "presence_arm",
	HandleMotionAlarm:   "motion_alarm",
	HandleMotionArm:     "motion_arm",
	HandleClearAlarm:    "clear_alarm",
	HandleTime:          "time",
	HandleDFU:           "dfu",
	HandleBroadcast:     "broadcast",
	HandleTimeSync:      "time_sync",
	HandleLogEnable:     "log_enable",
	HandleLogReplay:     "log_replay",
	HandleLogData:       "log_data",
}

func (h Handle) String() string {
	if n, ok := handleNames[h]; ok {
		return n
	}
	return "unknown"
}

// HandleByName is the inverse of Handle.String.
func HandleByName(name string) (Handle, bool) {
	for h, n := range handleNames {
		if n == name {
			return h, true
		}
	}
	return 0, false
}

// Service returns the collaborator that owns h.
func (h Handle) Service() mode.Service {
	switch h {
	case HandlePresenceLevel, HandlePresenceAlarm, HandlePresenceArm:
		return mode.ServicePresence
	case HandleMotionAlarm, HandleMotionArm:
		return mode.ServiceMotion
	case HandleLogEnable, HandleLogReplay, HandleLogData:
		return mode.ServiceDataLogger
	}
	return mode.ServiceManagement
}

// Notifiable reports whether h carries outbound values.
func (h Handle) Notifiable() bool {
	switch h {
	case HandlePresenceLevel, HandlePresenceAlarm, HandleMotionAlarm, HandleTime, HandleLogData:
		return true
	}
	return false
}

// Writable reports whether a peer may write h.
func (h Handle) Writable() bool {
	switch h {
	case HandlePresenceArm, HandleMotionArm, HandleClearAlarm, HandleTime,
		HandleDFU, HandleBroadcast, HandleTimeSync, HandleLogEnable, HandleLogReplay:
		return true
	}
	return false
}

// Outcome is the result of a notify. None of them is an error.
type Outcome int

const (
	Delivered Outcome = iota
	NotConnected
	Busy
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case NotConnected:
		return "not_connected"
	case Busy:
		return "busy"
	}
	return "unknown"
}

// Notifier pushes a value to the connected peer.
type Notifier interface {
	Notify(h Handle, value []byte) Outcome
}

// Advertiser controls how the node announces itself.
type Advertiser interface {
	// StartAdvertising announces the node as connectable.
	StartAdvertising() error
	// StopAdvertising stops any announcement.
	StopAdvertising() error
	// StartBroadcast announces data without accepting connections.
	StartBroadcast(data []byte) error
}

// Hooks are the callbacks a transport invokes from its own goroutines.
// They must not block.
type Hooks struct {
	Write        func(h Handle, value []byte)
	Connection   func(connected bool)
	SendComplete func()
}

// Transport is a complete link to the peer.
type Transport interface {
	Notifier
	Advertiser
	mode.Connections

	// Start brings the link up and installs hooks.
	Start(hooks Hooks) error
	// Disconnect drops the current peer, if any.
	Disconnect() error
	// Close releases the link.
	Close() error
}

// ConnState tracks per-service connection booleans. A single peer link
// marks every service at once; services can also be flipped individually.
type ConnState struct {
	bits atomic.Uint32
}

const allServices = 1<<mode.ServicePresence | 1<<mode.ServiceMotion |
	1<<mode.ServiceManagement | 1<<mode.ServiceDataLogger

// SetAll marks every service connected or disconnected.
func (c *ConnState) SetAll(connected bool) {
	if connected {
		c.bits.Store(allServices)
	} else {
		c.bits.Store(0)
	}
}

// Set marks one service.
func (c *ConnState) Set(s mode.Service, connected bool) {
	if connected {
		c.bits.Or(1 << s)
	} else {
		c.bits.And(^uint32(1 << s))
	}
}

// Connected implements mode.Connections.
func (c *ConnState) Connected(s mode.Service) bool {
	return c.bits.Load()&(1<<s) != 0
}

// Any reports whether any service is connected.
func (c *ConnState) Any() bool {
	return c.bits.Load() != 0
}
