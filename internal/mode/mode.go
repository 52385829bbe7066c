// Package mode arbitrates between the node's operating modes.
//
// The node starts Connectable. A client can ask for broadcast-only
// advertising or for a firmware update; either request is latched and only
// committed once the relevant services have no peer connected, so a
// request made while connected waits for the connection to drop.
package mode

import "sync/atomic"

// Mode is an operating mode.
type Mode int

const (
	Connectable Mode = iota
	BroadcastOnly
	FirmwareUpdate
)

func (m Mode) String() string {
	switch m {
	case Connectable:
		return "connectable"
	case BroadcastOnly:
		return "broadcast_only"
	case FirmwareUpdate:
		return "firmware_update"
	}
	return "unknown"
}

// Terminal reports whether m ends the control loop.
func (m Mode) Terminal() bool {
	return m != Connectable
}

// Service is a collaborator that tracks its own peer connection.
type Service int

const (
	ServicePresence Service = iota
	ServiceMotion
	ServiceManagement
	ServiceDataLogger
)

// Connections reports the connection state of each service.
type Connections interface {
	Connected(s Service) bool
}

// Request holds the mode-switch bits written by the device-management
// service. Set and Clear are safe from any goroutine.
type Request struct {
	bits atomic.Uint32
}

// Bit is one request bit.
type Bit uint32

const (
	BitDFU Bit = 1 << iota
	BitBroadcast
	BitTimeSync
)

// Set latches b.
func (r *Request) Set(b Bit) {
	r.bits.Or(uint32(b))
}

// Clear drops b.
func (r *Request) Clear(b Bit) {
	r.bits.And(^uint32(b))
}

// Has reports whether b is latched.
func (r *Request) Has(b Bit) bool {
	return r.bits.Load()&uint32(b) != 0
}

// Take reports whether b was latched and clears it.
func (r *Request) Take(b Bit) bool {
	return r.bits.And(^uint32(b))&uint32(b) != 0
}

// Arbiter holds the current mode. Owned by the coordinator goroutine.
type Arbiter struct {
	mode Mode
}

// NewArbiter returns an arbiter in Connectable mode.
func NewArbiter() *Arbiter {
	return &Arbiter{mode: Connectable}
}

// Mode returns the committed mode.
func (a *Arbiter) Mode() Mode {
	return a.mode
}

var (
	sensorServices     = []Service{ServicePresence, ServiceMotion}
	managementServices = []Service{ServicePresence, ServiceMotion, ServiceManagement}
)

func anyConnected(conns Connections, services []Service) bool {
	for _, s := range services {
		if conns.Connected(s) {
			return true
		}
	}
	return false
}

// Evaluate commits a mode transition when a latched request's connection
// guard holds, and returns the resulting mode. Terminal modes are sticky.
// A firmware update request takes precedence over broadcast-only.
func (a *Arbiter) Evaluate(req *Request, conns Connections) Mode {
	if a.mode.Terminal() {
		return a.mode
	}
	switch {
	case req.Has(BitDFU) && !anyConnected(conns, managementServices):
		req.Clear(BitDFU)
		a.mode = FirmwareUpdate
	case req.Has(BitBroadcast) && !anyConnected(conns, sensorServices):
		req.Clear(BitBroadcast)
		a.mode = BroadcastOnly
	}
	return a.mode
}
