// Package ble exposes the node's characteristics as a BLE GATT peripheral.
package ble

import (
	"github.com/google/uuid"

	"github.com/sweeney/sentry-node/internal/mode"
	"github.com/sweeney/sentry-node/internal/transport"
)

// BaseUUID is the vendor base. Bytes 2-3 carry the service or handle number.
var BaseUUID = uuid.MustParse("5e470000-7a1d-4c0b-9f3e-8a2f1c6d9b10")

// ServiceUUID returns the UUID of a GATT service. Services use 0x01xx.
func ServiceUUID(s mode.Service) uuid.UUID {
	return derive(0x0100 | uint16(s))
}

// CharacteristicUUID returns the UUID of a handle. Handles use 0x02xx.
func CharacteristicUUID(h transport.Handle) uuid.UUID {
	return derive(0x0200 | uint16(h))
}

func derive(n uint16) uuid.UUID {
	u := BaseUUID
	u[2] = byte(n >> 8)
	u[3] = byte(n)
	return u
}

// services lists the GATT services in registration order.
var services = []mode.Service{
	mode.ServicePresence,
	mode.ServiceMotion,
	mode.ServiceManagement,
	mode.ServiceDataLogger,
}

type serviceGroup struct {
	Service mode.Service
	Handles []transport.Handle
}

// serviceHandles groups handles by the service that owns them, in a fixed
// order so the GATT table is stable across restarts.
func serviceHandles() []serviceGroup {
	out := make([]serviceGroup, 0, len(services))
	for _, s := range services {
		g := serviceGroup{Service: s}
		for _, h := range transport.Handles {
			if h.Service() == s {
				g.Handles = append(g.Handles, h)
			}
		}
		if len(g.Handles) > 0 {
			out = append(out, g)
		}
	}
	return out
}
