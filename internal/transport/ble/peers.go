package ble

import (
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	bluezService  = "org.bluez"
	deviceIface   = "org.bluez.Device1"
	propsChanged  = "org.freedesktop.DBus.Properties.PropertiesChanged"
	managedObjsFn = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
)

func adapterPath(adapter string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapter)
}

// connectedMatch is the bus match rule for Device1 property changes of
// devices under adapter.
func connectedMatch(adapter string) string {
	return "type='signal',interface='org.freedesktop.DBus.Properties'," +
		"member='PropertiesChanged',arg0='" + deviceIface + "'," +
		"path_namespace='" + string(adapterPath(adapter)) + "'"
}

func underAdapter(path dbus.ObjectPath, adapter string) bool {
	return strings.HasPrefix(string(path), string(adapterPath(adapter))+"/")
}

// parseConnected extracts a Connected change of a device under adapter.
// ok is false for any other signal.
func parseConnected(sig *dbus.Signal, adapter string) (path dbus.ObjectPath, connected, ok bool) {
	if sig == nil || sig.Name != propsChanged || len(sig.Body) < 2 {
		return "", false, false
	}
	if !underAdapter(sig.Path, adapter) {
		return "", false, false
	}
	if iface, _ := sig.Body[0].(string); iface != deviceIface {
		return "", false, false
	}
	changed, isMap := sig.Body[1].(map[string]dbus.Variant)
	if !isMap {
		return "", false, false
	}
	v, present := changed["Connected"]
	if !present {
		return "", false, false
	}
	connected, ok = v.Value().(bool)
	if !ok {
		return "", false, false
	}
	return sig.Path, connected, true
}

// connectedDevices picks the connected devices under adapter out of a
// GetManagedObjects reply.
func connectedDevices(objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant, adapter string) []dbus.ObjectPath {
	var out []dbus.ObjectPath
	for path, ifaces := range objs {
		if !underAdapter(path, adapter) {
			continue
		}
		props, isDevice := ifaces[deviceIface]
		if !isDevice {
			continue
		}
		if v, present := props["Connected"]; present {
			if c, _ := v.Value().(bool); c {
				out = append(out, path)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// peerSet tracks which centrals are connected. The node counts as connected
// while at least one is.
type peerSet struct {
	mu    sync.Mutex
	paths map[dbus.ObjectPath]struct{}
}

// update records a device change. changed reports whether the node moved
// between having no peer and having one; up is the new state.
func (p *peerSet) update(path dbus.ObjectPath, connected bool) (up, changed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paths == nil {
		p.paths = map[dbus.ObjectPath]struct{}{}
	}
	before := len(p.paths) > 0
	if connected {
		p.paths[path] = struct{}{}
	} else {
		delete(p.paths, path)
	}
	up = len(p.paths) > 0
	return up, up != before
}

func (p *peerSet) list() []dbus.ObjectPath {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]dbus.ObjectPath, 0, len(p.paths))
	for path := range p.paths {
		out = append(out, path)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
