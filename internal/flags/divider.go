package flags

import "sync/atomic"

// Divider raises a flag on every Nth call to Tick. It is the producer side
// of the measurement timer: the timer fires often, the log cycle only
// needs a coarse signal.
type Divider struct {
	bridge *Bridge
	flag   Flag
	every  uint32
	count  atomic.Uint32
}

// NewDivider returns a divider that sets flag on bridge every n ticks.
// n < 1 is treated as 1.
func NewDivider(bridge *Bridge, flag Flag, n int) *Divider {
	if n < 1 {
		n = 1
	}
	return &Divider{bridge: bridge, flag: flag, every: uint32(n)}
}

// Tick counts one timer firing. Safe to call from the timer goroutine.
func (d *Divider) Tick() {
	if d.count.Add(1)%d.every == 0 {
		d.bridge.Set(d.flag)
	}
}

// Reset restarts the count, so the next flag comes a full N ticks later.
func (d *Divider) Reset() {
	d.count.Store(0)
}
