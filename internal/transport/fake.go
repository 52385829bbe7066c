package transport

import (
	"sync"

	"github.com/sweeney/sentry-node/internal/mode"
)

// Notification is one value recorded by Fake.
type Notification struct {
	Handle Handle
	Value  []byte
}

// Fake records notifications and advertising calls for test assertions.
type Fake struct {
	ConnState

	mu sync.Mutex

	// Notifications contains every delivered value, in order.
	Notifications []Notification

	// Attempts counts Notify calls per handle, whatever the outcome.
	Attempts map[Handle]int

	// Outcomes, if non-empty, scripts the outcome of successive Notify calls
	// made while connected. The last entry repeats.
	Outcomes []Outcome
	next     int

	// Hooks installed by Start.
	Hooks Hooks

	Advertising   bool
	Broadcasting  bool
	BroadcastData []byte
	Disconnects   int
	Closed        bool

	// StartError, if set, is returned by Start.
	StartError error
	// AdvertiseError, if set, is returned by StartAdvertising.
	AdvertiseError error
}

// NewFake creates a disconnected Fake.
func NewFake() *Fake {
	return &Fake{Attempts: map[Handle]int{}}
}

// Notify records value when connected, honouring scripted outcomes.
func (f *Fake) Notify(h Handle, value []byte) Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Attempts[h]++
	if !f.Connected(h.Service()) {
		return NotConnected
	}
	out := Delivered
	if len(f.Outcomes) > 0 {
		out = f.Outcomes[f.next]
		if f.next < len(f.Outcomes)-1 {
			f.next++
		}
	}
	if out == Delivered {
		f.Notifications = append(f.Notifications, Notification{Handle: h, Value: append([]byte(nil), value...)})
	}
	return out
}

// Values returns the delivered values for h.
func (f *Fake) Values(h Handle) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]byte
	for _, n := range f.Notifications {
		if n.Handle == h {
			out = append(out, n.Value)
		}
	}
	return out
}

// AttemptsFor returns the number of Notify calls for h.
func (f *Fake) AttemptsFor(h Handle) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Attempts[h]
}

// StartAdvertising marks the fake as advertising.
func (f *Fake) StartAdvertising() error {
	if f.AdvertiseError != nil {
		return f.AdvertiseError
	}
	f.Advertising = true
	return nil
}

// StopAdvertising stops both connectable and broadcast advertising.
func (f *Fake) StopAdvertising() error {
	f.Advertising = false
	f.Broadcasting = false
	return nil
}

// StartBroadcast records data.
func (f *Fake) StartBroadcast(data []byte) error {
	f.Broadcasting = true
	f.BroadcastData = append([]byte(nil), data...)
	return nil
}

// Start installs hooks.
func (f *Fake) Start(hooks Hooks) error {
	if f.StartError != nil {
		return f.StartError
	}
	f.Hooks = hooks
	return nil
}

// Connect simulates a peer connecting.
func (f *Fake) Connect() {
	f.SetAll(true)
	if f.Hooks.Connection != nil {
		f.Hooks.Connection(true)
	}
}

// Disconnect simulates the peer going away.
func (f *Fake) Disconnect() error {
	f.Disconnects++
	f.SetAll(false)
	if f.Hooks.Connection != nil {
		f.Hooks.Connection(false)
	}
	return nil
}

// Write simulates a peer write.
func (f *Fake) Write(h Handle, value []byte) {
	if f.Hooks.Write != nil {
		f.Hooks.Write(h, value)
	}
}

// Close marks the fake closed.
func (f *Fake) Close() error {
	f.Closed = true
	return nil
}

var _ Transport = (*Fake)(nil)
var _ mode.Connections = (*ConnState)(nil)
