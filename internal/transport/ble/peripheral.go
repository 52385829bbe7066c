//go:build linux

package ble

import (
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
	"tinygo.org/x/bluetooth"

	"github.com/sweeney/sentry-node/internal/mode"
	"github.com/sweeney/sentry-node/internal/transport"
)

// Options configures the peripheral.
type Options struct {
	// Adapter is the BlueZ adapter id. Only the default adapter, hci0,
	// can serve GATT.
	Adapter   string
	LocalName string
	// CompanyID tags broadcast-only manufacturer data.
	CompanyID uint16
}

// Transport is a transport.Transport over BlueZ.
type Transport struct {
	opts    Options
	adapter *bluetooth.Adapter
	adv     *bluetooth.Advertisement

	mu    sync.Mutex // serialises characteristic writes
	chars map[transport.Handle]*bluetooth.Characteristic
	conns transport.ConnState
	hooks transport.Hooks

	// Peer links come from BlueZ Device1 signals on the system bus.
	bus     *dbus.Conn
	signals chan *dbus.Signal
	peers   peerSet
	done    chan struct{}
}

// New creates a peripheral on the default adapter. Nothing is enabled until Start.
func New(opts Options) *Transport {
	if opts.Adapter == "" {
		opts.Adapter = defaultAdapter
	}
	if opts.LocalName == "" {
		opts.LocalName = "sentry-node"
	}
	if opts.CompanyID == 0 {
		opts.CompanyID = 0xFFFF
	}
	return &Transport{
		opts:    opts,
		adapter: bluetooth.DefaultAdapter,
		chars:   map[transport.Handle]*bluetooth.Characteristic{},
	}
}

// Start enables the adapter, registers the GATT services and begins
// watching for centrals.
func (t *Transport) Start(hooks transport.Hooks) error {
	if t.opts.Adapter != defaultAdapter {
		return fmt.Errorf("ble: adapter %s: only %s is supported", t.opts.Adapter, defaultAdapter)
	}
	t.hooks = hooks
	if err := t.adapter.Enable(); err != nil {
		return fmt.Errorf("enable adapter %s: %w", t.opts.Adapter, err)
	}

	for _, g := range serviceHandles() {
		svc := &bluetooth.Service{UUID: bluetooth.NewUUID(ServiceUUID(g.Service))}
		for _, h := range g.Handles {
			c := &bluetooth.Characteristic{}
			t.chars[h] = c
			svc.Characteristics = append(svc.Characteristics, t.characteristic(h, c))
		}
		if err := t.adapter.AddService(svc); err != nil {
			return fmt.Errorf("add service %d: %w", g.Service, err)
		}
	}

	t.adv = t.adapter.DefaultAdvertisement()
	return t.watchPeers()
}

const defaultAdapter = "hci0"

// watchPeers subscribes to Device1 Connected changes on a private system
// bus connection and seeds the peer set from devices already connected.
func (t *Transport) watchPeers() error {
	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("ble: connect system bus: %w", err)
	}
	rule := connectedMatch(t.opts.Adapter)
	if err := bus.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		bus.Close()
		return fmt.Errorf("ble: add match: %w", err)
	}
	t.bus = bus
	t.signals = make(chan *dbus.Signal, 16)
	t.done = make(chan struct{})
	bus.Signal(t.signals)

	var objs map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := bus.Object(bluezService, "/").Call(managedObjsFn, 0).Store(&objs); err != nil {
		log.Warn().Err(err).Msg("ble: cannot list connected devices")
	}
	for _, path := range connectedDevices(objs, t.opts.Adapter) {
		t.peerChanged(path, true)
	}

	go t.readSignals(t.signals, t.done)
	return nil
}

func (t *Transport) readSignals(signals <-chan *dbus.Signal, done chan<- struct{}) {
	defer close(done)
	for sig := range signals {
		if path, connected, ok := parseConnected(sig, t.opts.Adapter); ok {
			t.peerChanged(path, connected)
		}
	}
}

func (t *Transport) peerChanged(path dbus.ObjectPath, connected bool) {
	up, changed := t.peers.update(path, connected)
	log.Debug().Str("device", string(path)).Bool("connected", connected).Msg("ble: device link changed")
	if !changed {
		return
	}
	log.Info().Bool("connected", up).Msg("ble: peer connection changed")
	t.conns.SetAll(up)
	if t.hooks.Connection != nil {
		t.hooks.Connection(up)
	}
}

func (t *Transport) characteristic(h transport.Handle, c *bluetooth.Characteristic) bluetooth.CharacteristicConfig {
	cfg := bluetooth.CharacteristicConfig{
		Handle: c,
		UUID:   bluetooth.NewUUID(CharacteristicUUID(h)),
		Flags:  bluetooth.CharacteristicReadPermission,
	}
	if h.Notifiable() {
		cfg.Flags |= bluetooth.CharacteristicNotifyPermission
	}
	if h.Writable() {
		cfg.Flags |= bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission
		cfg.WriteEvent = func(_ bluetooth.Connection, _ int, value []byte) {
			if t.hooks.Write != nil {
				t.hooks.Write(h, append([]byte(nil), value...))
			}
		}
	}
	return cfg
}

// Connected reports the peer link state for s.
func (t *Transport) Connected(s mode.Service) bool {
	return t.conns.Connected(s)
}

// Notify updates the characteristic value, which BlueZ forwards to a
// subscribed peer.
func (t *Transport) Notify(h transport.Handle, value []byte) transport.Outcome {
	c, ok := t.chars[h]
	if !ok || !t.conns.Connected(h.Service()) {
		return transport.NotConnected
	}
	t.mu.Lock()
	_, err := c.Write(value)
	t.mu.Unlock()
	if err != nil {
		log.Debug().Err(err).Str("handle", h.String()).Msg("ble: notify failed")
		return transport.Busy
	}
	if t.hooks.SendComplete != nil {
		t.hooks.SendComplete()
	}
	return transport.Delivered
}

// StartAdvertising advertises the node as connectable with its service UUIDs.
func (t *Transport) StartAdvertising() error {
	if t.adv == nil {
		return errors.New("ble: not started")
	}
	err := t.adv.Configure(bluetooth.AdvertisementOptions{
		LocalName: t.opts.LocalName,
		ServiceUUIDs: []bluetooth.UUID{
			bluetooth.NewUUID(ServiceUUID(mode.ServicePresence)),
			bluetooth.NewUUID(ServiceUUID(mode.ServiceMotion)),
		},
	})
	if err != nil {
		return fmt.Errorf("configure advertisement: %w", err)
	}
	if err := t.adv.Start(); err != nil {
		return fmt.Errorf("start advertisement: %w", err)
	}
	return nil
}

// StopAdvertising stops the current advertisement.
func (t *Transport) StopAdvertising() error {
	if t.adv == nil {
		return nil
	}
	return t.adv.Stop()
}

// StartBroadcast advertises data as manufacturer data.
func (t *Transport) StartBroadcast(data []byte) error {
	if t.adv == nil {
		return errors.New("ble: not started")
	}
	err := t.adv.Configure(bluetooth.AdvertisementOptions{
		LocalName: t.opts.LocalName,
		ManufacturerData: []bluetooth.ManufacturerDataElement{
			{CompanyID: t.opts.CompanyID, Data: data},
		},
	})
	if err != nil {
		return fmt.Errorf("configure broadcast: %w", err)
	}
	return t.adv.Start()
}

// Disconnect asks BlueZ to drop every connected central.
func (t *Transport) Disconnect() error {
	if t.bus == nil {
		return errors.New("ble: not started")
	}
	var errs []error
	for _, path := range t.peers.list() {
		if err := t.bus.Object(bluezService, path).Call(deviceIface+".Disconnect", 0).Err; err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops advertising and the peer watch.
func (t *Transport) Close() error {
	err := t.StopAdvertising()
	if t.bus != nil {
		_ = t.bus.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, connectedMatch(t.opts.Adapter)).Err
		t.bus.RemoveSignal(t.signals)
		close(t.signals)
		<-t.done
		if cerr := t.bus.Close(); cerr != nil && err == nil {
			err = cerr
		}
		t.bus = nil
	}
	return err
}

var _ transport.Transport = (*Transport)(nil)
