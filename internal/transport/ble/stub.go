//go:build !linux

package ble

import (
	"errors"

	"github.com/sweeney/sentry-node/internal/mode"
	"github.com/sweeney/sentry-node/internal/transport"
)

var errUnsupported = errors.New("ble: not supported on this platform (requires Linux)")

// Options configures the peripheral.
type Options struct {
	Adapter   string
	LocalName string
	CompanyID uint16
}

// Transport is not available on non-Linux platforms.
type Transport struct{}

// New returns a transport whose Start always fails.
func New(Options) *Transport { return &Transport{} }

func (t *Transport) Start(transport.Hooks) error                       { return errUnsupported }
func (t *Transport) Connected(mode.Service) bool                       { return false }
func (t *Transport) Notify(transport.Handle, []byte) transport.Outcome { return transport.NotConnected }
func (t *Transport) StartAdvertising() error                           { return errUnsupported }
func (t *Transport) StopAdvertising() error                            { return nil }
func (t *Transport) StartBroadcast([]byte) error                       { return errUnsupported }
func (t *Transport) Disconnect() error                                 { return errUnsupported }
func (t *Transport) Close() error                                      { return nil }

var _ transport.Transport = (*Transport)(nil)
