package mqtt

import (
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/sweeney/sentry-node/internal/mode"
	"github.com/sweeney/sentry-node/internal/transport"
)

// Options configures a Transport.
type Options struct {
	Broker   string
	ClientID string
	Prefix   string
	// MaxInFlight bounds unacknowledged notifications; beyond it Notify
	// reports Busy.
	MaxInFlight int
}

// Transport is a transport.Transport backed by an MQTT broker.
type Transport struct {
	opts     Options
	topics   Topics
	client   paho.Client
	conns    transport.ConnState
	hooks    transport.Hooks
	inflight atomic.Int32
}

// New creates a transport. Nothing is connected until Start.
func New(opts Options) *Transport {
	if opts.ClientID == "" {
		opts.ClientID = "sentry-node"
	}
	if opts.Prefix == "" {
		opts.Prefix = "sentry/" + opts.ClientID
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 8
	}
	return &Transport{opts: opts, topics: Topics{Prefix: opts.Prefix}}
}

// Topics returns the topic layout in use.
func (t *Transport) Topics() Topics {
	return t.topics
}

// Start connects to the broker and installs hooks.
func (t *Transport) Start(hooks transport.Hooks) error {
	t.hooks = hooks

	opts := paho.NewClientOptions().
		AddBroker(t.opts.Broker).
		SetClientID(t.opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(t.topics.Advert(), AdvertStopped, 1, true).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(t.onConnectionLost)

	t.client = paho.NewClient(opts)
	token := t.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	return nil
}

// onConnect (re)subscribes after every broker connection.
func (t *Transport) onConnect(c paho.Client) {
	log.Info().Str("broker", t.opts.Broker).Msg("mqtt: connected")
	if token := c.Subscribe(t.topics.WriteFilter(), 1, t.handleWrite); token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Error().Err(token.Error()).Msg("mqtt: subscribe writes")
	}
	if token := c.Subscribe(t.topics.Peer(), 1, t.handlePeer); token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Error().Err(token.Error()).Msg("mqtt: subscribe peer")
	}
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	log.Warn().Err(err).Msg("mqtt: connection lost")
	t.setPeer(false)
}

func (t *Transport) handleWrite(_ paho.Client, msg paho.Message) {
	h, ok := t.topics.ParseWrite(msg.Topic())
	if !ok {
		log.Debug().Str("topic", msg.Topic()).Msg("mqtt: dropping write to unknown handle")
		return
	}
	if t.hooks.Write != nil {
		t.hooks.Write(h, append([]byte(nil), msg.Payload()...))
	}
}

func (t *Transport) handlePeer(_ paho.Client, msg paho.Message) {
	switch string(msg.Payload()) {
	case PeerOnline:
		t.setPeer(true)
	case PeerOffline:
		t.setPeer(false)
	default:
		log.Debug().Bytes("payload", msg.Payload()).Msg("mqtt: ignoring peer payload")
	}
}

func (t *Transport) setPeer(connected bool) {
	if t.conns.Any() == connected {
		return
	}
	t.conns.SetAll(connected)
	if t.hooks.Connection != nil {
		t.hooks.Connection(connected)
	}
}

// Connected reports whether the peer is online for s.
func (t *Transport) Connected(s mode.Service) bool {
	return t.conns.Connected(s)
}

// Notify publishes value on the handle's notify topic (QoS 0, not retained).
// The send-complete hook fires when the client has written the message.
func (t *Transport) Notify(h transport.Handle, value []byte) transport.Outcome {
	if !t.conns.Connected(h.Service()) || t.client == nil || !t.client.IsConnectionOpen() {
		return transport.NotConnected
	}
	if int(t.inflight.Load()) >= t.opts.MaxInFlight {
		return transport.Busy
	}
	t.inflight.Add(1)
	token := t.client.Publish(t.topics.Notify(h), 0, false, value)
	go func() {
		<-token.Done()
		t.inflight.Add(-1)
		if err := token.Error(); err != nil {
			log.Debug().Err(err).Str("handle", h.String()).Msg("mqtt: notify failed")
		}
		if t.hooks.SendComplete != nil {
			t.hooks.SendComplete()
		}
	}()
	return transport.Delivered
}

func (t *Transport) publishRetained(topic string, payload any) error {
	if t.client == nil {
		return fmt.Errorf("publish %s: not started", topic)
	}
	token := t.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// StartAdvertising announces the node as connectable.
func (t *Transport) StartAdvertising() error {
	return t.publishRetained(t.topics.Advert(), AdvertConnectable)
}

// StopAdvertising withdraws the announcement.
func (t *Transport) StopAdvertising() error {
	return t.publishRetained(t.topics.Advert(), AdvertStopped)
}

// StartBroadcast publishes data for listeners without a peer session.
func (t *Transport) StartBroadcast(data []byte) error {
	if err := t.publishRetained(t.topics.Broadcast(), hex.EncodeToString(data)); err != nil {
		return err
	}
	return t.publishRetained(t.topics.Advert(), AdvertBroadcast)
}

// Disconnect marks the peer offline on the broker.
func (t *Transport) Disconnect() error {
	if err := t.publishRetained(t.topics.Peer(), PeerOffline); err != nil {
		return err
	}
	t.setPeer(false)
	return nil
}

// PublishSystem sends a lifecycle event.
func (t *Transport) PublishSystem(event SystemEvent) error {
	payload := event.RawPayload
	if payload == nil {
		var err error
		if payload, err = FormatSystemPayload(event); err != nil {
			return fmt.Errorf("format system payload: %w", err)
		}
	}
	if t.client == nil {
		return fmt.Errorf("publish system: not started")
	}

	// QoS 1 (at-least-once) - lifecycle events should arrive
	token := t.client.Publish(t.topics.System(), 1, event.Retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish system timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (t *Transport) IsConnected() bool {
	return t.client != nil && t.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (t *Transport) Close() error {
	if t.client != nil {
		t.client.Disconnect(1000) // 1 second timeout
	}
	return nil
}

var _ transport.Transport = (*Transport)(nil)
