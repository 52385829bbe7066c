// Package config loads the node configuration from YAML. Command-line
// flags override individual fields after loading.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/sentry-node/internal/gpio"
	"github.com/sweeney/sentry-node/internal/system"
)

// Transport names.
const (
	TransportMQTT = "mqtt"
	TransportBLE  = "ble"
)

// Config is the complete node configuration.
type Config struct {
	// Transport selects the peer link: "mqtt" or "ble".
	Transport string     `yaml:"transport"`
	MQTT      MQTTConfig `yaml:"mqtt"`
	BLE       BLEConfig  `yaml:"ble"`

	GPIO    GPIOConfig    `yaml:"gpio"`
	Motion  MotionConfig  `yaml:"motion"`
	Storage StorageConfig `yaml:"storage"`
	Timing  TimingConfig  `yaml:"timing"`
	Alarm   AlarmConfig   `yaml:"alarm"`

	// HTTP is the status server address; empty disables it.
	HTTP         string `yaml:"http"`
	LogLevel     string `yaml:"log_level"`
	UpdateMarker string `yaml:"update_marker"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Prefix      string `yaml:"prefix"`
	MaxInFlight int    `yaml:"max_in_flight"`
}

type BLEConfig struct {
	Adapter   string `yaml:"adapter"`
	LocalName string `yaml:"local_name"`
	CompanyID uint16 `yaml:"company_id"`
}

type GPIOConfig struct {
	Chip        string        `yaml:"chip"`
	PinPresence int           `yaml:"pin_presence"`
	PinMotion   int           `yaml:"pin_motion"`
	ActiveLow   bool          `yaml:"active_low"`
	Debounce    time.Duration `yaml:"debounce"`
}

// MotionConfig locates the accelerometer stream. An empty port leaves the
// motion vector at zero.
type MotionConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// StorageConfig selects the log backend. An empty path keeps records in
// a fixed-capacity memory ring.
type StorageConfig struct {
	Path     string `yaml:"path"`
	Capacity int    `yaml:"capacity"`
}

type TimingConfig struct {
	SecondTick        time.Duration `yaml:"second_tick"`
	MeasurementPeriod time.Duration `yaml:"measurement_period"`
	// TicksPerGroup measurement firings make one log tick.
	TicksPerGroup int `yaml:"ticks_per_group"`
	// IntervalGroups log ticks make one record.
	IntervalGroups   int           `yaml:"interval_groups"`
	ReplayAckTimeout time.Duration `yaml:"replay_ack_timeout"`
}

type AlarmConfig struct {
	PresenceArmed  bool `yaml:"presence_armed"`
	MotionArmed    bool `yaml:"motion_armed"`
	LoggingEnabled bool `yaml:"logging_enabled"`
}

// Default returns the factory configuration.
func Default() Config {
	return Config{
		Transport: TransportMQTT,
		MQTT: MQTTConfig{
			Broker:      "tcp://127.0.0.1:1883",
			ClientID:    "sentry-node",
			MaxInFlight: 8,
		},
		BLE: BLEConfig{
			Adapter:   "hci0",
			LocalName: "sentry-node",
			CompanyID: 0xFFFF,
		},
		GPIO: GPIOConfig{
			Chip:        "gpiochip0",
			PinPresence: gpio.DefaultPinPresence,
			PinMotion:   gpio.DefaultPinMotion,
		},
		Motion:  MotionConfig{Baud: 115200},
		Storage: StorageConfig{Capacity: 4096},
		Timing: TimingConfig{
			SecondTick:        time.Second,
			MeasurementPeriod: time.Second,
			TicksPerGroup:     60,
			IntervalGroups:    10,
			ReplayAckTimeout:  2 * time.Second,
		},
		Alarm: AlarmConfig{
			PresenceArmed:  true,
			MotionArmed:    true,
			LoggingEnabled: true,
		},
		HTTP:         ":80",
		LogLevel:     "info",
		UpdateMarker: system.DefaultMarkerPath,
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportMQTT:
		if c.MQTT.Broker == "" {
			return errors.New("mqtt.broker is required")
		}
	case TransportBLE:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.GPIO.PinPresence < 0 || c.GPIO.PinMotion < 0 {
		return errors.New("gpio pins must be non-negative")
	}
	if c.GPIO.PinPresence == c.GPIO.PinMotion {
		return fmt.Errorf("presence and motion share pin %d", c.GPIO.PinPresence)
	}
	if c.Motion.Port != "" && c.Motion.Baud <= 0 {
		return errors.New("motion.baud must be positive")
	}
	if c.Storage.Path == "" && c.Storage.Capacity <= 0 {
		return errors.New("storage.capacity must be positive for the memory log")
	}
	t := c.Timing
	if t.SecondTick <= 0 || t.MeasurementPeriod <= 0 {
		return errors.New("timer periods must be positive")
	}
	if t.TicksPerGroup < 1 || t.IntervalGroups < 1 {
		return errors.New("log interval counts must be at least 1")
	}
	if t.ReplayAckTimeout <= 0 {
		return errors.New("timing.replay_ack_timeout must be positive")
	}
	return nil
}

// LogInterval is the time between two log records.
func (t TimingConfig) LogInterval() time.Duration {
	return t.MeasurementPeriod * time.Duration(t.TicksPerGroup*t.IntervalGroups)
}
