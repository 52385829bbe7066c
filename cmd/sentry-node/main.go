// Command sentry-node watches the presence and motion sensors, keeps the
// node clock and data log, and serves them to a peer over MQTT or BLE.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sweeney/sentry-node/internal/alarm"
	"github.com/sweeney/sentry-node/internal/clock"
	"github.com/sweeney/sentry-node/internal/config"
	"github.com/sweeney/sentry-node/internal/datalog"
	"github.com/sweeney/sentry-node/internal/flags"
	"github.com/sweeney/sentry-node/internal/gpio"
	"github.com/sweeney/sentry-node/internal/motion"
	"github.com/sweeney/sentry-node/internal/sentry"
	"github.com/sweeney/sentry-node/internal/status"
	"github.com/sweeney/sentry-node/internal/system"
	"github.com/sweeney/sentry-node/internal/timer"
	"github.com/sweeney/sentry-node/internal/transport/ble"
	"github.com/sweeney/sentry-node/internal/transport/mqtt"
	"github.com/sweeney/sentry-node/internal/web"
)

// options holds the command-line flags. Flags that were set override the
// config file.
type options struct {
	configPath   string
	transport    string
	broker       string
	dbPath       string
	pinPresence  int
	pinMotion    int
	motionPort   string
	httpAddr     string
	logLevel     string
	updateMarker string
	printState   bool
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	code, err := execute(newRootCommand(&options{}))
	switch {
	case err == nil:
	case code == system.ExitFirmwareUpdate:
		log.Info().Int("exit_code", code).Msg(err.Error())
	default:
		log.Error().Err(err).Int("exit_code", code).Msg("fatal")
	}
	os.Exit(code)
}

// execute runs cmd and maps its result to a process exit code.
func execute(cmd *cobra.Command) (int, error) {
	err := cmd.Execute()
	return exitCode(err), err
}

func newRootCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sentry-node",
		Short:         "Presence and motion sentry node",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			setLogLevel(cfg.LogLevel)
			if opts.printState {
				return printState(cfg)
			}
			return run(cmd.Context(), cfg)
		},
	}

	defaults := config.Default()
	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file")
	f.StringVar(&opts.transport, "transport", defaults.Transport, "peer transport (mqtt|ble)")
	f.StringVar(&opts.broker, "broker", defaults.MQTT.Broker, "MQTT broker address")
	f.StringVar(&opts.dbPath, "db", defaults.Storage.Path, "SQLite data log path (empty keeps the log in memory)")
	f.IntVar(&opts.pinPresence, "pin-presence", defaults.GPIO.PinPresence, "BCM pin number for the presence sensor")
	f.IntVar(&opts.pinMotion, "pin-motion", defaults.GPIO.PinMotion, "BCM pin number for the motion interrupt")
	f.StringVar(&opts.motionPort, "motion-port", defaults.Motion.Port, "serial port of the accelerometer bridge")
	f.StringVar(&opts.httpAddr, "http", defaults.HTTP, "HTTP status address (empty to disable)")
	f.StringVar(&opts.logLevel, "log-level", defaults.LogLevel, "log level (debug|info|warn|error)")
	f.StringVar(&opts.updateMarker, "update-marker", defaults.UpdateMarker, "firmware update marker path")
	f.BoolVar(&opts.printState, "print-state", false, "print current sensor state and exit")

	return cmd
}

// loadConfig reads the config file, if any, and applies flags the user set.
func loadConfig(cmd *cobra.Command, opts *options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return config.Config{}, err
		}
	}
	applyOverrides(cmd, opts, &cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyOverrides(cmd *cobra.Command, opts *options, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("transport") {
		cfg.Transport = opts.transport
	}
	if changed("broker") {
		cfg.MQTT.Broker = opts.broker
	}
	if changed("db") {
		cfg.Storage.Path = opts.dbPath
	}
	if changed("pin-presence") {
		cfg.GPIO.PinPresence = opts.pinPresence
	}
	if changed("pin-motion") {
		cfg.GPIO.PinMotion = opts.pinMotion
	}
	if changed("motion-port") {
		cfg.Motion.Port = opts.motionPort
	}
	if changed("http") {
		cfg.HTTP = opts.httpAddr
	}
	if changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
	if changed("update-marker") {
		cfg.UpdateMarker = opts.updateMarker
	}
}

func setLogLevel(s string) {
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("level", s).Msg("unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func printState(cfg config.Config) error {
	reader, err := gpio.NewRealReader(gpioOptions(cfg, nil, nil))
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer reader.Close()

	presence, motion, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	fmt.Printf("presence: %s, motion: %s\n", lineString(presence), lineString(motion))
	return nil
}

func lineString(asserted bool) string {
	if asserted {
		return string(alarm.LevelRaised)
	}
	return string(alarm.LevelClear)
}

func gpioOptions(cfg config.Config, onEdge gpio.EdgeFunc, src gpio.VectorSource) gpio.Options {
	return gpio.Options{
		Chip:         cfg.GPIO.Chip,
		PinPresence:  cfg.GPIO.PinPresence,
		PinMotion:    cfg.GPIO.PinMotion,
		ActiveLow:    cfg.GPIO.ActiveLow,
		Debounce:     cfg.GPIO.Debounce,
		OnEdge:       onEdge,
		MotionSource: src,
	}
}

// run wires the node from cfg and blocks until shutdown. A firmware update
// request is returned as an exitError carrying system.ExitFirmwareUpdate.
func run(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	go watchSignals(ctx, cancel)

	checkUpdateMarker(cfg.UpdateMarker)

	bridge := flags.NewBridge()

	// Motion vector source
	var vectors gpio.VectorSource
	if cfg.Motion.Port != "" {
		port, err := motion.OpenSerial(cfg.Motion.Port, cfg.Motion.Baud)
		if err != nil {
			return fmt.Errorf("init motion: %w", err)
		}
		defer port.Close()
		go func() {
			if err := port.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("motion stream stopped")
			}
		}()
		vectors = port
	}

	// Sensor lines; edges only raise flags.
	onEdge := func(s alarm.Sensor) { bridge.Set(sentry.EdgeFlag(s)) }
	reader, err := gpio.NewRealReader(gpioOptions(cfg, onEdge, vectors))
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer reader.Close()

	// Data log storage
	store, storageName, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	// Peer transport
	link, publisher, broker := newLink(cfg)
	defer link.Close()

	// Tick producers
	secondTimer := timer.NewPeriodic(cfg.Timing.SecondTick, func() { bridge.Set(flags.SecondTick) })
	divider := flags.NewDivider(bridge, flags.LogTick, cfg.Timing.TicksPerGroup)
	logTimer := timer.NewPeriodic(cfg.Timing.MeasurementPeriod, divider.Tick).OnStart(divider.Reset)

	tracker := status.NewTracker(time.Now(), status.Config{
		Transport:     cfg.Transport,
		Broker:        broker,
		HTTPAddr:      cfg.HTTP,
		Storage:       storageName,
		LogIntervalMs: cfg.Timing.LogInterval().Milliseconds(),
		PinPresence:   cfg.GPIO.PinPresence,
		PinMotion:     cfg.GPIO.PinMotion,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	coord, err := sentry.New(sentry.Config{
		PresenceArmed:    cfg.Alarm.PresenceArmed,
		MotionArmed:      cfg.Alarm.MotionArmed,
		LoggingEnabled:   cfg.Alarm.LoggingEnabled,
		LogInterval:      cfg.Timing.IntervalGroups,
		ReplayAckTimeout: cfg.Timing.ReplayAckTimeout,
	}, sentry.Deps{
		Bridge:      bridge,
		Clock:       clock.New(clock.FromTime(time.Now().UTC())),
		Store:       store,
		Link:        link,
		Sensors:     reader,
		Interrupts:  reader,
		SecondTimer: secondTimer,
		LogTimer:    logTimer,
		Restarter:   system.NewFileRestarter(cfg.UpdateMarker),
		Observer:    &linkObserver{tracker: tracker, link: link},
	})
	if err != nil {
		return fmt.Errorf("init coordinator: %w", err)
	}

	// Start HTTP status server
	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", cfg.HTTP).Msg("http status server listening")
	}

	log.Info().
		Str("transport", cfg.Transport).
		Str("storage", storageName).
		Dur("log_interval", cfg.Timing.LogInterval()).
		Msg("starting")

	d := &daemon{
		coord:     coord,
		tracker:   tracker,
		publisher: publisher,
		now:       time.Now,
	}
	out, err := d.run(ctx)
	if err != nil {
		return err
	}
	if out == sentry.OutcomeFirmwareUpdate {
		return &exitError{code: system.ExitFirmwareUpdate, msg: "restarting into firmware update mode"}
	}
	return nil
}

// closableLink is a coordinator link that owns a connection.
type closableLink interface {
	sentry.Link
	Close() error
}

// newLink builds the configured transport. The publisher is nil when the
// transport has no system event channel.
func newLink(cfg config.Config) (closableLink, systemPublisher, string) {
	if cfg.Transport == config.TransportBLE {
		return ble.New(ble.Options{
			Adapter:   cfg.BLE.Adapter,
			LocalName: cfg.BLE.LocalName,
			CompanyID: cfg.BLE.CompanyID,
		}), nil, ""
	}
	t := mqtt.New(mqtt.Options{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Prefix:      cfg.MQTT.Prefix,
		MaxInFlight: cfg.MQTT.MaxInFlight,
	})
	return t, t, cfg.MQTT.Broker
}

// logStore is the storage the daemon opens and closes.
type logStore interface {
	datalog.Storage
	Close() error
}

func openStore(cfg config.StorageConfig) (logStore, string, error) {
	if cfg.Path == "" {
		return datalog.NewMemStore(cfg.Capacity), "memory", nil
	}
	s, err := datalog.OpenSQLite(cfg.Path)
	if err != nil {
		return nil, "", fmt.Errorf("open data log: %w", err)
	}
	return s, "sqlite:" + cfg.Path, nil
}

// checkUpdateMarker logs and removes a marker left by a firmware update
// restart. The updater has run by the time the daemon boots again.
func checkUpdateMarker(path string) {
	m, ok, err := system.ReadMarker(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("read update marker")
		return
	}
	if !ok {
		return
	}
	log.Info().Str("mode", m.Mode).Time("requested", m.Requested).Msg("booted after firmware update request")
	if err := system.ClearMarker(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("clear update marker")
	}
}

// signalError is the cancellation cause when a signal stops the daemon.
type signalError struct {
	name string
}

func (e *signalError) Error() string { return "received " + e.name }

func watchSignals(ctx context.Context, cancel context.CancelCauseFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case s := <-sigCh:
		log.Info().Str("signal", signalName(s)).Msg("shutting down")
		cancel(&signalError{name: signalName(s)})
	case <-ctx.Done():
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
