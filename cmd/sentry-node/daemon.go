package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sweeney/sentry-node/internal/sentry"
	"github.com/sweeney/sentry-node/internal/status"
	"github.com/sweeney/sentry-node/internal/system"
	"github.com/sweeney/sentry-node/internal/transport/mqtt"
)

// systemPublisher sends lifecycle events. Only the MQTT transport has one.
type systemPublisher interface {
	PublishSystem(event mqtt.SystemEvent) error
}

// brokerStatus is implemented by links with a connection of their own,
// independent of any peer.
type brokerStatus interface {
	IsConnected() bool
}

// linkObserver feeds the status tracker after every coordinator iteration.
type linkObserver struct {
	tracker *status.Tracker
	link    sentry.Link
}

func (o *linkObserver) Observe(s sentry.State) {
	o.tracker.Observe(s)
	o.tracker.SetLinkUp(linkUp(o.link))
}

// linkUp reports the link's own connection. A link without one is up once
// started.
func linkUp(link sentry.Link) bool {
	if b, ok := link.(brokerStatus); ok {
		return b.IsConnected()
	}
	return true
}

// daemon runs a wired coordinator and reports its lifecycle.
type daemon struct {
	coord     *sentry.Coordinator
	tracker   *status.Tracker
	publisher systemPublisher // nil disables system events
	now       func() time.Time
}

// run starts the coordinator and blocks until it stops. Broadcast-only mode
// has no loop left to run, so the daemon idles until ctx is done.
func (d *daemon) run(ctx context.Context) (sentry.Outcome, error) {
	if err := d.coord.Start(ctx); err != nil {
		d.publish("SHUTDOWN", "fatal")
		return sentry.OutcomeShutdown, err
	}
	defer d.coord.Stop()
	d.publish("STARTUP", "")

	out, err := d.coord.Run(ctx)
	d.tracker.Observe(d.coord.Snapshot())
	if err != nil {
		d.publish("SHUTDOWN", "fatal")
		return out, err
	}

	switch out {
	case sentry.OutcomeFirmwareUpdate:
		log.Warn().Msg("firmware update requested, restarting")
		d.publish("SHUTDOWN", out.String())
		return out, nil
	case sentry.OutcomeBroadcast:
		d.publish("MODE", out.String())
		<-ctx.Done()
	}

	d.publish("SHUTDOWN", shutdownReason(ctx))
	return out, nil
}

func (d *daemon) publish(event, reason string) {
	if d.publisher == nil {
		return
	}
	snap := d.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  d.now(),
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := d.publisher.PublishSystem(ev); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("failed to publish system event")
		return
	}
	log.Info().Str("event", event).Msg("published system event")
}

// shutdownReason names the signal that cancelled ctx, if any.
func shutdownReason(ctx context.Context) string {
	var sig *signalError
	if errors.As(context.Cause(ctx), &sig) {
		return sig.name
	}
	return "UNKNOWN"
}

// exitError carries a process exit code other than ExitFatal.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// exitCode maps a command result to the exit code the service manager sees.
func exitCode(err error) int {
	if err == nil {
		return system.ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return system.ExitFatal
}
