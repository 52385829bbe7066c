package sentry

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sweeney/sentry-node/internal/flags"
	"github.com/sweeney/sentry-node/internal/transport"
)

// replayGated are the producers silenced while a replay owns the log.
var replayGated = []flags.Flag{flags.PresenceEdge, flags.MotionEdge, flags.LogTick}

// replay transmits every stored record in order. The log timer and the
// sensor edge producers are stopped first and restored afterwards; a
// failed restore is fatal since the node would stay blind.
func (c *Coordinator) replay(ctx context.Context) error {
	log.Info().Int("records", c.records).Msg("log replay started")

	if err := c.logTimer.Stop(); err != nil {
		log.Warn().Err(err).Msg("stop log timer")
	}
	for _, f := range replayGated {
		c.bridge.Disable(f)
	}
	if err := c.interrupts.DisableEdges(); err != nil {
		log.Warn().Err(err).Msg("disable edge interrupts")
	}

	sent := c.transmit(ctx)
	c.cycler.EndReplay()

	if err := c.interrupts.EnableEdges(); err != nil {
		return fatal("re-enable edge interrupts", err)
	}
	for _, f := range replayGated {
		c.bridge.Enable(f)
	}
	if err := c.logTimer.Start(); err != nil {
		return fatal("restart log timer", err)
	}

	// A tick raised before the replay started is consumed without logging,
	// and the sensors are re-read since edges were missed.
	c.bridge.Take(flags.LogTick)
	c.bridge.Set(flags.PresenceEdge)
	c.bridge.Set(flags.MotionEdge)

	log.Info().Int("sent", sent).Msg("log replay finished")
	return nil
}

func (c *Coordinator) transmit(ctx context.Context) int {
	if err := c.cycler.BeginReplay(ctx); err != nil {
		log.Error().Err(err).Msg("begin replay")
		return 0
	}
	sent := 0
	for ctx.Err() == nil {
		raw, ok, err := c.cycler.NextReplay(ctx)
		if err != nil {
			log.Error().Err(err).Msg("read log record")
			break
		}
		if !ok {
			break
		}
		switch c.notify(transport.HandleLogData, raw[:]) {
		case transport.Delivered:
			sent++
		case transport.Busy:
			// The record is not resent; wait for the link to drain before
			// moving the cursor on.
			c.bridge.Await(ctx, flags.SendComplete, c.cfg.ReplayAckTimeout)
		}
	}
	return sent
}
