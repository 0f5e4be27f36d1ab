package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/metrics"
	"github.com/dkeye/VoiceClient/internal/protocol"
)

const (
	strategyResume = "resume"
	strategyFull   = "full"
)

// triggerReconnect starts a reconnect cycle unless one is already running.
// Only a Connected engine reconnects; Connect and reconnect check the
// channel again once they reach Connected.
func (e *Engine) triggerReconnect(cause error, full bool) {
	e.mu.Lock()
	ctx := e.ctx
	connected := e.state == core.StateConnected
	e.mu.Unlock()
	if !connected || ctx.Err() != nil {
		return
	}
	if !e.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go e.reconnect(ctx, cause, full)
}

// reconnect resumes first and escalates to a full reconnect once the resume
// budget is spent or the server refuses to resume.
func (e *Engine) reconnect(ctx context.Context, cause error, full bool) {
	defer func() {
		e.reconnecting.Store(false)
		// the channel may have dropped again while we were finishing
		if ctx.Err() == nil && e.State() == core.StateConnected && !e.signal.Connected() {
			e.triggerReconnect(fmt.Errorf("%w: control channel down after reconnect", domain.ErrTransport), false)
		}
	}()
	if !e.transition(ctx, core.StateReconnecting, cause) {
		return
	}

	if !full {
		err := e.resume(ctx)
		if err == nil {
			metrics.ReconnectOutcomes.WithLabelValues(strategyResume, "success").Inc()
			e.transition(ctx, core.StateConnected, nil, core.Resumed{})
			return
		}
		metrics.ReconnectOutcomes.WithLabelValues(strategyResume, "failure").Inc()
		if ctx.Err() != nil {
			e.signal.Disconnect()
			return
		}
		e.logger.Warn().Err(err).Msg("resume failed, escalating to full reconnect")
	}

	join, err := e.restart(ctx)
	if err == nil {
		metrics.ReconnectOutcomes.WithLabelValues(strategyFull, "success").Inc()
		e.transition(ctx, core.StateConnected, nil, core.Restarted{Join: join})
		return
	}
	metrics.ReconnectOutcomes.WithLabelValues(strategyFull, "failure").Inc()
	e.signal.Disconnect()
	e.teardown()
	if ctx.Err() != nil {
		return
	}
	e.signal.Drain(err)
	e.transition(ctx, core.StateDisconnected, err)
}

func (e *Engine) resume(ctx context.Context) error {
	var last error
	for attempt := 1; attempt <= e.cfg.ResumeAttempts; attempt++ {
		if err := sleepCtx(ctx, e.cfg.Backoff(attempt)); err != nil {
			return err
		}
		e.attempts.Inc()
		metrics.ReconnectAttempts.WithLabelValues(strategyResume).Inc()
		e.logger.Info().Int("attempt", attempt).Msg("resuming")

		last = e.resumeOnce(ctx)
		if last == nil {
			return nil
		}
		e.logger.Warn().Err(last).Int("attempt", attempt).Msg("resume attempt failed")
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(last, domain.ErrResumeRejected) {
			break
		}
	}
	if last == nil {
		last = fmt.Errorf("%w: resume disabled", domain.ErrTransport)
	}
	return last
}

// resumeOnce rebinds the participant on a new control channel and restarts
// ICE on the publisher if it was ever negotiated.
func (e *Engine) resumeOnce(ctx context.Context) error {
	e.mu.Lock()
	params := e.params
	var sid domain.ParticipantID
	if e.join != nil {
		sid = e.join.Participant.SID
	}
	primary := e.publisher
	if e.join != nil && e.join.SubscriberPrimary {
		primary = e.subscriber
	}
	e.mu.Unlock()
	if primary == nil {
		return fmt.Errorf("%w: no session to resume", domain.ErrResumeRejected)
	}

	if _, err := e.signal.Resume(ctx, params, sid); err != nil {
		return err
	}
	pub, _ := e.sessions()
	if pub != nil && pub.LocalDescription() != nil {
		if err := e.negotiate(true); err != nil {
			return err
		}
	}
	return e.waitConnected(ctx, primary)
}

// restart discards the sessions and joins again. Only replayable requests
// survive in the pending queue; publications are re-announced by the room
// after Restarted.
func (e *Engine) restart(ctx context.Context) (*protocol.JoinResponse, error) {
	e.emit(core.Restarting{})
	dropped := e.signal.RetainPending(protocol.Request.Replayable)
	e.signal.Drain(fmt.Errorf("%w: full reconnect", domain.ErrTransport))
	e.signal.Disconnect()
	e.teardown()
	e.logger.Info().Int("dropped_pending", dropped).Msg("full reconnect")

	var last error
	for attempt := 1; attempt <= e.cfg.FullReconnectAttempts; attempt++ {
		if err := sleepCtx(ctx, e.cfg.Backoff(attempt)); err != nil {
			return nil, err
		}
		e.attempts.Inc()
		metrics.ReconnectAttempts.WithLabelValues(strategyFull).Inc()

		join, err := e.establish(ctx)
		if err == nil {
			return join, nil
		}
		last = err
		e.logger.Warn().Err(err).Int("attempt", attempt).Msg("full reconnect attempt failed")
		e.teardown()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if last == nil {
		last = fmt.Errorf("%w: full reconnect disabled", domain.ErrTransport)
	}
	return nil, last
}
