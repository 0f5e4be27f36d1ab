package engine

import (
	"context"
	"fmt"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/protocol"
)

// PublishTrack announces p, attaches it to the publisher once the server
// has assigned a sid and renegotiates.
func (e *Engine) PublishTrack(ctx context.Context, p core.LocalProducer, req *protocol.AddTrack) (domain.TrackInfo, error) {
	if st := e.State(); st != core.StateConnected {
		return domain.TrackInfo{}, fmt.Errorf("publish: %w (%s)", domain.ErrNotConnected, st)
	}
	req.CID = p.CID()
	req.Type = p.Kind()
	msg, err := e.signal.Call(ctx, req, req.CID)
	if err != nil {
		return domain.TrackInfo{}, fmt.Errorf("publish %s: %w", req.Name, err)
	}
	tp, ok := msg.(*protocol.TrackPublished)
	if !ok {
		return domain.TrackInfo{}, fmt.Errorf("publish %s: %w: unexpected %s", req.Name, domain.ErrNegotiation, msg.Kind())
	}

	pub, _ := e.sessions()
	if pub == nil {
		return domain.TrackInfo{}, fmt.Errorf("publish: %w", domain.ErrNotConnected)
	}
	if err := pub.Attach(p); err != nil {
		e.signal.Send(&protocol.UnpublishTrack{TrackSID: tp.Track.SID})
		return domain.TrackInfo{}, fmt.Errorf("publish %s: attach: %w", req.Name, err)
	}
	if err := e.negotiate(false); err != nil {
		e.logger.Warn().Err(err).Msg("renegotiation after publish")
	}
	e.logger.Info().Str("track", string(tp.Track.SID)).Str("cid", req.CID).Str("kind", string(req.Type)).Msg("track published")
	return tp.Track, nil
}

// UnpublishTrack detaches p and tells the server. It works in any state;
// the request waits in the pending queue while the channel is down.
func (e *Engine) UnpublishTrack(p core.LocalProducer, sid domain.TrackID) error {
	pub, _ := e.sessions()
	e.signal.Send(&protocol.UnpublishTrack{TrackSID: sid})
	if pub == nil {
		return nil
	}
	if err := pub.Detach(p); err != nil {
		return fmt.Errorf("unpublish %s: %w", sid, err)
	}
	if e.State() == core.StateConnected {
		if err := e.negotiate(false); err != nil {
			e.logger.Warn().Err(err).Msg("renegotiation after unpublish")
		}
	}
	return nil
}

func (e *Engine) Send(req protocol.Request) {
	e.signal.Send(req)
}

// SendSyncState completes state with the subscriber's current answer.
func (e *Engine) SendSyncState(state *protocol.SyncState) {
	if _, sub := e.sessions(); sub != nil {
		state.Answer = sub.LocalDescription()
	}
	e.signal.Send(state)
}

// Simulate exercises a failure path against a live session.
func (e *Engine) Simulate(scenario string) error {
	if st := e.State(); st != core.StateConnected {
		return fmt.Errorf("simulate: %w (%s)", domain.ErrNotConnected, st)
	}
	e.logger.Info().Str("scenario", scenario).Msg("simulating")
	switch scenario {
	case ScenarioSignalReconnect:
		e.signal.DropConnection()
	case ScenarioFullReconnect:
		e.triggerReconnect(fmt.Errorf("%w: simulated", domain.ErrTransport), true)
	case ScenarioServerLeave:
		e.signal.Send(&protocol.Simulate{Scenario: scenario})
	default:
		return fmt.Errorf("%w: %q", ErrUnknownScenario, scenario)
	}
	return nil
}
