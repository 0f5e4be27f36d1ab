package engine

import (
	"fmt"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/protocol"
)

// signalLoop consumes the control channel for the engine's whole life.
// Negotiation and session-level messages are handled here; room state is
// forwarded to the room in arrival order.
func (e *Engine) signalLoop() {
	for ev := range e.signal.Events() {
		if ev.Lost != nil {
			e.logger.Warn().Err(ev.Lost).Msg("control channel lost")
			e.triggerReconnect(ev.Lost, false)
			continue
		}
		e.handle(ev.Message)
	}
	e.logger.Debug().Msg("signal loop done")
}

func (e *Engine) handle(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.SessionDescription:
		switch m.Type {
		case protocol.SDPTypeOffer:
			e.onOffer(m)
		case protocol.SDPTypeAnswer:
			e.onAnswer(m)
		default:
			e.logger.Warn().Str("type", m.Type).Msg("unexpected session description")
		}
	case *protocol.Trickle:
		e.onTrickle(m)
	case *protocol.Leave:
		e.onLeave(m)
	case *protocol.RefreshToken:
		e.mu.Lock()
		e.params.Token = m.Token
		e.mu.Unlock()
		e.logger.Debug().Msg("token refreshed")
	case *protocol.JoinResponse:
		e.announceJoin(m)
	case *protocol.ReconnectResponse, *protocol.Pong:
	default:
		e.emit(core.SignalReceived{Message: msg})
	}
}

// onOffer answers a server offer on the subscriber session, retrying the
// whole apply/answer step NegotiationRetries times.
func (e *Engine) onOffer(offer *protocol.SessionDescription) {
	_, sub := e.sessions()
	if sub == nil {
		e.logger.Warn().Msg("offer without subscriber session")
		return
	}
	var err error
	for try := 0; try <= e.cfg.NegotiationRetries; try++ {
		var answer *protocol.SessionDescription
		if answer, err = answerOffer(sub, offer); err == nil {
			answer.ID = offer.ID
			e.signal.Send(answer)
			return
		}
		e.logger.Warn().Err(err).Int("try", try+1).Msg("subscriber negotiation failed")
	}
	e.triggerReconnect(err, false)
}

func answerOffer(s core.TransportSession, offer *protocol.SessionDescription) (*protocol.SessionDescription, error) {
	if err := s.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	return s.CreateAnswer()
}

// onAnswer applies the server answer to the publisher. A failed apply is
// renegotiated with a fresh offer until the retry budget runs out.
func (e *Engine) onAnswer(answer *protocol.SessionDescription) {
	pub, _ := e.sessions()
	if pub == nil {
		return
	}
	err := pub.SetRemoteDescription(answer)
	e.mu.Lock()
	if err == nil {
		e.pubFails = 0
		e.mu.Unlock()
		return
	}
	e.pubFails++
	fails := e.pubFails
	e.mu.Unlock()

	e.logger.Warn().Err(err).Int("failures", fails).Msg("publisher negotiation failed")
	if fails <= e.cfg.NegotiationRetries {
		if err := e.negotiate(false); err == nil {
			return
		}
	}
	e.triggerReconnect(err, false)
}

// negotiate sends a fresh publisher offer.
func (e *Engine) negotiate(iceRestart bool) error {
	pub, _ := e.sessions()
	if pub == nil {
		return fmt.Errorf("%w: no publisher session", domain.ErrNotConnected)
	}
	offer, err := pub.CreateOffer(iceRestart)
	if err != nil {
		return err
	}
	e.signal.Send(offer)
	return nil
}

func (e *Engine) onTrickle(t *protocol.Trickle) {
	pub, sub := e.sessions()
	s := sub
	if t.Target == protocol.TargetPublisher {
		s = pub
	}
	if s == nil {
		return
	}
	if err := s.AddICECandidate(t.Candidate); err != nil {
		e.logger.Warn().Err(err).Str("target", string(t.Target)).Msg("remote candidate rejected")
	}
}

func (e *Engine) onLeave(l *protocol.Leave) {
	e.logger.Info().Str("reason", l.Reason).Str("action", string(l.Action)).Msg("server leave")
	switch l.Action {
	case protocol.LeaveResume:
		e.triggerReconnect(fmt.Errorf("%w: server asked to resume", domain.ErrTransport), false)
	case protocol.LeaveReconnect:
		e.triggerReconnect(fmt.Errorf("%w: server asked to reconnect", domain.ErrTransport), true)
	default:
		e.Leave(l.Reason)
	}
}
