// Package engine is the transport coordinator: it owns the publish and
// subscribe sessions, drives negotiation over the control channel and runs
// the resume / full reconnect state machine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/VoiceClient/internal/config"
	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/eventq"
	"github.com/dkeye/VoiceClient/internal/metrics"
	"github.com/dkeye/VoiceClient/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"
)

var _ core.Engine = (*Engine)(nil)

// Scenarios accepted by Simulate.
const (
	ScenarioSignalReconnect = "signal_reconnect"
	ScenarioFullReconnect   = "full_reconnect"
	ScenarioServerLeave     = "server_leave"
)

const reliableChannel = "_reliable"

var ErrUnknownScenario = errors.New("unknown scenario")

type Engine struct {
	cfg     config.Engine
	ice     []protocol.ICEServer
	signal  core.SignalChannel
	factory core.TransportFactory
	logger  zerolog.Logger
	events  *eventq.Queue[core.EngineEvent]

	mu         sync.Mutex
	state      core.EngineState
	params     core.JoinParams
	join       *protocol.JoinResponse
	roomID     domain.RoomID
	publisher  core.TransportSession
	subscriber core.TransportSession
	pubFails   int
	iceTimers  map[core.TransportSession]*time.Timer
	ctx        context.Context
	cancel     context.CancelFunc
	// last join answer the signal loop forwarded, and a channel closed
	// whenever it changes
	announced *protocol.JoinResponse
	announce  chan struct{}

	reconnecting atomic.Bool
	attempts     atomic.Int64
	closed       atomic.Bool
	loops        conc.WaitGroup
}

// New wires an engine. iceServers are used in addition to the ones the
// server hands out.
func New(cfg config.Engine, iceServers []string, sc core.SignalChannel, factory core.TransportFactory) *Engine {
	e := &Engine{
		cfg:       cfg,
		signal:    sc,
		factory:   factory,
		logger:    log.With().Str("module", "app.engine").Logger(),
		events:    eventq.NewQueue[core.EngineEvent](),
		iceTimers: make(map[core.TransportSession]*time.Timer),
		announce:  make(chan struct{}),
		ctx:       context.Background(),
		cancel:    func() {},
	}
	if len(iceServers) > 0 {
		e.ice = []protocol.ICEServer{{URLs: iceServers}}
	}
	e.loops.Go(e.signalLoop)
	return e
}

func (e *Engine) Events() <-chan core.EngineEvent { return e.events.C() }

func (e *Engine) State() core.EngineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) RoomID() domain.RoomID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roomID
}

// Attempts is the number of reconnect attempts made since the engine was built.
func (e *Engine) Attempts() int64 { return e.attempts.Load() }

// Connect joins the room and negotiates the primary session. Retryable
// failures are retried up to JoinAttempts; after that the engine is Failed.
func (e *Engine) Connect(ctx context.Context, p core.JoinParams) (*protocol.JoinResponse, error) {
	if e.closed.Load() {
		return nil, domain.ErrClosed
	}
	e.mu.Lock()
	if e.state != core.StateIdle && !e.state.Terminal() {
		e.mu.Unlock()
		return nil, fmt.Errorf("connect: already %s", e.state)
	}
	sessionCtx, cancel := context.WithCancel(context.Background())
	e.ctx, e.cancel = sessionCtx, cancel
	e.params = p
	e.join = nil
	e.roomID = ""
	e.setStateLocked(core.StateJoining, nil, "")
	e.mu.Unlock()

	ctx, stop := joinContext(ctx, sessionCtx)
	defer stop()

	var (
		join *protocol.JoinResponse
		err  error
	)
	for attempt := 1; attempt <= max(e.cfg.JoinAttempts, 1); attempt++ {
		if err = sleepCtx(ctx, e.cfg.Backoff(attempt)); err != nil {
			break
		}
		join, err = e.establish(ctx)
		if err == nil && !e.signal.Connected() {
			err = fmt.Errorf("%w: control channel lost while joining", domain.ErrTransport)
		}
		if err == nil {
			break
		}
		e.logger.Warn().Err(err).Int("attempt", attempt).Msg("join failed")
		e.teardown()
		if !domain.Retryable(err) {
			break
		}
	}
	if err != nil {
		e.signal.Disconnect()
		e.mu.Lock()
		if sessionCtx.Err() == nil {
			e.setStateLocked(core.StateFailed, err, "")
		}
		e.mu.Unlock()
		return nil, fmt.Errorf("connect: %w", err)
	}

	e.mu.Lock()
	if sessionCtx.Err() != nil {
		e.mu.Unlock()
		return nil, sessionCtx.Err()
	}
	e.setStateLocked(core.StateConnected, nil, "")
	e.mu.Unlock()
	e.logger.Info().
		Str("room", string(join.Room.ID)).
		Str("participant", string(join.Participant.SID)).
		Bool("subscriber_primary", join.SubscriberPrimary).
		Msg("connected")
	// a loss raised while still joining was not acted on
	if !e.signal.Connected() {
		e.triggerReconnect(fmt.Errorf("%w: control channel down after join", domain.ErrTransport), false)
	}
	return join, nil
}

// joinContext ends when either the caller or the session gives up.
func joinContext(caller, session context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(caller)
	stop := context.AfterFunc(session, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// establish runs one join: control channel, fresh sessions and the first
// negotiation, then waits for the primary session to connect.
func (e *Engine) establish(ctx context.Context) (*protocol.JoinResponse, error) {
	e.mu.Lock()
	params := e.params
	e.mu.Unlock()

	join, err := e.signal.Join(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := e.awaitJoined(ctx, join); err != nil {
		return nil, err
	}
	pub, sub, err := e.newSessions(join.ICEServers)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if ctx.Err() != nil {
		e.mu.Unlock()
		_ = pub.Close()
		_ = sub.Close()
		return nil, ctx.Err()
	}
	e.join = join
	e.publisher, e.subscriber = pub, sub
	e.pubFails = 0
	switch {
	case e.roomID == "":
		e.roomID = join.Room.ID
	case e.roomID != join.Room.ID:
		e.logger.Warn().Str("room", string(e.roomID)).Str("new_room", string(join.Room.ID)).Msg("server assigned a new room id")
	}
	e.mu.Unlock()

	primary := pub
	if join.SubscriberPrimary {
		primary = sub
	} else if err := e.negotiate(false); err != nil {
		return nil, err
	}
	if err := e.waitConnected(ctx, primary); err != nil {
		return nil, err
	}
	return join, nil
}

// announceJoin forwards a join answer from the signal loop, so that it
// reaches the room ahead of every later message of the same connection.
func (e *Engine) announceJoin(join *protocol.JoinResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events.Push(core.Joined{Join: join})
	e.announced = join
	close(e.announce)
	e.announce = make(chan struct{})
}

// awaitJoined blocks until the signal loop has forwarded join.
func (e *Engine) awaitJoined(ctx context.Context, join *protocol.JoinResponse) error {
	for {
		e.mu.Lock()
		done, wake := e.announced == join, e.announce
		e.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) newSessions(servers []protocol.ICEServer) (core.TransportSession, core.TransportSession, error) {
	ice := append(slices.Clone(servers), e.ice...)
	pub, err := e.factory.NewSession(core.SessionConfig{
		Target:      protocol.TargetPublisher,
		ICEServers:  ice,
		DataChannel: reliableChannel,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: publisher session: %v", domain.ErrTransport, err)
	}
	sub, err := e.factory.NewSession(core.SessionConfig{Target: protocol.TargetSubscriber, ICEServers: ice})
	if err != nil {
		_ = pub.Close()
		return nil, nil, fmt.Errorf("%w: subscriber session: %v", domain.ErrTransport, err)
	}
	e.bindSession(pub)
	e.bindSession(sub)
	return pub, sub, nil
}

func (e *Engine) bindSession(s core.TransportSession) {
	s.OnICECandidate(func(c protocol.ICECandidate) {
		if e.current(s) {
			e.signal.Send(&protocol.Trickle{Candidate: c, Target: s.Target()})
		}
	})
	s.OnStateChange(func(st core.SessionState) {
		if e.current(s) {
			e.onSessionState(s, st)
		}
	})
	s.OnRemoteTrack(func(m core.RemoteMedia) {
		if e.current(s) {
			e.emit(core.RemoteTrackAdded{Media: m})
		}
	})
	s.OnRemoteTrackRemoved(func(m core.RemoteMedia) {
		if e.current(s) {
			e.emit(core.RemoteTrackRemoved{Media: m})
		}
	})
}

func (e *Engine) current(s core.TransportSession) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return s == e.publisher || s == e.subscriber
}

func (e *Engine) sessions() (pub, sub core.TransportSession) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.publisher, e.subscriber
}

// onSessionState starts the ICE grace timer on disconnect and reconnects on
// failure or when the grace period runs out.
func (e *Engine) onSessionState(s core.TransportSession, st core.SessionState) {
	e.logger.Debug().Str("target", string(s.Target())).Str("state", st.String()).Msg("session state")
	e.mu.Lock()
	if t, ok := e.iceTimers[s]; ok && st != core.SessionDisconnected {
		t.Stop()
		delete(e.iceTimers, s)
	}
	connected := e.state == core.StateConnected
	switch {
	case st == core.SessionDisconnected && connected:
		if _, ok := e.iceTimers[s]; !ok {
			e.iceTimers[s] = time.AfterFunc(e.cfg.ICEGracePeriod, func() {
				if s.State() == core.SessionDisconnected {
					e.triggerReconnect(fmt.Errorf("%w: %s ice disconnected past grace period", domain.ErrTransport, s.Target()), false)
				}
			})
		}
		e.mu.Unlock()
	case st == core.SessionFailed && connected:
		e.mu.Unlock()
		e.triggerReconnect(fmt.Errorf("%w: %s session failed", domain.ErrTransport, s.Target()), false)
	default:
		e.mu.Unlock()
	}
}

// waitConnected polls s until it connects, fails or ConnectTimeout passes.
func (e *Engine) waitConnected(ctx context.Context, s core.TransportSession) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ConnectTimeout)
	defer cancel()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		switch s.State() {
		case core.SessionConnected:
			return nil
		case core.SessionFailed, core.SessionClosed:
			return fmt.Errorf("%w: %s session %s", domain.ErrTransport, s.Target(), s.State())
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s session not connected", domain.ErrTimeout, s.Target())
			}
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// teardown closes both sessions and forgets them.
func (e *Engine) teardown() {
	e.mu.Lock()
	pub, sub := e.publisher, e.subscriber
	e.publisher, e.subscriber = nil, nil
	for s, t := range e.iceTimers {
		t.Stop()
		delete(e.iceTimers, s)
	}
	e.mu.Unlock()
	for _, s := range []core.TransportSession{pub, sub} {
		if s != nil {
			if err := s.Close(); err != nil {
				e.logger.Warn().Err(err).Str("target", string(s.Target())).Msg("session close")
			}
		}
	}
}

// Leave ends the session: pending reconnection stops, in-flight calls are
// abandoned and the engine becomes Disconnected.
func (e *Engine) Leave(reason string) {
	e.mu.Lock()
	if e.state == core.StateIdle || e.state.Terminal() {
		e.mu.Unlock()
		return
	}
	e.cancel()
	e.mu.Unlock()

	e.signal.Drain(domain.ErrClosed)
	e.signal.Disconnect()
	e.teardown()

	e.mu.Lock()
	e.setStateLocked(core.StateDisconnected, nil, reason)
	e.mu.Unlock()
	e.logger.Info().Str("reason", reason).Msg("left")
}

// Close leaves and stops the engine for good.
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.Leave("client closed")
	e.signal.Close()
	e.loops.Wait()
	e.events.Close()
}

func (e *Engine) emit(ev core.EngineEvent) {
	e.events.Push(ev)
}

// setStateLocked records and announces a transition. Callers hold e.mu so
// state order and event order agree.
func (e *Engine) setStateLocked(st core.EngineState, err error, reason string) {
	if e.state == st && err == nil {
		return
	}
	prev := e.state
	e.state = st
	metrics.EngineState.Set(float64(st))
	ev := e.logger.Info()
	if st.Terminal() && err != nil {
		ev = e.logger.Error().Err(err)
	}
	ev.Str("from", prev.String()).Str("to", st.String()).Msg("state changed")
	e.events.Push(core.StateChanged{State: st, Err: err, Reason: reason})
}

// transition changes state unless ctx (the session that asked) has ended.
func (e *Engine) transition(ctx context.Context, st core.EngineState, err error, before ...core.EngineEvent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	for _, ev := range before {
		e.events.Push(ev)
	}
	e.setStateLocked(st, err, "")
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
