// Package room keeps the client's projection of the room: participants,
// their publications and this client's own tracks. All mutations run on
// one goroutine; everybody else reads immutable snapshots or listens to
// the public event stream.
package room

import (
	"context"
	"errors"
	"sync"

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

type Room struct {
	cfg    config.Room
	engine core.Engine
	logger zerolog.Logger

	events *eventq.Broadcaster[Event]
	inbox  *eventq.Queue[func()]
	snap   atomic.Pointer[Snapshot]

	// owned by the loop goroutine
	reg      *Registry
	reserved map[domain.TrackSource]bool

	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	loops    conc.WaitGroup
}

func New(cfg config.Room, engine core.Engine) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Room{
		cfg:      cfg,
		engine:   engine,
		logger:   log.With().Str("module", "app.room").Logger(),
		events:   eventq.NewBroadcaster[Event](),
		inbox:    eventq.NewQueue[func()](),
		reg:      NewRegistry(),
		reserved: make(map[domain.TrackSource]bool),
		ctx:      ctx,
		cancel:   cancel,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	r.snap.Store(r.reg.Snapshot())
	r.loops.Go(r.loop)
	return r
}

// Events subscribes to the public event stream. The subscription never
// blocks the room; an idle subscriber only costs memory.
func (r *Room) Events() *eventq.Subscription[Event] {
	return r.events.Subscribe()
}

// Snapshot returns the latest immutable view of the room.
func (r *Room) Snapshot() *Snapshot { return r.snap.Load() }

func (r *Room) Participant(sid domain.ParticipantID) (ParticipantView, bool) {
	return r.Snapshot().Participant(sid)
}

func (r *Room) State() core.EngineState { return r.engine.State() }

// Connect joins the room. A fresh connect after a terminal state starts
// from an empty registry.
func (r *Room) Connect(ctx context.Context, p core.JoinParams) (*protocol.JoinResponse, error) {
	if !r.do(func() []Event {
		if st := r.reg.State(); st == core.StateIdle || st.Terminal() {
			r.reg = NewRegistry()
			r.reg.state = st
		}
		return nil
	}) {
		return nil, domain.ErrClosed
	}
	p.AutoSubscribe = r.cfg.AutoSubscribe
	return r.engine.Connect(ctx, p)
}

func (r *Room) Leave(reason string) {
	r.engine.Leave(reason)
}

func (r *Room) Simulate(scenario string) error {
	return r.engine.Simulate(scenario)
}

// Close stops the loop and ends every subscription. The engine is not
// closed.
func (r *Room) Close() {
	r.stopOnce.Do(func() {
		r.cancel()
		close(r.stop)
	})
	r.loops.Wait()
	r.inbox.Stop()
	r.events.Close()
}

func (r *Room) loop() {
	defer close(r.done)
	engineEvents := r.engine.Events()
	for {
		select {
		case <-r.stop:
			return
		case ev, ok := <-engineEvents:
			if !ok {
				r.logger.Debug().Msg("engine events closed")
				engineEvents = nil
				continue
			}
			r.commit(r.onEngineEvent(ev))
		case fn := <-r.inbox.C():
			fn()
		}
	}
}

// do runs fn on the loop and commits its events. It reports false once the
// room is closed.
func (r *Room) do(fn func() []Event) bool {
	finished := make(chan struct{})
	if !r.inbox.Push(func() {
		r.commit(fn())
		close(finished)
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-r.done:
		return false
	}
}

// commit publishes evs in order and swaps in a fresh snapshot.
func (r *Room) commit(evs []Event) {
	r.snap.Store(r.reg.Snapshot())
	metrics.RoomParticipants.Set(float64(r.reg.RemoteCount()))
	for _, ev := range evs {
		metrics.RoomEvents.WithLabelValues(ev.Name()).Inc()
		r.events.Publish(ev)
	}
	metrics.RoomEventBacklog.Set(float64(r.events.Backlog()))
}

func (r *Room) onEngineEvent(ev core.EngineEvent) []Event {
	switch e := ev.(type) {
	case core.StateChanged:
		return r.reg.SetState(e.State, e.Err, e.Reason)
	case core.Joined:
		return r.reg.Reconcile(e.Join)
	case core.Resumed:
		r.engine.SendSyncState(r.reg.SyncState())
		return nil
	case core.Restarting:
		return r.reg.DropSubscriptions()
	case core.Restarted:
		r.republish(r.reg.Locals())
		return nil
	case core.SignalReceived:
		evs, err := r.reg.Apply(e.Message)
		if err != nil {
			if errors.Is(err, domain.ErrStaleUpdate) {
				metrics.StaleUpdates.Inc()
				r.logger.Debug().Err(err).Str("type", e.Message.Kind()).Msg("stale update dropped")
			} else {
				r.logger.Warn().Err(err).Str("type", e.Message.Kind()).Msg("update rejected")
			}
		}
		return evs
	case core.RemoteTrackAdded:
		return r.reg.AttachMedia(e.Media)
	case core.RemoteTrackRemoved:
		return r.reg.DetachMedia(e.Media)
	}
	return nil
}

// republish re-announces local publications on a brand new session. It
// runs off the loop since announcing waits for the server.
func (r *Room) republish(locals []LocalPublication) {
	for _, pub := range locals {
		r.loops.Go(func() {
			info, err := r.engine.PublishTrack(r.ctx, pub.Producer, addTrackFor(pub.Track))
			r.do(func() []Event {
				if _, still := r.reg.locals[pub.Track.SID]; !still {
					if err == nil {
						_ = r.engine.UnpublishTrack(pub.Producer, info.SID)
					}
					return nil
				}
				if err != nil {
					r.logger.Error().Err(err).Str("track", string(pub.Track.SID)).Msg("republish failed")
					_, evs, _ := r.reg.RemoveLocal(pub.Track.SID)
					return evs
				}
				r.logger.Info().Str("track", string(pub.Track.SID)).Str("new_track", string(info.SID)).Msg("republished")
				return r.reg.ReplaceLocal(pub.Track.SID, LocalPublication{Track: info, Producer: pub.Producer})
			})
		})
	}
}

func addTrackFor(t domain.TrackInfo) *protocol.AddTrack {
	return &protocol.AddTrack{
		Name:       t.Name,
		Type:       t.Kind,
		Source:     t.Source,
		Muted:      t.Muted,
		Simulcast:  t.Simulcast,
		Dimensions: t.Dimensions,
	}
}
