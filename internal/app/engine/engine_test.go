package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceClient/internal/config"
	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/core/coretest"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func testConfig() config.Engine {
	return config.Engine{
		JoinAttempts:          3,
		ResumeAttempts:        3,
		FullReconnectAttempts: 2,
		InitialBackoff:        time.Millisecond,
		MaxBackoff:            5 * time.Millisecond,
		ConnectTimeout:        200 * time.Millisecond,
		ICEGracePeriod:        30 * time.Millisecond,
		NegotiationRetries:    1,
	}
}

func testJoin() *protocol.JoinResponse {
	return &protocol.JoinResponse{
		Room:        domain.Room{ID: "RM_1", Name: "standup"},
		Participant: domain.ParticipantInfo{SID: "PA_local", Identity: "me"},
	}
}

type recorder struct {
	mu     sync.Mutex
	events []core.EngineEvent
}

func record(e *Engine) *recorder {
	r := &recorder{}
	go func() {
		for ev := range e.Events() {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *recorder) all() []core.EngineEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.EngineEvent(nil), r.events...)
}

func countOf[T core.EngineEvent](r *recorder) int {
	n := 0
	for _, ev := range r.all() {
		if _, ok := ev.(T); ok {
			n++
		}
	}
	return n
}

func (r *recorder) states() []core.EngineState {
	var out []core.EngineState
	for _, ev := range r.all() {
		if sc, ok := ev.(core.StateChanged); ok {
			out = append(out, sc.State)
		}
	}
	return out
}

func (r *recorder) last(st core.EngineState) (core.StateChanged, bool) {
	evs := r.all()
	for i := len(evs) - 1; i >= 0; i-- {
		if sc, ok := evs[i].(core.StateChanged); ok && sc.State == st {
			return sc, true
		}
	}
	return core.StateChanged{}, false
}

type harness struct {
	engine  *Engine
	signal  *coretest.Signal
	factory *coretest.Factory
	events  *recorder
}

func newHarness(t *testing.T, cfg config.Engine, join *protocol.JoinResponse) *harness {
	t.Helper()
	sc := coretest.NewSignal(join)
	f := coretest.NewFactory()
	e := New(cfg, []string{"stun:stun.example.org:3478"}, sc, f)
	t.Cleanup(e.Close)
	return &harness{engine: e, signal: sc, factory: f, events: record(e)}
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	_, err := h.engine.Connect(context.Background(), core.JoinParams{URL: "ws://sfu", Token: "t0"})
	require.NoError(t, err)
	require.Equal(t, core.StateConnected, h.engine.State())
}

func (h *harness) waitState(t *testing.T, st core.EngineState) {
	t.Helper()
	require.Eventually(t, func() bool { return h.engine.State() == st }, waitFor, 5*time.Millisecond, "state %s never reached, at %s", st, h.engine.State())
}

func (h *harness) waitEvent(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, waitFor, 5*time.Millisecond)
}

func TestConnect(t *testing.T) {
	h := newHarness(t, testConfig(), testJoin())
	join, err := h.engine.Connect(context.Background(), core.JoinParams{URL: "ws://sfu", Token: "t0"})
	require.NoError(t, err)

	assert.Equal(t, domain.ParticipantID("PA_local"), join.Participant.SID)
	assert.Equal(t, domain.RoomID("RM_1"), h.engine.RoomID())
	assert.Equal(t, 1, h.signal.Joins())

	pub := h.factory.Latest(protocol.TargetPublisher)
	require.NotNil(t, pub)
	assert.Equal(t, reliableChannel, pub.Config().DataChannel)
	assert.Equal(t, []string{"stun:stun.example.org:3478"}, pub.Config().ICEServers[0].URLs)
	offers, _ := pub.Offers()
	assert.Equal(t, 1, offers)
	h.waitEvent(t, func() bool { return len(pub.Remote()) == 1 })

	h.waitEvent(t, func() bool { return len(h.events.states()) == 2 })
	assert.Equal(t, []core.EngineState{core.StateJoining, core.StateConnected}, h.events.states())

	var kinds []string
	for _, ev := range h.events.all() {
		switch ev := ev.(type) {
		case core.Joined:
			assert.Same(t, join, ev.Join)
			kinds = append(kinds, "joined")
		case core.StateChanged:
			kinds = append(kinds, ev.State.String())
		}
	}
	assert.Equal(t, []string{core.StateJoining.String(), "joined", core.StateConnected.String()}, kinds)
}

func TestJoinedPrecedesLaterRoomMessages(t *testing.T) {
	h := newHarness(t, testConfig(), testJoin())
	h.connect(t)
	h.signal.Push(&protocol.RoomUpdate{Room: domain.Room{ID: "RM_1", Metadata: "later"}})

	h.waitEvent(t, func() bool { return countOf[core.SignalReceived](h.events) == 1 })
	var order []string
	for _, ev := range h.events.all() {
		switch ev.(type) {
		case core.Joined:
			order = append(order, "joined")
		case core.SignalReceived:
			order = append(order, "room_update")
		}
	}
	assert.Equal(t, []string{"joined", "room_update"}, order)
}

func TestConnectRetriesWhenChannelDropsWhileJoining(t *testing.T) {
	h := newHarness(t, testConfig(), testJoin())
	h.signal.DropAfterJoins(1)
	h.connect(t)

	assert.Equal(t, 2, h.signal.Joins())
	assert.True(t, h.signal.Connected())
	assert.Zero(t, h.signal.Resumes())
	assert.Equal(t, []core.EngineState{core.StateJoining, core.StateConnected}, h.events.states())
}

func TestConnectFailsWhenChannelKeepsDroppingWhileJoining(t *testing.T) {
	cfg := testConfig()
	cfg.JoinAttempts = 2
	h := newHarness(t, cfg, testJoin())
	h.signal.DropAfterJoins(2)

	_, err := h.engine.Connect(context.Background(), core.JoinParams{URL: "ws://sfu"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.Equal(t, 2, h.signal.Joins())
	assert.Equal(t, core.StateFailed, h.engine.State())
	assert.False(t, h.signal.Connected())
}

func TestConnectSubscriberPrimaryDoesNotOffer(t *testing.T) {
	join := testJoin()
	join.SubscriberPrimary = true
	h := newHarness(t, testConfig(), join)
	h.connect(t)

	offers, _ := h.factory.Latest(protocol.TargetPublisher).Offers()
	assert.Zero(t, offers)
}

func TestConnectRetriesThenFails(t *testing.T) {
	h := newHarness(t, testConfig(), testJoin())
	h.signal.FailJoins(domain.ErrTimeout, domain.ErrTransport, domain.ErrHandshake)

	_, err := h.engine.Connect(context.Background(), core.JoinParams{URL: "ws://sfu"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrHandshake)
	assert.Equal(t, 3, h.signal.Joins())
	assert.Equal(t, core.StateFailed, h.engine.State())

	h.waitEvent(t, func() bool { _, ok := h.events.last(core.StateFailed); return ok })
	failed, _ := h.events.last(core.StateFailed)
	assert.ErrorIs(t, failed.Err, domain.ErrHandshake)
}

func TestConnectRecoversWithinBudget(t *testing.T) {
	h := newHarness(t, testConfig(), testJoin())
	h.signal.FailJoins(domain.ErrTimeout)
	h.connect(t)
	assert.Equal(t, 2, h.signal.Joins())
}

func TestConnectDoesNotRetryMisuse(t *testing.T) {
	h := newHarness(t, testConfig(), testJoin())
	h.signal.FailJoins(domain.ErrClosed)
	_, err := h.engine.Connect(context.Background(), core.JoinParams{URL: "ws://sfu"})
	assert.ErrorIs(t, err, domain.ErrClosed)
	assert.Equal(t, 1, h.signal.Joins())
}

func TestConnectAfterLeave(t *testing.T) {
	h := newHarness(t, testConfig(), testJoin())
	h.connect(t)
	h.engine.Leave("bye")
	assert.Equal(t, core.StateDisconnected, h.engine.State())
	h.connect(t)
	assert.Equal(t, 2, h.signal.Joins())
}

func TestSubscriberOfferIsAnswered(t *testing.T) {
	h := newHarness(t, testConfig(), testJoin())
	h.connect(t)

	h.signal.Push(&protocol.SessionDescription{Type: protocol.SDPTypeOffer, SDP: "sub-offer", ID: 7})
	sub := h.factory.Latest(protocol.TargetSubscriber)
	h.waitEvent(t, func() bool { return len(sub.Remote()) == 1 })

	var answers []*protocol.SessionDescription
	h.waitEvent(t, func() bool {
		answers = nil
		for _, sd := range coretest.SentOf[*protocol.SessionDescription](h.signal) {
			if sd.Type == protocol.SDPTypeAnswer {
				answers = append(answers, sd)
			}
		}
		return len(answers) == 1
	})
	assert.Equal(t, uint32(7), answers[0].ID)
}

func TestNegotiationRetriedOnceThenReconnects(t *testing.T) {
	t.Run("one failure is absorbed", func(t *testing.T) {
		h := newHarness(t, testConfig(), testJoin())
		h.connect(t)
		sub := h.factory.Latest(protocol.TargetSubscriber)
		sub.FailRemoteDescriptions(1)

		h.signal.Push(&protocol.SessionDescription{Type: protocol.SDPTypeOffer, SDP: "sub-offer"})
		h.waitEvent(t, func() bool { return len(sub.Remote()) == 1 })
		time.Sleep(50 * time.Millisecond)
		assert.Zero(t, h.signal.Resumes())
		assert.Equal(t, core.StateConnected, h.engine.State())
	})

	t.Run("exhausted retries reconnect", func(t *testing.T) {
		h := newHarness(t, testConfig(), testJoin())
		h.connect(t)
		h.factory.Latest(protocol.TargetSubscriber).FailRemoteDescriptions(2)

		h.signal.Push(&protocol.SessionDescription{Type: protocol.SDPTypeOffer, SDP: "sub-offer"})
		h.waitEvent(t, func() bool { return countOf[core.Resumed](h.events) == 1 })
		assert.Equal(t, 1, h.signal.Resumes())
	})
}

func TestTrickleRouting(t *testing.T) {
	h := newHarness(t, testConfig(), testJoin())
	h.connect(t)
	pub := h.factory.Latest(protocol.TargetPublisher)
	sub := h.factory.Latest(protocol.TargetSubscriber)

	h.signal.Push(&protocol.Trickle{Candidate: protocol.ICECandidate{Candidate: "pub-c"}, Target: protocol.TargetPublisher})
	h.signal.Push(&protocol.Trickle{Candidate: protocol.ICECandidate{Candidate: "sub-c"}, Target: protocol.TargetSubscriber})
	h.waitEvent(t, func() bool { return len(pub.Candidates()) == 1 && len(sub.Candidates()) == 1 })
	assert.Equal(t, "pub-c", pub.Candidates()[0].Candidate)

	sub.EmitCandidate(protocol.ICECandidate{Candidate: "local"})
	tr := coretest.SentOf[*protocol.Trickle](h.signal)
	require.Len(t, tr, 1)
	assert.Equal(t, protocol.TargetSubscriber, tr[0].Target)
}

func TestRoomMessagesForwarded(t *testing.T) {
	h := newHarness(t, testConfig(), testJoin())
	h.connect(t)

	h.signal.Push(&protocol.ParticipantUpdate{Participants: []domain.ParticipantInfo{{SID: "PA_a"}}})
	h.signal.Push(&protocol.TrackUnpublished{ParticipantSID: "PA_a", TrackSID: "TR_a"})
	h.waitEvent(t, func() bool { return countOf[core.SignalReceived](h.events) == 2 })

	var kinds []string
	for _, ev := range h.events.all() {
		if sr, ok := ev.(core.SignalReceived); ok {
			kinds = append(kinds, sr.Message.Kind())
		}
	}
	assert.Equal(t, []string{"participant_update", "track_unpublished"}, kinds)
}

func TestRemoteTracksReported(t *testing.T) {
	h := newHarness(t, testConfig(), testJoin())
	h.connect(t)
	sub := h.factory.Latest(protocol.TargetSubscriber)

	m := &coretest.Media{Participant: "PA_a", Track: "TR_a", MediaKind: domain.TrackKindAudio}
	sub.AddRemote(m)
	sub.RemoveRemote(m)
	h.waitEvent(t, func() bool {
		return countOf[core.RemoteTrackAdded](h.events) == 1 && countOf[core.RemoteTrackRemoved](h.events) == 1
	})
}

func TestSignalLossResumes(t *testing.T) {
	h := newHarness(t, testConfig(), testJoin())
	h.connect(t)
	pub := h.factory.Latest(protocol.TargetPublisher)

	h.signal.Lose(domain.ErrTimeout)
	h.waitEvent(t, func() bool { return countOf[core.Resumed](h.events) == 1 })
	h.waitState(t, core.StateConnected)

	assert.Equal(t, 1, h.signal.Joins())
	assert.Equal(t, 1, h.signal.Resumes())
	assert.False(t, pub.Closed(), "resume keeps sessions")
	_, restarts := pub.Offers()
	assert.Equal(t, 1, restarts)
	assert.Zero(t, countOf[core.Restarting](h.events))
	assert.Contains(t, h.events.states(), core.StateReconnecting)
	assert.EqualValues(t, 1, h.engine.Attempts())
}

func TestEscalatesToFullReconnectExactlyOnce(t *testing.T) {
	for _, r := range []int{1, 3, 5} {
		cfg := testConfig()
		cfg.ResumeAttempts = r
		h := newHarness(t, cfg, testJoin())
		h.connect(t)
		oldPub := h.factory.Latest(protocol.TargetPublisher)

		h.signal.FailResumes(r, domain.ErrTimeout)
		h.signal.Lose(domain.ErrTransport)
		h.waitEvent(t, func() bool { return countOf[core.Restarted](h.events) == 1 })
		h.waitState(t, core.StateConnected)

		assert.Equal(t, r, h.signal.Resumes(), "resume budget %d", r)
		assert.Equal(t, 2, h.signal.Joins(), "resume budget %d", r)
		assert.Equal(t, 1, countOf[core.Restarting](h.events), "resume budget %d", r)
		assert.True(t, oldPub.Closed())
		assert.NotSame(t, oldPub, h.factory.Latest(protocol.TargetPublisher))
		assert.Equal(t, domain.RoomID("RM_1"), h.engine.RoomID())
	}
}

func TestResumeSucceedingOnLastAttemptDoesNotEscalate(t *testing.T) {
	cfg := testConfig()
	cfg.ResumeAttempts = 4
	h := newHarness(t, cfg, testJoin())
	h.connect(t)

	h.signal.FailResumes(3, domain.ErrTimeout)
	h.signal.Lose(domain.ErrTransport)
	h.waitEvent(t, func() bool { return countOf[core.Resumed](h.events) == 1 })

	assert.Equal(t, 4, h.signal.Resumes())
	assert.Equal(t, 1, h.signal.Joins())
	assert.Zero(t, countOf[core.Restarting](h.events))
}

func TestResumeRejectedEscalatesImmediately(t *testing.T) {
	cfg := testConfig()
	cfg.ResumeAttempts = 5
	h := newHarness(t, cfg, testJoin())
	h.connect(t)

	h.signal.FailResumes(1, domain.ErrResumeRejected)
	h.signal.Lose(domain.ErrTransport)
	h.waitEvent(t, func() bool { return countOf[core.Restarted](h.events) == 1 })
	assert.Equal(t, 1, h.signal.Resumes())
	assert.Equal(t, 2, h.signal.Joins())
}

func TestFullReconnectKeepsOnlyReplayableRequests(t *testing.T) {
	cfg := testConfig()
	cfg.ResumeAttempts = 1
	h := newHarness(t, cfg, testJoin())
	h.connect(t)

	h.signal.Disconnect()
	h.engine.Send(&protocol.MuteTrack{TrackSID: "TR_1", Muted: true})
	h.engine.Send(&protocol.DataPacket{Payload: []byte("hi")})
	h.signal.FailResumes(1, domain.ErrTimeout)
	h.signal.Lose(domain.ErrTransport)
	h.waitEvent(t, func() bool { return countOf[core.Restarted](h.events) == 1 })

	mutes := coretest.SentOf[*protocol.MuteTrack](h.signal)
	require.Len(t, mutes, 1)
	assert.Equal(t, domain.TrackID("TR_1"), mutes[0].TrackSID)
	assert.Empty(t, coretest.SentOf[*protocol.DataPacket](h.signal))
	assert.NotEmpty(t, h.signal.Drained())
}

func TestFullReconnectExhaustedIsTerminal(t *testing.T) {
	cfg := testConfig()
	cfg.ResumeAttempts = 2
	cfg.FullReconnectAttempts = 2
	h := newHarness(t, cfg, testJoin())
	h.connect(t)

	h.signal.FailResumes(2, domain.ErrTimeout)
	h.signal.FailJoins(domain.ErrTransport, domain.ErrHandshake)
	h.signal.Lose(domain.ErrTransport)
	h.waitState(t, core.StateDisconnected)

	assert.Equal(t, 3, h.signal.Joins())
	h.waitEvent(t, func() bool { _, ok := h.events.last(core.StateDisconnected); return ok })
	last, _ := h.events.last(core.StateDisconnected)
	assert.ErrorIs(t, last.Err, domain.ErrHandshake)
	assert.Equal(t, 1, countOf[core.Restarting](h.events))
	assert.Zero(t, countOf[core.Restarted](h.events))
}

func TestLeaveCancelsReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	h := newHarness(t, cfg, testJoin())
	h.connect(t)

	h.signal.FailResumes(1, domain.ErrTimeout)
	h.signal.Lose(domain.ErrTransport)
	h.waitEvent(t, func() bool { return h.signal.Resumes() == 1 })
	require.Equal(t, core.StateReconnecting, h.engine.State())

	start := time.Now()
	h.engine.Leave("user")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, core.StateDisconnected, h.engine.State())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.signal.Resumes())
	assert.Equal(t, core.StateDisconnected, h.engine.State())
	last, ok := h.events.last(core.StateDisconnected)
	require.True(t, ok)
	assert.Equal(t, "user", last.Reason)
	assert.NoError(t, last.Err)
}

func TestServerLeave(t *testing.T) {
	t.Run("disconnect", func(t *testing.T) {
		h := newHarness(t, testConfig(), testJoin())
		h.connect(t)
		h.signal.Push(&protocol.Leave{Reason: "kicked", Action: protocol.LeaveDisconnect})
		h.waitState(t, core.StateDisconnected)
		h.waitEvent(t, func() bool { _, ok := h.events.last(core.StateDisconnected); return ok })
		last, _ := h.events.last(core.StateDisconnected)
		assert.Equal(t, "kicked", last.Reason)
	})

	t.Run("reconnect skips resume", func(t *testing.T) {
		h := newHarness(t, testConfig(), testJoin())
		h.connect(t)
		h.signal.Push(&protocol.Leave{Reason: "migrate", Action: protocol.LeaveReconnect})
		h.waitEvent(t, func() bool { return countOf[core.Restarted](h.events) == 1 })
		assert.Zero(t, h.signal.Resumes())
		assert.Equal(t, 2, h.signal.Joins())
	})

	t.Run("resume", func(t *testing.T) {
		h := newHarness(t, testConfig(), testJoin())
		h.connect(t)
		h.signal.Push(&protocol.Leave{Action: protocol.LeaveResume})
		h.waitEvent(t, func() bool { return countOf[core.Resumed](h.events) == 1 })
	})
}

func TestRefreshTokenUsedForResume(t *testing.T) {
	h := newHarness(t, testConfig(), testJoin())
	h.connect(t)
	h.signal.Push(&protocol.RefreshToken{Token: "t1"})
	h.signal.Lose(domain.ErrTimeout)
	h.waitEvent(t, func() bool { return countOf[core.Resumed](h.events) == 1 })
	assert.Equal(t, "t1", h.signal.LastJoinParams().Token)
}

func TestICEGracePeriod(t *testing.T) {
	t.Run("short blip is tolerated", func(t *testing.T) {
		h := newHarness(t, testConfig(), testJoin())
		h.connect(t)
		pub := h.factory.Latest(protocol.TargetPublisher)
		pub.SetState(core.SessionDisconnected)
		pub.SetState(core.SessionConnected)
		time.Sleep(80 * time.Millisecond)
		assert.Zero(t, h.signal.Resumes())
	})

	t.Run("sustained disconnect reconnects", func(t *testing.T) {
		h := newHarness(t, testConfig(), testJoin())
		h.connect(t)
		pub := h.factory.Latest(protocol.TargetPublisher)
		pub.SetState(core.SessionDisconnected)
		h.waitEvent(t, func() bool { return h.signal.Resumes() >= 1 })
		pub.SetState(core.SessionConnected)
		h.waitEvent(t, func() bool { return countOf[core.Resumed](h.events)+countOf[core.Restarted](h.events) == 1 })
	})

	t.Run("failure reconnects", func(t *testing.T) {
		cfg := testConfig()
		cfg.ResumeAttempts = 1
		h := newHarness(t, cfg, testJoin())
		h.connect(t)
		h.factory.Latest(protocol.TargetPublisher).SetState(core.SessionFailed)
		h.waitEvent(t, func() bool { return countOf[core.Restarted](h.events) == 1 })
		h.waitState(t, core.StateConnected)
	})
}

func TestPublishTrack(t *testing.T) {
	h := newHarness(t, testConfig(), testJoin())
	p := coretest.NewProducer(domain.TrackKindAudio)

	_, err := h.engine.PublishTrack(context.Background(), p, &protocol.AddTrack{Name: "mic"})
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	h.connect(t)
	info, err := h.engine.PublishTrack(context.Background(), p, &protocol.AddTrack{Name: "mic", Source: domain.TrackSourceMicrophone})
	require.NoError(t, err)
	assert.Equal(t, domain.TrackID("TR_1"), info.SID)
	assert.Equal(t, domain.TrackKindAudio, info.Kind)

	pub := h.factory.Latest(protocol.TargetPublisher)
	assert.True(t, pub.Attached(p.CID()))
	offers, _ := pub.Offers()
	assert.Equal(t, 2, offers)

	require.NoError(t, h.engine.UnpublishTrack(p, info.SID))
	assert.False(t, pub.Attached(p.CID()))
	unpub := coretest.SentOf[*protocol.UnpublishTrack](h.signal)
	require.Len(t, unpub, 1)
	assert.Equal(t, info.SID, unpub[0].TrackSID)
}

func TestSendSyncStateCarriesSubscriberAnswer(t *testing.T) {
	h := newHarness(t, testConfig(), testJoin())
	h.connect(t)
	h.signal.Push(&protocol.SessionDescription{Type: protocol.SDPTypeOffer, SDP: "sub-offer"})
	sub := h.factory.Latest(protocol.TargetSubscriber)
	h.waitEvent(t, func() bool { return sub.LocalDescription() != nil })

	h.engine.SendSyncState(&protocol.SyncState{})
	syncs := coretest.SentOf[*protocol.SyncState](h.signal)
	require.Len(t, syncs, 1)
	require.NotNil(t, syncs[0].Answer)
	assert.Equal(t, protocol.SDPTypeAnswer, syncs[0].Answer.Type)
}

func TestSimulate(t *testing.T) {
	h := newHarness(t, testConfig(), testJoin())
	assert.ErrorIs(t, h.engine.Simulate(ScenarioSignalReconnect), domain.ErrNotConnected)
	h.connect(t)

	assert.ErrorIs(t, h.engine.Simulate("meteor"), ErrUnknownScenario)

	require.NoError(t, h.engine.Simulate(ScenarioSignalReconnect))
	h.waitEvent(t, func() bool { return countOf[core.Resumed](h.events) == 1 })
	h.waitState(t, core.StateConnected)

	require.NoError(t, h.engine.Simulate(ScenarioFullReconnect))
	h.waitEvent(t, func() bool { return countOf[core.Restarted](h.events) == 1 })
	h.waitState(t, core.StateConnected)

	require.NoError(t, h.engine.Simulate(ScenarioServerLeave))
	sims := coretest.SentOf[*protocol.Simulate](h.signal)
	require.Len(t, sims, 1)
	assert.Equal(t, ScenarioServerLeave, sims[0].Scenario)
}
