package coretest

import (
	"fmt"
	"sync"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/protocol"
)

var (
	_ core.TransportFactory = (*Factory)(nil)
	_ core.TransportSession = (*Session)(nil)
	_ core.LocalProducer    = (*Producer)(nil)
	_ core.RemoteMedia      = (*Media)(nil)
)

// Factory hands out Sessions that report connected as soon as they exist.
type Factory struct {
	mu       sync.Mutex
	sessions []*Session
	err      error
}

func NewFactory() *Factory { return &Factory{} }

// FailNext makes the next NewSession fail with err.
func (f *Factory) FailNext(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *Factory) NewSession(cfg core.SessionConfig) (core.TransportSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		err := f.err
		f.err = nil
		return nil, err
	}
	s := &Session{cfg: cfg, state: core.SessionConnected, attached: make(map[string]core.LocalProducer)}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *Factory) Sessions() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session(nil), f.sessions...)
}

// Latest returns the newest session for target.
func (f *Factory) Latest(target protocol.SignalTarget) *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sessions) - 1; i >= 0; i-- {
		if f.sessions[i].cfg.Target == target {
			return f.sessions[i]
		}
	}
	return nil
}

type Session struct {
	cfg core.SessionConfig

	mu             sync.Mutex
	state          core.SessionState
	offers         int
	iceRestarts    int
	remote         []*protocol.SessionDescription
	local          *protocol.SessionDescription
	candidates     []protocol.ICECandidate
	attached       map[string]core.LocalProducer
	closed         bool
	remoteErrs     int
	onState        func(core.SessionState)
	onTrack        func(core.RemoteMedia)
	onTrackRemoved func(core.RemoteMedia)
	onICE          func(protocol.ICECandidate)
}

func (s *Session) Target() protocol.SignalTarget { return s.cfg.Target }
func (s *Session) Config() core.SessionConfig    { return s.cfg }

func (s *Session) CreateOffer(iceRestart bool) (*protocol.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers++
	if iceRestart {
		s.iceRestarts++
	}
	s.local = &protocol.SessionDescription{Type: protocol.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", s.offers)}
	return s.local, nil
}

func (s *Session) CreateAnswer() (*protocol.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = &protocol.SessionDescription{Type: protocol.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", len(s.remote))}
	return s.local, nil
}

// FailRemoteDescriptions makes the next n SetRemoteDescription calls fail.
func (s *Session) FailRemoteDescriptions(n int) {
	s.mu.Lock()
	s.remoteErrs = n
	s.mu.Unlock()
}

func (s *Session) SetRemoteDescription(sd *protocol.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteErrs > 0 {
		s.remoteErrs--
		return fmt.Errorf("%w: scripted failure", domain.ErrNegotiation)
	}
	s.remote = append(s.remote, sd)
	return nil
}

func (s *Session) AddICECandidate(c protocol.ICECandidate) error {
	s.mu.Lock()
	s.candidates = append(s.candidates, c)
	s.mu.Unlock()
	return nil
}

func (s *Session) LocalDescription() *protocol.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *Session) Attach(p core.LocalProducer) error {
	s.mu.Lock()
	s.attached[p.CID()] = p
	s.mu.Unlock()
	return nil
}

func (s *Session) Detach(p core.LocalProducer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attached[p.CID()]; !ok {
		return fmt.Errorf("coretest: %s not attached", p.CID())
	}
	delete(s.attached, p.CID())
	return nil
}

func (s *Session) State() core.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState changes the state and notifies the registered callback.
func (s *Session) SetState(st core.SessionState) {
	s.mu.Lock()
	s.state = st
	fn := s.onState
	s.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (s *Session) OnICECandidate(fn func(protocol.ICECandidate)) {
	s.mu.Lock()
	s.onICE = fn
	s.mu.Unlock()
}

func (s *Session) OnStateChange(fn func(core.SessionState)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

func (s *Session) OnRemoteTrack(fn func(core.RemoteMedia)) {
	s.mu.Lock()
	s.onTrack = fn
	s.mu.Unlock()
}

func (s *Session) OnRemoteTrackRemoved(fn func(core.RemoteMedia)) {
	s.mu.Lock()
	s.onTrackRemoved = fn
	s.mu.Unlock()
}

// AddRemote fires the remote track callback.
func (s *Session) AddRemote(m core.RemoteMedia) {
	s.mu.Lock()
	fn := s.onTrack
	s.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

func (s *Session) RemoveRemote(m core.RemoteMedia) {
	s.mu.Lock()
	fn := s.onTrackRemoved
	s.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

// EmitCandidate fires the local candidate callback.
func (s *Session) EmitCandidate(c protocol.ICECandidate) {
	s.mu.Lock()
	fn := s.onICE
	s.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.state = core.SessionClosed
	s.mu.Unlock()
	return nil
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) Offers() (total, iceRestarts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offers, s.iceRestarts
}

func (s *Session) Remote() []*protocol.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*protocol.SessionDescription(nil), s.remote...)
}

func (s *Session) Candidates() []protocol.ICECandidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.ICECandidate(nil), s.candidates...)
}

func (s *Session) Attached(cid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.attached[cid]
	return ok
}

// Producer is a local producer with no media behind it.
type Producer struct {
	cid  string
	kind domain.TrackKind
}

func NewProducer(kind domain.TrackKind) *Producer {
	return &Producer{cid: domain.NewClientTrackID(), kind: kind}
}

func (p *Producer) CID() string            { return p.cid }
func (p *Producer) Kind() domain.TrackKind { return p.kind }

// Media is a remote track with no media behind it.
type Media struct {
	Participant domain.ParticipantID
	Track       domain.TrackID
	MediaKind   domain.TrackKind
}

func (m *Media) ParticipantID() domain.ParticipantID { return m.Participant }
func (m *Media) TrackID() domain.TrackID             { return m.Track }
func (m *Media) Kind() domain.TrackKind              { return m.MediaKind }
