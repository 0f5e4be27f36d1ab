package rtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/protocol"
	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ core.TransportSession = (*Session)(nil)

// Factory creates pion-backed transport sessions on a shared runtime.
type Factory struct {
	rt *Runtime
}

func NewFactory(rt *Runtime) *Factory {
	return &Factory{rt: rt}
}

func (f *Factory) NewSession(cfg core.SessionConfig) (core.TransportSession, error) {
	return NewSession(f.rt, cfg)
}

// Session wraps one PeerConnection, publish or subscribe side.
type Session struct {
	pc     *webrtc.PeerConnection
	target protocol.SignalTarget
	logger zerolog.Logger

	mu             sync.Mutex
	senders        map[string]*webrtc.RTPSender
	channels       map[string]*webrtc.DataChannel
	remote         map[domain.TrackID]*remoteEntry
	candidates     []webrtc.ICECandidateInit
	onICE          func(protocol.ICECandidate)
	onState        func(core.SessionState)
	onTrack        func(core.RemoteMedia)
	onTrackRemoved func(core.RemoteMedia)
}

type remoteEntry struct {
	media       *RemoteTrack
	transceiver *webrtc.RTPTransceiver
}

func NewSession(rt *Runtime, cfg core.SessionConfig) (*Session, error) {
	pc, err := rt.API().NewPeerConnection(webrtc.Configuration{
		ICEServers:   toICEServers(cfg.ICEServers),
		BundlePolicy: webrtc.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}
	s := &Session{
		pc:       pc,
		target:   cfg.Target,
		logger:   log.With().Str("module", "rtc").Str("target", string(cfg.Target)).Logger(),
		senders:  make(map[string]*webrtc.RTPSender),
		channels: make(map[string]*webrtc.DataChannel),
		remote:   make(map[domain.TrackID]*remoteEntry),
	}
	s.bind()
	if cfg.DataChannel != "" {
		if _, err := pc.CreateDataChannel(cfg.DataChannel, nil); err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("create data channel: %w", err)
		}
	}
	return s, nil
}

func toICEServers(in []protocol.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		out = append(out, webrtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return out
}

func (s *Session) bind() {
	s.pc.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) {
		s.logger.Debug().Str("ice_state", st.String()).Msg("ICE state")
	})

	s.pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		s.logger.Info().Str("peer_connection_state", st.String()).Msg("Peer state")
		s.mu.Lock()
		fn := s.onState
		s.mu.Unlock()
		if fn != nil {
			fn(mapState(st))
		}
	})

	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		s.mu.Lock()
		fn := s.onICE
		s.mu.Unlock()
		if fn != nil {
			cand := c.ToJSON()
			fn(protocol.ICECandidate{
				Candidate:        cand.Candidate,
				SDPMid:           cand.SDPMid,
				SDPMLineIndex:    cand.SDPMLineIndex,
				UsernameFragment: cand.UsernameFragment,
			})
		}
	})

	s.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		media := newRemoteTrack(s.pc, track, receiver)
		s.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")

		s.mu.Lock()
		for _, tr := range s.pc.GetTransceivers() {
			if tr.Receiver() == receiver {
				s.remote[media.TrackID()] = &remoteEntry{media: media, transceiver: tr}
			}
		}
		fn := s.onTrack
		s.mu.Unlock()

		if media.Kind() == domain.TrackKindVideo {
			if err := media.RequestKeyframe(); err != nil {
				s.logger.Warn().Err(err).Msg("keyframe request")
			}
		}
		if fn != nil {
			fn(media)
		}
	})
}

func mapState(st webrtc.PeerConnectionState) core.SessionState {
	switch st {
	case webrtc.PeerConnectionStateConnecting:
		return core.SessionConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.SessionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.SessionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.SessionFailed
	case webrtc.PeerConnectionStateClosed:
		return core.SessionClosed
	}
	return core.SessionNew
}

func (s *Session) Target() protocol.SignalTarget { return s.target }

func (s *Session) State() core.SessionState { return mapState(s.pc.ConnectionState()) }

func (s *Session) CreateOffer(iceRestart bool) (*protocol.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return nil, fmt.Errorf("%w: create offer: %v", domain.ErrNegotiation, err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("%w: set local offer: %v", domain.ErrNegotiation, err)
	}
	return &protocol.SessionDescription{Type: protocol.SDPTypeOffer, SDP: offer.SDP}, nil
}

func (s *Session) CreateAnswer() (*protocol.SessionDescription, error) {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create answer: %v", domain.ErrNegotiation, err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("%w: set local answer: %v", domain.ErrNegotiation, err)
	}
	return &protocol.SessionDescription{Type: protocol.SDPTypeAnswer, SDP: answer.SDP}, nil
}

func (s *Session) LocalDescription() *protocol.SessionDescription {
	ld := s.pc.LocalDescription()
	if ld == nil {
		return nil
	}
	return &protocol.SessionDescription{Type: ld.Type.String(), SDP: ld.SDP}
}

// SetRemoteDescription validates the SDP before handing it to pion and
// flushes candidates that arrived ahead of it.
func (s *Session) SetRemoteDescription(sd *protocol.SessionDescription) error {
	if err := validateSDP(sd.SDP); err != nil {
		return err
	}
	typ := webrtc.NewSDPType(sd.Type)
	if typ != webrtc.SDPTypeOffer && typ != webrtc.SDPTypeAnswer {
		return fmt.Errorf("%w: unexpected sdp type %q", domain.ErrNegotiation, sd.Type)
	}
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sd.SDP}); err != nil {
		return fmt.Errorf("%w: set remote %s: %v", domain.ErrNegotiation, sd.Type, err)
	}

	s.mu.Lock()
	queued := s.candidates
	s.candidates = nil
	s.mu.Unlock()
	for _, c := range queued {
		if err := s.pc.AddICECandidate(c); err != nil {
			s.logger.Warn().Err(err).Msg("add queued ice candidate")
		}
	}
	s.reconcileRemote()
	return nil
}

func validateSDP(raw string) error {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(raw)); err != nil {
		return fmt.Errorf("%w: malformed sdp: %v", domain.ErrNegotiation, err)
	}
	return nil
}

// reconcileRemote reports remote tracks whose transceiver went inactive
// after a renegotiation.
func (s *Session) reconcileRemote() {
	var gone []*RemoteTrack
	s.mu.Lock()
	for id, e := range s.remote {
		dir := e.transceiver.Direction()
		if dir == webrtc.RTPTransceiverDirectionInactive || dir == webrtc.RTPTransceiverDirectionSendonly {
			gone = append(gone, e.media)
			delete(s.remote, id)
		}
	}
	fn := s.onTrackRemoved
	s.mu.Unlock()
	if fn == nil {
		return
	}
	for _, m := range gone {
		fn(m)
	}
}

func (s *Session) AddICECandidate(c protocol.ICECandidate) error {
	ci := webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
	if s.pc.RemoteDescription() == nil {
		s.mu.Lock()
		s.candidates = append(s.candidates, ci)
		s.mu.Unlock()
		return nil
	}
	if err := s.pc.AddICECandidate(ci); err != nil {
		return fmt.Errorf("%w: add ice candidate: %v", domain.ErrNegotiation, err)
	}
	return nil
}

// Attach adds a producer created by NewLocalMediaTrack or NewLocalDataTrack.
func (s *Session) Attach(p core.LocalProducer) error {
	t, ok := p.(*LocalTrack)
	if !ok {
		return fmt.Errorf("attach: unsupported producer %T", p)
	}
	if t.kind == domain.TrackKindData {
		ordered := true
		dc, err := s.pc.CreateDataChannel(t.label, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			return fmt.Errorf("create data channel: %w", err)
		}
		t.bindChannel(dc)
		s.mu.Lock()
		s.channels[t.cid] = dc
		s.mu.Unlock()
		return nil
	}

	sender, err := s.pc.AddTrack(t.track)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	s.mu.Lock()
	s.senders[t.cid] = sender
	s.mu.Unlock()
	go s.readRTCP(sender, t)
	return nil
}

// readRTCP drains sender feedback so interceptors run, and forwards
// keyframe requests to the producer.
func (s *Session) readRTCP(sender *webrtc.RTPSender, t *LocalTrack) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				t.keyframeRequested()
			}
		}
	}
}

func (s *Session) Detach(p core.LocalProducer) error {
	s.mu.Lock()
	sender, hasSender := s.senders[p.CID()]
	dc, hasChannel := s.channels[p.CID()]
	delete(s.senders, p.CID())
	delete(s.channels, p.CID())
	s.mu.Unlock()

	switch {
	case hasSender:
		return s.pc.RemoveTrack(sender)
	case hasChannel:
		if t, ok := p.(*LocalTrack); ok {
			t.bindChannel(nil)
		}
		return dc.Close()
	}
	return ErrNotAttached
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

func (s *Session) Close() error {
	err := s.pc.Close()
	if err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
		s.logger.Error().Err(err).Msg("close error")
		return err
	}
	s.logger.Info().Msg("closed")
	return nil
}
