package rtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var (
	_ core.LocalProducer = (*LocalTrack)(nil)
	_ core.RemoteMedia   = (*RemoteTrack)(nil)
)

var ErrNotAttached = errors.New("track not attached")

// LocalTrack produces media (RTP) or data for one local publication.
type LocalTrack struct {
	cid   string
	kind  domain.TrackKind
	label string
	track *webrtc.TrackLocalStaticRTP

	mu         sync.Mutex
	channel    *webrtc.DataChannel
	onKeyframe func()
}

// NewLocalMediaTrack creates an audio or video track for the given codec
// mime type, e.g. webrtc.MimeTypeOpus or webrtc.MimeTypeVP8.
func NewLocalMediaTrack(kind domain.TrackKind, mimeType, name string) (*LocalTrack, error) {
	capability := webrtc.RTPCodecCapability{MimeType: mimeType}
	switch kind {
	case domain.TrackKindAudio:
		capability.ClockRate = 48000
		capability.Channels = 2
	case domain.TrackKindVideo:
		capability.ClockRate = 90000
	default:
		return nil, fmt.Errorf("media track of kind %q", kind)
	}
	cid := domain.NewClientTrackID()
	t, err := webrtc.NewTrackLocalStaticRTP(capability, cid, name)
	if err != nil {
		return nil, err
	}
	return &LocalTrack{cid: cid, kind: kind, label: name, track: t}, nil
}

// NewLocalDataTrack creates a data producer carried on its own data channel.
func NewLocalDataTrack(label string) *LocalTrack {
	return &LocalTrack{cid: domain.NewClientTrackID(), kind: domain.TrackKindData, label: label}
}

func (t *LocalTrack) CID() string            { return t.cid }
func (t *LocalTrack) Kind() domain.TrackKind { return t.kind }
func (t *LocalTrack) Label() string          { return t.label }

// WriteRTP sends one packet. Packets written while detached are dropped by pion.
func (t *LocalTrack) WriteRTP(p *rtp.Packet) error {
	if t.track == nil {
		return fmt.Errorf("write rtp on %s track", t.kind)
	}
	return t.track.WriteRTP(p)
}

func (t *LocalTrack) WriteData(b []byte) error {
	t.mu.Lock()
	dc := t.channel
	t.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotAttached
	}
	return dc.Send(b)
}

// OnKeyframeRequest is called when the server asks for a keyframe (PLI).
func (t *LocalTrack) OnKeyframeRequest(fn func()) {
	t.mu.Lock()
	t.onKeyframe = fn
	t.mu.Unlock()
}

func (t *LocalTrack) keyframeRequested() {
	t.mu.Lock()
	fn := t.onKeyframe
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *LocalTrack) bindChannel(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.channel = dc
	t.mu.Unlock()
}

// RemoteTrack is a subscribed remote track.
type RemoteTrack struct {
	participant domain.ParticipantID
	sid         domain.TrackID
	kind        domain.TrackKind
	track       *webrtc.TrackRemote
	receiver    *webrtc.RTPReceiver
	pc          *webrtc.PeerConnection
}

func newRemoteTrack(pc *webrtc.PeerConnection, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) *RemoteTrack {
	pid, tid := domain.SplitStreamID(track.StreamID())
	if tid == "" {
		tid = domain.TrackID(track.ID())
	}
	kind := domain.TrackKindAudio
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		kind = domain.TrackKindVideo
	}
	return &RemoteTrack{participant: pid, sid: tid, kind: kind, track: track, receiver: receiver, pc: pc}
}

func (r *RemoteTrack) ParticipantID() domain.ParticipantID { return r.participant }
func (r *RemoteTrack) TrackID() domain.TrackID             { return r.sid }
func (r *RemoteTrack) Kind() domain.TrackKind              { return r.kind }

func (r *RemoteTrack) ReadRTP() (*rtp.Packet, error) {
	p, _, err := r.track.ReadRTP()
	return p, err
}

// RequestKeyframe sends a picture loss indication for the track.
func (r *RemoteTrack) RequestKeyframe() error {
	return r.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(r.track.SSRC())}})
}
