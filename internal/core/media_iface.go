package core

import (
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/protocol"
)

type SessionState int

const (
	SessionNew SessionState = iota
	SessionConnecting
	SessionConnected
	SessionDisconnected
	SessionFailed
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "new"
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	case SessionDisconnected:
		return "disconnected"
	case SessionFailed:
		return "failed"
	case SessionClosed:
		return "closed"
	}
	return "unknown"
}

type SessionConfig struct {
	Target     protocol.SignalTarget
	ICEServers []protocol.ICEServer
	// DataChannel, when set, is opened with the session so that it has
	// something to negotiate before any media is attached.
	DataChannel string
}

// LocalProducer is the application's source of media or data for one
// local track. CID is the client-assigned id used before the server
// assigns a track sid.
type LocalProducer interface {
	CID() string
	Kind() domain.TrackKind
}

// RemoteMedia is a subscribed remote track as delivered by a transport session.
type RemoteMedia interface {
	ParticipantID() domain.ParticipantID
	TrackID() domain.TrackID
	Kind() domain.TrackKind
}

// TransportSession is one negotiated media/data session with the server,
// either the publish or the subscribe direction.
type TransportSession interface {
	Target() protocol.SignalTarget
	CreateOffer(iceRestart bool) (*protocol.SessionDescription, error)
	CreateAnswer() (*protocol.SessionDescription, error)
	SetRemoteDescription(sd *protocol.SessionDescription) error
	AddICECandidate(c protocol.ICECandidate) error
	LocalDescription() *protocol.SessionDescription

	Attach(p LocalProducer) error
	Detach(p LocalProducer) error

	State() SessionState
	OnICECandidate(func(protocol.ICECandidate))
	OnStateChange(func(SessionState))
	OnRemoteTrack(func(RemoteMedia))
	OnRemoteTrackRemoved(func(RemoteMedia))

	Close() error
}

type TransportFactory interface {
	NewSession(cfg SessionConfig) (TransportSession, error)
}
