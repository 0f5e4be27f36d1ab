package core

import (
	"context"

	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_engine.go -package=mocks github.com/dkeye/VoiceClient/internal/core Engine

type EngineState int

const (
	StateIdle EngineState = iota
	StateJoining
	StateConnected
	StateReconnecting
	StateFailed
	StateDisconnected
)

func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Terminal states need a fresh Connect.
func (s EngineState) Terminal() bool {
	return s == StateFailed || s == StateDisconnected
}

// EngineEvent is what the engine hands to the room, in the order things
// happened. The concrete types below are the whole set.
type EngineEvent interface {
	engineEvent()
}

type StateChanged struct {
	State EngineState
	// Err carries the last error when the state is terminal.
	Err error
	// Reason is set when the server ended the session.
	Reason string
}

// Joined is raised as soon as the server answers a join, before any room
// message of that connection is forwarded.
type Joined struct {
	Join *protocol.JoinResponse
}

// Resumed follows a successful resume; transport sessions were kept.
type Resumed struct{}

// Restarting is raised once when reconnection escalates to a full reconnect.
type Restarting struct{}

// Restarted follows a successful full reconnect with the new join answer.
type Restarted struct {
	Join *protocol.JoinResponse
}

// SignalReceived carries a room-state message from the control channel.
type SignalReceived struct {
	Message protocol.Message
}

type RemoteTrackAdded struct {
	Media RemoteMedia
}

type RemoteTrackRemoved struct {
	Media RemoteMedia
}

func (StateChanged) engineEvent()       {}
func (Joined) engineEvent()             {}
func (Resumed) engineEvent()            {}
func (Restarting) engineEvent()         {}
func (Restarted) engineEvent()          {}
func (SignalReceived) engineEvent()     {}
func (RemoteTrackAdded) engineEvent()   {}
func (RemoteTrackRemoved) engineEvent() {}

// Engine is the transport coordinator as seen by the room.
type Engine interface {
	Connect(ctx context.Context, p JoinParams) (*protocol.JoinResponse, error)
	Leave(reason string)
	State() EngineState
	RoomID() domain.RoomID
	Events() <-chan EngineEvent

	// PublishTrack announces a local track, waits for the server's track
	// info and attaches the producer to the publish session.
	PublishTrack(ctx context.Context, p LocalProducer, req *protocol.AddTrack) (domain.TrackInfo, error)
	UnpublishTrack(p LocalProducer, sid domain.TrackID) error
	Send(req protocol.Request)
	SendSyncState(state *protocol.SyncState)
	Simulate(scenario string) error
}
