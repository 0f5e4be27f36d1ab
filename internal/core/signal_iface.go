package core

import (
	"context"

	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/protocol"
)

// SignalEvent is one item of the control channel's event sequence.
// Exactly one of Message and Lost is set.
type SignalEvent struct {
	Message protocol.Message
	// Lost is raised once per connection when liveness fails or the socket
	// breaks. It is the only trigger for reconnection coming from the channel.
	Lost error
}

// JoinParams address the server. Token is opaque to the client.
type JoinParams struct {
	URL           string
	Token         string
	AutoSubscribe bool
}

// SignalChannel owns the control channel. Events is one continuous sequence
// across every connection the channel makes; the handshake answer of each
// connection (join or reconnect) is queued ahead of anything the server
// sends after it.
type SignalChannel interface {
	Join(ctx context.Context, p JoinParams) (*protocol.JoinResponse, error)
	// Resume reconnects the control channel and asks the server to rebind sid.
	Resume(ctx context.Context, p JoinParams, sid domain.ParticipantID) (*protocol.ReconnectResponse, error)

	// Send never fails: while the channel is down the request waits in a
	// bounded pending queue that drops its oldest entry when full.
	Send(req protocol.Request)
	// Call sends req and waits for the server message correlated by key.
	Call(ctx context.Context, req protocol.Request, key string) (protocol.Message, error)
	// RetainPending keeps only the pending requests keep accepts and
	// returns how many were discarded.
	RetainPending(keep func(protocol.Request) bool) int
	// Drain fails every outstanding Call with err.
	Drain(err error)

	Events() <-chan SignalEvent
	Connected() bool

	// DropConnection breaks the socket as a network failure would, raising Lost.
	DropConnection()
	// Disconnect sends leave and closes the socket without raising Lost.
	Disconnect()
	// Close disconnects and ends the event sequence.
	Close()
}
