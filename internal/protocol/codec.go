package protocol

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

var ErrUnknownMessage = errors.New("unknown message type")

// Envelope frames every message on the wire.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

var serverMessages = map[string]func() Message{
	SDPTypeOffer:         func() Message { return &SessionDescription{Type: SDPTypeOffer} },
	SDPTypeAnswer:        func() Message { return &SessionDescription{Type: SDPTypeAnswer} },
	"trickle":            func() Message { return &Trickle{} },
	"join":               func() Message { return &JoinResponse{} },
	"reconnect":          func() Message { return &ReconnectResponse{} },
	"participant_update": func() Message { return &ParticipantUpdate{} },
	"track_published":    func() Message { return &TrackPublished{} },
	"track_unpublished":  func() Message { return &TrackUnpublished{} },
	"track_updated":      func() Message { return &TrackUpdated{} },
	"mute":               func() Message { return &MuteTrack{} },
	"room_update":        func() Message { return &RoomUpdate{} },
	"connection_quality": func() Message { return &ConnectionQualityUpdate{} },
	"speakers_changed":   func() Message { return &SpeakersChanged{} },
	"data":               func() Message { return &DataPacket{} },
	"leave":              func() Message { return &Leave{} },
	"refresh_token":      func() Message { return &RefreshToken{} },
	"pong":               func() Message { return &Pong{} },
	"request_response":   func() Message { return &RequestResponse{} },
}

var clientRequests = map[string]func() Message{
	SDPTypeOffer:            func() Message { return &SessionDescription{Type: SDPTypeOffer} },
	SDPTypeAnswer:           func() Message { return &SessionDescription{Type: SDPTypeAnswer} },
	"trickle":               func() Message { return &Trickle{} },
	"add_track":             func() Message { return &AddTrack{} },
	"unpublish_track":       func() Message { return &UnpublishTrack{} },
	"mute":                  func() Message { return &MuteTrack{} },
	"update_subscription":   func() Message { return &UpdateSubscription{} },
	"update_track_settings": func() Message { return &UpdateTrackSettings{} },
	"update_metadata":       func() Message { return &UpdateMetadata{} },
	"data":                  func() Message { return &DataPacket{} },
	"sync_state":            func() Message { return &SyncState{} },
	"leave":                 func() Message { return &Leave{} },
	"ping":                  func() Message { return &Ping{} },
	"simulate":              func() Message { return &Simulate{} },
}

// Encode frames msg in an envelope. requestID may be empty.
func Encode(msg Message, requestID string) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	return json.Marshal(Envelope{Type: msg.Kind(), RequestID: requestID, Data: data})
}

// Decode parses a server to client frame.
func Decode(b []byte) (Message, string, error) {
	return decode(b, serverMessages)
}

// DecodeRequest parses a client to server frame. Servers and test doubles use it.
func DecodeRequest(b []byte) (Request, string, error) {
	msg, id, err := decode(b, clientRequests)
	if err != nil {
		return nil, id, err
	}
	return msg.(Request), id, nil
}

func decode(b []byte, registry map[string]func() Message) (Message, string, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, "", fmt.Errorf("decode envelope: %w", err)
	}
	newMsg, ok := registry[env.Type]
	if !ok {
		return nil, env.RequestID, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}
	msg := newMsg()
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, msg); err != nil {
			return nil, env.RequestID, fmt.Errorf("decode %s: %w", env.Type, err)
		}
	}
	if sd, ok := msg.(*SessionDescription); ok {
		sd.Type = env.Type
	}
	return msg, env.RequestID, nil
}
