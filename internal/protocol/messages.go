// Package protocol holds the typed signalling messages exchanged with the
// media server and the envelope codec that frames them on the control channel.
package protocol

import "github.com/dkeye/VoiceClient/internal/domain"

// Message is anything that travels on the control channel.
type Message interface {
	Kind() string
}

// Request is a client to server message.
type Request interface {
	Message
	// Replayable reports whether the request may be sent again on a brand
	// new session after a full reconnect.
	Replayable() bool
}

// Correlated is implemented by server messages that answer a specific request.
type Correlated interface {
	Message
	CorrelationKey() string
}

type SignalTarget string

const (
	TargetPublisher  SignalTarget = "publisher"
	TargetSubscriber SignalTarget = "subscriber"
)

type LeaveAction string

const (
	LeaveDisconnect LeaveAction = "disconnect"
	LeaveResume     LeaveAction = "resume"
	LeaveReconnect  LeaveAction = "reconnect"
)

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ICECandidate mirrors the browser RTCIceCandidateInit shape.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// SessionDescription is an offer or an answer, in either direction. Offers
// from the client target the publisher session, offers from the server
// target the subscriber session.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
	ID   uint32 `json:"id,omitempty"`
}

const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

func (m *SessionDescription) Kind() string     { return m.Type }
func (m *SessionDescription) Replayable() bool { return false }

type Trickle struct {
	Candidate ICECandidate `json:"candidate"`
	Target    SignalTarget `json:"target"`
	Final     bool         `json:"final,omitempty"`
}

func (m *Trickle) Kind() string     { return "trickle" }
func (m *Trickle) Replayable() bool { return false }

// Client requests.

type AddTrack struct {
	CID        string             `json:"cid"`
	Name       string             `json:"name"`
	Type       domain.TrackKind   `json:"type"`
	Source     domain.TrackSource `json:"source"`
	Muted      bool               `json:"muted"`
	Simulcast  bool               `json:"simulcast"`
	Dimensions domain.Dimensions  `json:"dimensions"`
}

func (m *AddTrack) Kind() string { return "add_track" }

// Replayable is false: publications are re-announced from the registry
// after a full reconnect.
func (m *AddTrack) Replayable() bool { return false }

type UnpublishTrack struct {
	TrackSID domain.TrackID `json:"track_sid"`
}

func (m *UnpublishTrack) Kind() string     { return "unpublish_track" }
func (m *UnpublishTrack) Replayable() bool { return true }

// MuteTrack is sent by the client for its own tracks and by the server when
// it mutes a track on someone's behalf.
type MuteTrack struct {
	TrackSID domain.TrackID `json:"track_sid"`
	Muted    bool           `json:"muted"`
}

func (m *MuteTrack) Kind() string     { return "mute" }
func (m *MuteTrack) Replayable() bool { return true }

type UpdateSubscription struct {
	TrackSIDs []domain.TrackID `json:"track_sids"`
	Subscribe bool             `json:"subscribe"`
}

func (m *UpdateSubscription) Kind() string     { return "update_subscription" }
func (m *UpdateSubscription) Replayable() bool { return true }

type UpdateTrackSettings struct {
	TrackSIDs  []domain.TrackID    `json:"track_sids"`
	Disabled   bool                `json:"disabled"`
	Quality    domain.VideoQuality `json:"quality,omitempty"`
	Dimensions domain.Dimensions   `json:"dimensions"`
}

func (m *UpdateTrackSettings) Kind() string     { return "update_track_settings" }
func (m *UpdateTrackSettings) Replayable() bool { return true }

type UpdateMetadata struct {
	Name       string            `json:"name,omitempty"`
	Metadata   string            `json:"metadata,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (m *UpdateMetadata) Kind() string     { return "update_metadata" }
func (m *UpdateMetadata) Replayable() bool { return true }

// DataPacket is an opaque application payload. It is never replayed since
// receivers cannot deduplicate it.
type DataPacket struct {
	ParticipantSID  domain.ParticipantID   `json:"participant_sid,omitempty"`
	DestinationSIDs []domain.ParticipantID `json:"destination_sids,omitempty"`
	Topic           string                 `json:"topic,omitempty"`
	Reliable        bool                   `json:"reliable"`
	Payload         []byte                 `json:"payload"`
}

func (m *DataPacket) Kind() string     { return "data" }
func (m *DataPacket) Replayable() bool { return false }

type SyncState struct {
	Answer        *SessionDescription `json:"answer,omitempty"`
	Subscription  UpdateSubscription  `json:"subscription"`
	PublishTracks []TrackPublished    `json:"publish_tracks"`
}

func (m *SyncState) Kind() string     { return "sync_state" }
func (m *SyncState) Replayable() bool { return false }

type Leave struct {
	Reason string      `json:"reason,omitempty"`
	Action LeaveAction `json:"action,omitempty"`
}

func (m *Leave) Kind() string     { return "leave" }
func (m *Leave) Replayable() bool { return false }

type Ping struct {
	Timestamp int64 `json:"timestamp"`
	RTT       int64 `json:"rtt,omitempty"`
}

func (m *Ping) Kind() string     { return "ping" }
func (m *Ping) Replayable() bool { return false }

type Simulate struct {
	Scenario string `json:"scenario"`
}

func (m *Simulate) Kind() string     { return "simulate" }
func (m *Simulate) Replayable() bool { return false }

// Server messages.

type JoinResponse struct {
	Room              domain.Room              `json:"room"`
	Participant       domain.ParticipantInfo   `json:"participant"`
	OtherParticipants []domain.ParticipantInfo `json:"other_participants"`
	ICEServers        []ICEServer              `json:"ice_servers"`
	SubscriberPrimary bool                     `json:"subscriber_primary"`
	ServerVersion     string                   `json:"server_version,omitempty"`
	// PingInterval and PingTimeout are in seconds; zero keeps local config.
	PingInterval int `json:"ping_interval,omitempty"`
	PingTimeout  int `json:"ping_timeout,omitempty"`
}

func (m *JoinResponse) Kind() string { return "join" }

type ReconnectResponse struct {
	ICEServers []ICEServer `json:"ice_servers"`
}

func (m *ReconnectResponse) Kind() string { return "reconnect" }

type ParticipantUpdate struct {
	Participants []domain.ParticipantInfo `json:"participants"`
}

func (m *ParticipantUpdate) Kind() string { return "participant_update" }

type TrackPublished struct {
	CID   string           `json:"cid"`
	Track domain.TrackInfo `json:"track"`
}

func (m *TrackPublished) Kind() string           { return "track_published" }
func (m *TrackPublished) CorrelationKey() string { return m.CID }

type TrackUnpublished struct {
	ParticipantSID domain.ParticipantID `json:"participant_sid"`
	TrackSID       domain.TrackID       `json:"track_sid"`
}

func (m *TrackUnpublished) Kind() string { return "track_unpublished" }

// TrackUpdated changes an existing publication in place (mute, simulcast,
// dimensions). It never creates one.
type TrackUpdated struct {
	ParticipantSID domain.ParticipantID `json:"participant_sid"`
	Track          domain.TrackInfo     `json:"track"`
}

func (m *TrackUpdated) Kind() string { return "track_updated" }

type RoomUpdate struct {
	Room domain.Room `json:"room"`
}

func (m *RoomUpdate) Kind() string { return "room_update" }

type ConnectionQualityInfo struct {
	ParticipantSID domain.ParticipantID     `json:"participant_sid"`
	Quality        domain.ConnectionQuality `json:"quality"`
	Score          float32                  `json:"score,omitempty"`
}

type ConnectionQualityUpdate struct {
	Updates []ConnectionQualityInfo `json:"updates"`
}

func (m *ConnectionQualityUpdate) Kind() string { return "connection_quality" }

type SpeakerInfo struct {
	SID    domain.ParticipantID `json:"sid"`
	Level  float32              `json:"level"`
	Active bool                 `json:"active"`
}

type SpeakersChanged struct {
	Speakers []SpeakerInfo `json:"speakers"`
}

func (m *SpeakersChanged) Kind() string { return "speakers_changed" }

type RefreshToken struct {
	Token string `json:"token"`
}

func (m *RefreshToken) Kind() string { return "refresh_token" }

type Pong struct {
	LastPingTimestamp int64 `json:"last_ping_timestamp"`
	Timestamp         int64 `json:"timestamp"`
}

func (m *Pong) Kind() string { return "pong" }

// RequestResponse reports a server-side rejection of a correlated request.
type RequestResponse struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
	Message   string `json:"message,omitempty"`
}

func (m *RequestResponse) Kind() string           { return "request_response" }
func (m *RequestResponse) CorrelationKey() string { return m.RequestID }
