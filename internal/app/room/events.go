package room

import (
	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
)

// Event is one item of the public room event stream.
type Event interface {
	Name() string
}

type ParticipantConnected struct {
	Participant domain.ParticipantInfo
}

// ParticipantDisconnected follows the unpublish events of all the
// participant's tracks.
type ParticipantDisconnected struct {
	Participant domain.ParticipantInfo
}

type ParticipantNameChanged struct {
	Participant domain.ParticipantID
	Old, New    string
}

type ParticipantMetadataChanged struct {
	Participant domain.ParticipantID
	Old, New    string
}

// ParticipantAttributesChanged carries the keys that changed; a removed key
// maps to "".
type ParticipantAttributesChanged struct {
	Participant domain.ParticipantID
	Changed     map[string]string
}

type TrackPublished struct {
	Publication RemotePublication
}

type TrackUnpublished struct {
	Publication RemotePublication
}

type TrackSubscribed struct {
	Publication RemotePublication
}

type TrackUnsubscribed struct {
	Publication RemotePublication
}

// TrackMuted and TrackUnmuted cover local and remote publications.
type TrackMuted struct {
	Participant domain.ParticipantID
	Publication Publication
}

type TrackUnmuted struct {
	Participant domain.ParticipantID
	Publication Publication
}

// TrackInfoChanged reports a change of simulcast or dimensions.
type TrackInfoChanged struct {
	Publication RemotePublication
}

type LocalTrackPublished struct {
	Publication LocalPublication
}

type LocalTrackUnpublished struct {
	Publication LocalPublication
}

type ConnectionStateChanged struct {
	State  core.EngineState
	Err    error
	Reason string
}

type ConnectionQualityChanged struct {
	Participant domain.ParticipantID
	Quality     domain.ConnectionQuality
}

type RoomMetadataChanged struct {
	Old, New string
}

type ActiveSpeakersChanged struct {
	Speakers []domain.ParticipantID
}

type DataReceived struct {
	Participant domain.ParticipantID
	Topic       string
	Payload     []byte
}

func (ParticipantConnected) Name() string         { return "participant_connected" }
func (ParticipantDisconnected) Name() string      { return "participant_disconnected" }
func (ParticipantNameChanged) Name() string       { return "participant_name_changed" }
func (ParticipantMetadataChanged) Name() string   { return "participant_metadata_changed" }
func (ParticipantAttributesChanged) Name() string { return "participant_attributes_changed" }
func (TrackPublished) Name() string               { return "track_published" }
func (TrackUnpublished) Name() string             { return "track_unpublished" }
func (TrackSubscribed) Name() string              { return "track_subscribed" }
func (TrackUnsubscribed) Name() string            { return "track_unsubscribed" }
func (TrackMuted) Name() string                   { return "track_muted" }
func (TrackUnmuted) Name() string                 { return "track_unmuted" }
func (TrackInfoChanged) Name() string             { return "track_info_changed" }
func (LocalTrackPublished) Name() string          { return "local_track_published" }
func (LocalTrackUnpublished) Name() string        { return "local_track_unpublished" }
func (ConnectionStateChanged) Name() string       { return "connection_state_changed" }
func (ConnectionQualityChanged) Name() string     { return "connection_quality_changed" }
func (RoomMetadataChanged) Name() string          { return "room_metadata_changed" }
func (ActiveSpeakersChanged) Name() string        { return "active_speakers_changed" }
func (DataReceived) Name() string                 { return "data_received" }
