package domain

import (
	"strings"

	"github.com/google/uuid"
)

// Identifiers are distinct string types so a participant id can never be
// passed where a track id is expected.
type (
	// ParticipantID is the server-assigned participant sid ("PA_...").
	ParticipantID string
	// ParticipantHandle is the human-readable identity. The same handle may
	// come back with a new ParticipantID after the participant rejoins.
	ParticipantHandle string
	// TrackID is the server-assigned track sid ("TR_...").
	TrackID string
)

func (id ParticipantID) String() string    { return string(id) }
func (h ParticipantHandle) String() string { return string(h) }
func (id TrackID) String() string          { return string(id) }
func (id ParticipantID) IsZero() bool      { return id == "" }
func (id TrackID) IsZero() bool            { return id == "" }
func (h ParticipantHandle) IsZero() bool   { return h == "" }

// NewClientTrackID returns a client-side track id (cid) used to correlate an
// add-track request with the server's track_published answer.
func NewClientTrackID() string {
	return "TR_C" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// NewRequestID returns an id for request/response correlation.
func NewRequestID() string {
	return uuid.NewString()
}

// SplitStreamID parses a remote stream id of the form "PA_xxx|TR_yyy".
// A stream id without a separator carries only the participant id.
func SplitStreamID(streamID string) (ParticipantID, TrackID) {
	pid, tid, found := strings.Cut(streamID, "|")
	if !found {
		return ParticipantID(streamID), ""
	}
	return ParticipantID(pid), TrackID(tid)
}
