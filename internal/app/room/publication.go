package room

import (
	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
)

// Publication is either a LocalPublication or a RemotePublication. The set
// is closed; callers switch on the concrete type.
type Publication interface {
	Info() domain.TrackInfo
	publication()
}

// LocalPublication is a track this client publishes. Producer is the
// capability to feed it; it grants no access to room state.
type LocalPublication struct {
	Track    domain.TrackInfo
	Producer core.LocalProducer
}

// RemotePublication is a track another participant publishes. Media is set
// once the track is subscribed.
type RemotePublication struct {
	Track       domain.TrackInfo
	Participant domain.ParticipantID
	Subscribed  bool
	Media       core.RemoteMedia
}

func (p LocalPublication) Info() domain.TrackInfo  { return p.Track }
func (p RemotePublication) Info() domain.TrackInfo { return p.Track }

func (LocalPublication) publication()  {}
func (RemotePublication) publication() {}

// ParticipantView is a read-only copy of one participant's record.
type ParticipantView struct {
	Info    domain.ParticipantInfo
	Quality domain.ConnectionQuality
	Tracks  []Publication
}

// Track finds a publication by sid.
func (v ParticipantView) Track(sid domain.TrackID) (Publication, bool) {
	for _, t := range v.Tracks {
		if t.Info().SID == sid {
			return t, true
		}
	}
	return nil, false
}

// Snapshot is an immutable view of the whole room. A new one is published
// after every batch of mutations.
type Snapshot struct {
	Room     domain.Room
	State    core.EngineState
	Local    ParticipantView
	Remote   []ParticipantView
	Speakers []domain.ParticipantID
}

func (s *Snapshot) Participant(sid domain.ParticipantID) (ParticipantView, bool) {
	if s.Local.Info.SID == sid && sid != "" {
		return s.Local, true
	}
	for _, p := range s.Remote {
		if p.Info.SID == sid {
			return p, true
		}
	}
	return ParticipantView{}, false
}
