package room

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/protocol"
)

type remoteRecord struct {
	info    domain.ParticipantInfo
	quality domain.ConnectionQuality
	tracks  map[domain.TrackID]RemotePublication
}

// Registry is the room's state: the local participant, remote participants
// and every publication. It is a plain fold with no locking; the Room owns
// it and only touches it from its loop. Every mutation returns the public
// events it caused, in the order they happened.
type Registry struct {
	room         domain.Room
	state        core.EngineState
	local        domain.ParticipantInfo
	localQuality domain.ConnectionQuality
	locals       map[domain.TrackID]LocalPublication
	remotes      map[domain.ParticipantID]*remoteRecord
	handles      map[domain.ParticipantHandle]domain.ParticipantID
	speakers     map[domain.ParticipantID]float32
	deferred     map[domain.TrackID]core.RemoteMedia
}

func NewRegistry() *Registry {
	return &Registry{
		localQuality: domain.QualityUnknown,
		locals:       make(map[domain.TrackID]LocalPublication),
		remotes:      make(map[domain.ParticipantID]*remoteRecord),
		handles:      make(map[domain.ParticipantHandle]domain.ParticipantID),
		speakers:     make(map[domain.ParticipantID]float32),
		deferred:     make(map[domain.TrackID]core.RemoteMedia),
	}
}

func stale(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrStaleUpdate}, args...)...)
}

// Apply folds one server message. Updates that reference unknown entities
// come back as ErrStaleUpdate and leave the registry untouched; the events
// of the other parts of the message are still returned.
func (r *Registry) Apply(msg protocol.Message) ([]Event, error) {
	switch m := msg.(type) {
	case *protocol.ParticipantUpdate:
		var (
			evs  []Event
			errs []error
		)
		for _, info := range m.Participants {
			out, err := r.upsert(info, false)
			evs = append(evs, out...)
			if err != nil {
				errs = append(errs, err)
			}
		}
		return evs, errors.Join(errs...)
	case *protocol.TrackUnpublished:
		return r.unpublishTrack(m.ParticipantSID, m.TrackSID)
	case *protocol.TrackUpdated:
		return r.updateTrack(m.ParticipantSID, m.Track)
	case *protocol.MuteTrack:
		return r.SetLocalMuted(m.TrackSID, m.Muted)
	case *protocol.RoomUpdate:
		return r.updateRoom(m.Room), nil
	case *protocol.ConnectionQualityUpdate:
		return r.updateQuality(m.Updates), nil
	case *protocol.SpeakersChanged:
		return r.updateSpeakers(m.Speakers), nil
	case *protocol.DataPacket:
		return []Event{DataReceived{Participant: m.ParticipantSID, Topic: m.Topic, Payload: m.Payload}}, nil
	}
	return nil, nil
}

// upsert inserts or updates a participant. force skips the version check,
// which a reconcile after a server restart needs.
func (r *Registry) upsert(info domain.ParticipantInfo, force bool) ([]Event, error) {
	if info.SID == "" {
		return nil, stale("participant without sid")
	}
	if info.SID == r.local.SID {
		return r.updateLocal(info, force)
	}
	rec, known := r.remotes[info.SID]
	if info.State == domain.ParticipantDisconnected {
		if !known {
			return nil, stale("participant %s left before it joined", info.SID)
		}
		return r.removeParticipant(info.SID), nil
	}

	tracks := info.Tracks
	info = info.Clone()
	info.Tracks = nil

	if !known {
		var evs []Event
		if prev, taken := r.handles[info.Identity]; taken && info.Identity != "" && prev != info.SID {
			evs = append(evs, r.removeParticipant(prev)...)
		}
		rec = &remoteRecord{info: info, quality: domain.QualityUnknown, tracks: make(map[domain.TrackID]RemotePublication)}
		r.remotes[info.SID] = rec
		if info.Identity != "" {
			r.handles[info.Identity] = info.SID
		}
		evs = append(evs, ParticipantConnected{Participant: info.Clone()})
		return append(evs, r.syncTracks(rec, tracks)...), nil
	}

	if !force && info.Version != 0 && info.Version < rec.info.Version {
		return nil, stale("participant %s version %d behind %d", info.SID, info.Version, rec.info.Version)
	}
	evs := participantDiff(rec.info, info)
	if rec.info.Identity != info.Identity {
		if r.handles[rec.info.Identity] == info.SID {
			delete(r.handles, rec.info.Identity)
		}
		if info.Identity != "" {
			r.handles[info.Identity] = info.SID
		}
	}
	rec.info = info
	return append(evs, r.syncTracks(rec, tracks)...), nil
}

func participantDiff(old, cur domain.ParticipantInfo) []Event {
	var evs []Event
	if old.Name != cur.Name {
		evs = append(evs, ParticipantNameChanged{Participant: cur.SID, Old: old.Name, New: cur.Name})
	}
	if old.Metadata != cur.Metadata {
		evs = append(evs, ParticipantMetadataChanged{Participant: cur.SID, Old: old.Metadata, New: cur.Metadata})
	}
	if !domain.SameAttributes(old.Attributes, cur.Attributes) {
		changed := make(map[string]string)
		for k, v := range cur.Attributes {
			if w, ok := old.Attributes[k]; !ok || w != v {
				changed[k] = v
			}
		}
		for k := range old.Attributes {
			if _, ok := cur.Attributes[k]; !ok {
				changed[k] = ""
			}
		}
		evs = append(evs, ParticipantAttributesChanged{Participant: cur.SID, Changed: changed})
	}
	return evs
}

func (r *Registry) updateLocal(info domain.ParticipantInfo, force bool) ([]Event, error) {
	if !force && info.Version != 0 && info.Version < r.local.Version {
		return nil, stale("local participant version %d behind %d", info.Version, r.local.Version)
	}
	info = info.Clone()
	info.Tracks = nil
	evs := participantDiff(r.local, info)
	r.local = info
	return evs, nil
}

// syncTracks makes rec's publications match tracks, the full list the
// server announced.
func (r *Registry) syncTracks(rec *remoteRecord, tracks []domain.TrackInfo) []Event {
	var evs []Event
	seen := make(map[domain.TrackID]bool, len(tracks))
	for _, t := range tracks {
		seen[t.SID] = true
		if pub, ok := rec.tracks[t.SID]; ok {
			old := pub.Track
			pub.Track = t
			rec.tracks[t.SID] = pub
			evs = append(evs, trackDiff(rec.info.SID, old, pub)...)
			continue
		}
		pub := RemotePublication{Track: t, Participant: rec.info.SID}
		evs = append(evs, TrackPublished{Publication: pub})
		if m, ok := r.deferred[t.SID]; ok {
			delete(r.deferred, t.SID)
			pub.Subscribed, pub.Media = true, m
			evs = append(evs, TrackSubscribed{Publication: pub})
		}
		rec.tracks[t.SID] = pub
	}
	for _, sid := range sortedKeys(rec.tracks) {
		if !seen[sid] {
			evs = append(evs, r.dropRemoteTrack(rec, sid)...)
		}
	}
	return evs
}

func trackDiff(owner domain.ParticipantID, old domain.TrackInfo, pub RemotePublication) []Event {
	var evs []Event
	if old.Muted != pub.Track.Muted {
		if pub.Track.Muted {
			evs = append(evs, TrackMuted{Participant: owner, Publication: pub})
		} else {
			evs = append(evs, TrackUnmuted{Participant: owner, Publication: pub})
		}
	}
	if old.Simulcast != pub.Track.Simulcast || old.Dimensions != pub.Track.Dimensions || old.Name != pub.Track.Name || old.MimeType != pub.Track.MimeType {
		evs = append(evs, TrackInfoChanged{Publication: pub})
	}
	return evs
}

// dropRemoteTrack removes one publication: unsubscribe (if subscribed)
// then unpublish.
func (r *Registry) dropRemoteTrack(rec *remoteRecord, sid domain.TrackID) []Event {
	pub := rec.tracks[sid]
	delete(rec.tracks, sid)
	var evs []Event
	if pub.Subscribed {
		evs = append(evs, TrackUnsubscribed{Publication: pub})
		pub.Subscribed, pub.Media = false, nil
	}
	return append(evs, TrackUnpublished{Publication: pub})
}

// removeParticipant tears a participant down, every track first.
func (r *Registry) removeParticipant(sid domain.ParticipantID) []Event {
	rec, ok := r.remotes[sid]
	if !ok {
		return nil
	}
	var evs []Event
	for _, tid := range sortedKeys(rec.tracks) {
		evs = append(evs, r.dropRemoteTrack(rec, tid)...)
	}
	delete(r.remotes, sid)
	if r.handles[rec.info.Identity] == sid {
		delete(r.handles, rec.info.Identity)
	}
	delete(r.speakers, sid)
	return append(evs, ParticipantDisconnected{Participant: rec.info.Clone()})
}

func (r *Registry) unpublishTrack(owner domain.ParticipantID, sid domain.TrackID) ([]Event, error) {
	if owner == "" || owner == r.local.SID {
		if _, evs, ok := r.RemoveLocal(sid); ok {
			return evs, nil
		}
		if owner != "" {
			return nil, stale("local track %s unknown", sid)
		}
	}
	rec, ok := r.remotes[owner]
	if !ok {
		return nil, stale("track %s of unknown participant %s", sid, owner)
	}
	if _, ok := rec.tracks[sid]; !ok {
		return nil, stale("track %s unknown for %s", sid, owner)
	}
	return r.dropRemoteTrack(rec, sid), nil
}

func (r *Registry) updateTrack(owner domain.ParticipantID, t domain.TrackInfo) ([]Event, error) {
	if owner == r.local.SID {
		return r.SetLocalMuted(t.SID, t.Muted)
	}
	rec, ok := r.remotes[owner]
	if !ok {
		return nil, stale("track %s of unknown participant %s", t.SID, owner)
	}
	pub, ok := rec.tracks[t.SID]
	if !ok {
		return nil, stale("track %s unknown for %s", t.SID, owner)
	}
	old := pub.Track
	pub.Track = t
	rec.tracks[t.SID] = pub
	return trackDiff(owner, old, pub), nil
}

func (r *Registry) updateRoom(room domain.Room) []Event {
	old := r.room
	if room.ID == "" {
		room.ID = old.ID
	}
	r.room = room
	if old.Metadata != room.Metadata {
		return []Event{RoomMetadataChanged{Old: old.Metadata, New: room.Metadata}}
	}
	return nil
}

func (r *Registry) updateQuality(updates []protocol.ConnectionQualityInfo) []Event {
	var evs []Event
	for _, u := range updates {
		switch {
		case u.ParticipantSID == r.local.SID:
			if r.localQuality == u.Quality {
				continue
			}
			r.localQuality = u.Quality
		case r.remotes[u.ParticipantSID] != nil:
			rec := r.remotes[u.ParticipantSID]
			if rec.quality == u.Quality {
				continue
			}
			rec.quality = u.Quality
		default:
			continue
		}
		evs = append(evs, ConnectionQualityChanged{Participant: u.ParticipantSID, Quality: u.Quality})
	}
	return evs
}

// updateSpeakers merges a partial speaker update. Speakers are ordered by
// level, loudest first.
func (r *Registry) updateSpeakers(speakers []protocol.SpeakerInfo) []Event {
	before := r.activeSpeakers()
	for _, s := range speakers {
		if s.Active {
			r.speakers[s.SID] = s.Level
		} else {
			delete(r.speakers, s.SID)
		}
	}
	after := r.activeSpeakers()
	if slices.Equal(before, after) {
		return nil
	}
	return []Event{ActiveSpeakersChanged{Speakers: after}}
}

func (r *Registry) activeSpeakers() []domain.ParticipantID {
	out := slices.Collect(maps.Keys(r.speakers))
	slices.SortFunc(out, func(a, b domain.ParticipantID) int {
		if c := cmp.Compare(r.speakers[b], r.speakers[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return out
}

// SetState records the engine state.
func (r *Registry) SetState(st core.EngineState, err error, reason string) []Event {
	if st == r.state && err == nil {
		return nil
	}
	r.state = st
	return []Event{ConnectionStateChanged{State: st, Err: err, Reason: reason}}
}

func (r *Registry) State() core.EngineState { return r.state }

// Reconcile adopts a join answer. Participants the server no longer reports
// are torn down; the rest are updated in place.
func (r *Registry) Reconcile(join *protocol.JoinResponse) []Event {
	var evs []Event
	if r.room.ID == "" {
		r.room = join.Room
	} else {
		evs = r.updateRoom(join.Room)
	}
	local := join.Participant.Clone()
	local.Tracks = nil
	if r.local.SID != "" && r.local.SID == local.SID {
		evs = append(evs, participantDiff(r.local, local)...)
	}
	r.local = local

	present := make(map[domain.ParticipantID]bool, len(join.OtherParticipants))
	for _, p := range join.OtherParticipants {
		present[p.SID] = true
	}
	for _, sid := range sortedKeys(r.remotes) {
		if !present[sid] {
			evs = append(evs, r.removeParticipant(sid)...)
		}
	}
	for _, p := range join.OtherParticipants {
		out, _ := r.upsert(p, true)
		evs = append(evs, out...)
	}
	return evs
}

// DropSubscriptions forgets every subscription, for when the subscribe
// session is discarded.
func (r *Registry) DropSubscriptions() []Event {
	var evs []Event
	for _, psid := range sortedKeys(r.remotes) {
		rec := r.remotes[psid]
		for _, tsid := range sortedKeys(rec.tracks) {
			pub := rec.tracks[tsid]
			if !pub.Subscribed {
				continue
			}
			pub.Subscribed, pub.Media = false, nil
			rec.tracks[tsid] = pub
			evs = append(evs, TrackUnsubscribed{Publication: pub})
		}
	}
	clear(r.deferred)
	return evs
}

// AttachMedia binds a subscribed media track to its publication. Media
// that arrives before the publication is known is kept until it appears.
func (r *Registry) AttachMedia(m core.RemoteMedia) []Event {
	rec, pub, ok := r.findRemote(m.ParticipantID(), m.TrackID())
	if !ok {
		r.deferred[m.TrackID()] = m
		return nil
	}
	if pub.Subscribed && pub.Media == m {
		return nil
	}
	pub.Subscribed, pub.Media = true, m
	rec.tracks[pub.Track.SID] = pub
	return []Event{TrackSubscribed{Publication: pub}}
}

func (r *Registry) DetachMedia(m core.RemoteMedia) []Event {
	delete(r.deferred, m.TrackID())
	rec, pub, ok := r.findRemote(m.ParticipantID(), m.TrackID())
	if !ok || !pub.Subscribed {
		return nil
	}
	pub.Subscribed, pub.Media = false, nil
	rec.tracks[pub.Track.SID] = pub
	return []Event{TrackUnsubscribed{Publication: pub}}
}

func (r *Registry) findRemote(owner domain.ParticipantID, sid domain.TrackID) (*remoteRecord, RemotePublication, bool) {
	if rec, ok := r.remotes[owner]; ok {
		pub, ok := rec.tracks[sid]
		return rec, pub, ok
	}
	for _, rec := range r.remotes {
		if pub, ok := rec.tracks[sid]; ok {
			return rec, pub, true
		}
	}
	return nil, RemotePublication{}, false
}

func (r *Registry) AddLocal(pub LocalPublication) []Event {
	r.locals[pub.Track.SID] = pub
	return []Event{LocalTrackPublished{Publication: pub}}
}

func (r *Registry) RemoveLocal(sid domain.TrackID) (LocalPublication, []Event, bool) {
	pub, ok := r.locals[sid]
	if !ok {
		return LocalPublication{}, nil, false
	}
	delete(r.locals, sid)
	return pub, []Event{LocalTrackUnpublished{Publication: pub}}, true
}

// ReplaceLocal swaps a publication for its re-announced successor.
func (r *Registry) ReplaceLocal(old domain.TrackID, pub LocalPublication) []Event {
	_, evs, _ := r.RemoveLocal(old)
	return append(evs, r.AddLocal(pub)...)
}

func (r *Registry) SetLocalMuted(sid domain.TrackID, muted bool) ([]Event, error) {
	pub, ok := r.locals[sid]
	if !ok {
		return nil, stale("local track %s unknown", sid)
	}
	if pub.Track.Muted == muted {
		return nil, nil
	}
	pub.Track.Muted = muted
	r.locals[sid] = pub
	if muted {
		return []Event{TrackMuted{Participant: r.local.SID, Publication: pub}}, nil
	}
	return []Event{TrackUnmuted{Participant: r.local.SID, Publication: pub}}, nil
}

// HasLocalSource reports whether a local track already uses src.
func (r *Registry) HasLocalSource(src domain.TrackSource) bool {
	for _, pub := range r.locals {
		if pub.Track.Source == src {
			return true
		}
	}
	return false
}

func (r *Registry) Locals() []LocalPublication {
	out := make([]LocalPublication, 0, len(r.locals))
	for _, sid := range sortedKeys(r.locals) {
		out = append(out, r.locals[sid])
	}
	return out
}

// Lookup finds a publication, local or remote, by sid.
func (r *Registry) Lookup(sid domain.TrackID) (Publication, bool) {
	if pub, ok := r.locals[sid]; ok {
		return pub, true
	}
	if _, pub, ok := r.findRemote("", sid); ok {
		return pub, true
	}
	return nil, false
}

// SyncState describes what this client publishes and is subscribed to, for
// the server to rebuild its view after a resume.
func (r *Registry) SyncState() *protocol.SyncState {
	st := &protocol.SyncState{Subscription: protocol.UpdateSubscription{Subscribe: true}}
	for _, psid := range sortedKeys(r.remotes) {
		rec := r.remotes[psid]
		for _, tsid := range sortedKeys(rec.tracks) {
			if rec.tracks[tsid].Subscribed {
				st.Subscription.TrackSIDs = append(st.Subscription.TrackSIDs, tsid)
			}
		}
	}
	for _, pub := range r.Locals() {
		st.PublishTracks = append(st.PublishTracks, protocol.TrackPublished{CID: pub.Producer.CID(), Track: pub.Track})
	}
	return st
}

func (r *Registry) RemoteCount() int { return len(r.remotes) }

// Snapshot copies the registry into an immutable view.
func (r *Registry) Snapshot() *Snapshot {
	s := &Snapshot{
		Room:     r.room,
		State:    r.state,
		Local:    ParticipantView{Info: r.local.Clone(), Quality: r.localQuality},
		Speakers: r.activeSpeakers(),
	}
	for _, pub := range r.Locals() {
		s.Local.Tracks = append(s.Local.Tracks, pub)
	}
	for _, psid := range sortedKeys(r.remotes) {
		rec := r.remotes[psid]
		v := ParticipantView{Info: rec.info.Clone(), Quality: rec.quality}
		for _, tsid := range sortedKeys(rec.tracks) {
			v.Tracks = append(v.Tracks, rec.tracks[tsid])
		}
		s.Remote = append(s.Remote, v)
	}
	return s
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	return slices.Sorted(maps.Keys(m))
}
