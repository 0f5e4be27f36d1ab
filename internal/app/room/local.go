package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/protocol"
)

var ErrUnknownTrack = errors.New("unknown track")

type PublishOptions struct {
	Name       string
	Source     domain.TrackSource
	Muted      bool
	Simulcast  bool
	Dimensions domain.Dimensions
}

type DataOptions struct {
	Topic        string
	Reliable     bool
	Destinations []domain.ParticipantID
}

// PublishLocal publishes producer. It fails with ErrNotConnected unless the
// session is connected and with ErrDuplicate when another local track
// already uses the same source.
func (r *Room) PublishLocal(ctx context.Context, producer core.LocalProducer, opts PublishOptions) (LocalPublication, error) {
	if st := r.engine.State(); st != core.StateConnected {
		return LocalPublication{}, fmt.Errorf("publish %s: %w (%s)", opts.Name, domain.ErrNotConnected, st)
	}
	checked := opts.Source != "" && opts.Source != domain.TrackSourceUnknown && !r.cfg.AllowDuplicateSources

	var dup bool
	if !r.do(func() []Event {
		if checked {
			if r.reg.HasLocalSource(opts.Source) || r.reserved[opts.Source] {
				dup = true
				return nil
			}
			r.reserved[opts.Source] = true
		}
		return nil
	}) {
		return LocalPublication{}, domain.ErrClosed
	}
	if dup {
		return LocalPublication{}, fmt.Errorf("publish %s: %w: source %s", opts.Name, domain.ErrDuplicate, opts.Source)
	}

	info, err := r.engine.PublishTrack(ctx, producer, &protocol.AddTrack{
		Name:       opts.Name,
		Type:       producer.Kind(),
		Source:     opts.Source,
		Muted:      opts.Muted,
		Simulcast:  opts.Simulcast,
		Dimensions: opts.Dimensions,
	})

	var pub LocalPublication
	r.do(func() []Event {
		if checked {
			delete(r.reserved, opts.Source)
		}
		if err != nil {
			return nil
		}
		pub = LocalPublication{Track: info, Producer: producer}
		return r.reg.AddLocal(pub)
	})
	if err != nil {
		return LocalPublication{}, err
	}
	r.logger.Info().Str("track", string(info.SID)).Str("source", string(opts.Source)).Msg("local track published")
	return pub, nil
}

func (r *Room) UnpublishLocal(sid domain.TrackID) error {
	var (
		pub   LocalPublication
		found bool
	)
	r.do(func() []Event {
		var evs []Event
		pub, evs, found = r.reg.RemoveLocal(sid)
		return evs
	})
	if !found {
		return fmt.Errorf("unpublish: %w: %s", ErrUnknownTrack, sid)
	}
	return r.engine.UnpublishTrack(pub.Producer, sid)
}

func (r *Room) lookup(sid domain.TrackID) (Publication, error) {
	var (
		pub   Publication
		found bool
	)
	r.do(func() []Event {
		pub, found = r.reg.Lookup(sid)
		return nil
	})
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrack, sid)
	}
	return pub, nil
}

// SetTrackMuted mutes a local track for everyone, or stops receiving a
// remote one. A remote publication's own mute flag only ever changes when
// its publisher mutes it.
func (r *Room) SetTrackMuted(sid domain.TrackID, muted bool) error {
	pub, err := r.lookup(sid)
	if err != nil {
		return err
	}
	switch pub.(type) {
	case LocalPublication:
		r.do(func() []Event {
			evs, _ := r.reg.SetLocalMuted(sid, muted)
			return evs
		})
		r.engine.Send(&protocol.MuteTrack{TrackSID: sid, Muted: muted})
	case RemotePublication:
		r.engine.Send(&protocol.UpdateTrackSettings{TrackSIDs: []domain.TrackID{sid}, Disabled: muted})
	}
	return nil
}

func (r *Room) SetSubscribed(sid domain.TrackID, subscribe bool) error {
	pub, err := r.lookup(sid)
	if err != nil {
		return err
	}
	switch pub.(type) {
	case LocalPublication:
		return fmt.Errorf("subscribe: %s is a local track", sid)
	case RemotePublication:
		r.engine.Send(&protocol.UpdateSubscription{TrackSIDs: []domain.TrackID{sid}, Subscribe: subscribe})
	}
	return nil
}

// SetTrackSettings asks for a simulcast layer or a size for a remote video track.
func (r *Room) SetTrackSettings(sid domain.TrackID, quality domain.VideoQuality, dims domain.Dimensions) error {
	pub, err := r.lookup(sid)
	if err != nil {
		return err
	}
	switch pub.(type) {
	case LocalPublication:
		return fmt.Errorf("track settings: %s is a local track", sid)
	case RemotePublication:
		r.engine.Send(&protocol.UpdateTrackSettings{TrackSIDs: []domain.TrackID{sid}, Quality: quality, Dimensions: dims})
	}
	return nil
}

// sessionUp reports whether requests sent in st reach the server now or
// after the session recovers.
func sessionUp(st core.EngineState) bool {
	return st != core.StateIdle && st != core.StateJoining && !st.Terminal()
}

// SetMetadata asks the server to update this participant. The registry
// changes when the server echoes the update back.
func (r *Room) SetMetadata(name, metadata string, attributes map[string]string) error {
	if st := r.engine.State(); !sessionUp(st) {
		return fmt.Errorf("metadata: %w (%s)", domain.ErrNotConnected, st)
	}
	r.engine.Send(&protocol.UpdateMetadata{Name: name, Metadata: metadata, Attributes: attributes})
	return nil
}

// SendData sends an application payload. While reconnecting it is queued
// and goes out after a resume; a full reconnect drops it.
func (r *Room) SendData(payload []byte, opts DataOptions) error {
	if st := r.engine.State(); !sessionUp(st) {
		return fmt.Errorf("data: %w (%s)", domain.ErrNotConnected, st)
	}
	r.engine.Send(&protocol.DataPacket{
		DestinationSIDs: opts.Destinations,
		Topic:           opts.Topic,
		Reliable:        opts.Reliable,
		Payload:         payload,
	})
	return nil
}
