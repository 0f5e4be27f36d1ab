package domain

import "maps"

type ParticipantState string

const (
	ParticipantJoining      ParticipantState = "joining"
	ParticipantJoined       ParticipantState = "joined"
	ParticipantActive       ParticipantState = "active"
	ParticipantDisconnected ParticipantState = "disconnected"
)

type ConnectionQuality string

const (
	QualityUnknown   ConnectionQuality = "unknown"
	QualityLost      ConnectionQuality = "lost"
	QualityPoor      ConnectionQuality = "poor"
	QualityGood      ConnectionQuality = "good"
	QualityExcellent ConnectionQuality = "excellent"
)

// ParticipantInfo is the server's view of one participant. Version grows
// with every change the server makes to the record.
type ParticipantInfo struct {
	SID        ParticipantID     `json:"sid"`
	Identity   ParticipantHandle `json:"identity"`
	Name       string            `json:"name"`
	Metadata   string            `json:"metadata"`
	Attributes map[string]string `json:"attributes,omitempty"`
	State      ParticipantState  `json:"state"`
	Tracks     []TrackInfo       `json:"tracks,omitempty"`
	Version    uint32            `json:"version,omitempty"`
}

// Clone returns a deep copy so callers never alias registry state.
func (p ParticipantInfo) Clone() ParticipantInfo {
	out := p
	out.Attributes = maps.Clone(p.Attributes)
	if p.Tracks != nil {
		out.Tracks = append([]TrackInfo(nil), p.Tracks...)
	}
	return out
}

// SameAttributes reports whether two attribute maps hold the same pairs.
// A nil map equals an empty one.
func SameAttributes(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
