package domain

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
	TrackKindData  TrackKind = "data"
)

type TrackSource string

const (
	TrackSourceUnknown          TrackSource = "unknown"
	TrackSourceCamera           TrackSource = "camera"
	TrackSourceMicrophone       TrackSource = "microphone"
	TrackSourceScreenShare      TrackSource = "screen_share"
	TrackSourceScreenShareAudio TrackSource = "screen_share_audio"
)

// VideoQuality selects a simulcast layer on the subscriber side.
type VideoQuality string

const (
	VideoQualityLow    VideoQuality = "low"
	VideoQualityMedium VideoQuality = "medium"
	VideoQualityHigh   VideoQuality = "high"
	VideoQualityOff    VideoQuality = "off"
)

// Dimensions of a video track; zero for audio and data.
type Dimensions struct {
	Width  uint32 `json:"width,omitempty"`
	Height uint32 `json:"height,omitempty"`
}

// TrackInfo is the server's description of a published track.
type TrackInfo struct {
	SID        TrackID     `json:"sid"`
	Name       string      `json:"name"`
	Kind       TrackKind   `json:"kind"`
	Source     TrackSource `json:"source"`
	Muted      bool        `json:"muted"`
	Simulcast  bool        `json:"simulcast"`
	Dimensions Dimensions  `json:"dimensions"`
	MimeType   string      `json:"mime_type,omitempty"`
}
