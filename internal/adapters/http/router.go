// Package http serves the local status and control API of a running client.
package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/dkeye/VoiceClient/internal/app/engine"
	"github.com/dkeye/VoiceClient/internal/app/room"
	"github.com/dkeye/VoiceClient/internal/config"
	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

// Room is what the API needs from a joined room.
type Room interface {
	Snapshot() *room.Snapshot
	Participant(sid domain.ParticipantID) (room.ParticipantView, bool)
	State() core.EngineState
	SetTrackMuted(sid domain.TrackID, muted bool) error
	Simulate(scenario string) error
	Leave(reason string)
}

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Set("request_id", id)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, rm Room) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	h := &handlers{room: rm, simulate: NewRateLimiter(3, 10*time.Second)}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/state", h.state)
	api.GET("/participants", h.participants)
	api.GET("/participants/:sid", h.participant)
	api.POST("/tracks/:sid/mute", h.mute)
	api.POST("/simulate/:scenario", h.simulateScenario)
	api.POST("/leave", h.leave)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}

type handlers struct {
	room     Room
	simulate *RateLimiter
}

type stateResponse struct {
	State        string `json:"state"`
	Room         string `json:"room"`
	RoomName     string `json:"room_name"`
	Participant  string `json:"participant"`
	Participants int    `json:"participants"`
}

type trackResponse struct {
	SID        string `json:"sid"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Source     string `json:"source"`
	Muted      bool   `json:"muted"`
	Local      bool   `json:"local"`
	Subscribed bool   `json:"subscribed"`
}

type participantResponse struct {
	SID        string            `json:"sid"`
	Identity   string            `json:"identity"`
	Name       string            `json:"name"`
	Metadata   string            `json:"metadata,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Quality    string            `json:"quality"`
	Speaking   bool              `json:"speaking"`
	Tracks     []trackResponse   `json:"tracks"`
}

type muteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

func participantJSON(v room.ParticipantView, speakers []domain.ParticipantID) participantResponse {
	out := participantResponse{
		SID:        string(v.Info.SID),
		Identity:   string(v.Info.Identity),
		Name:       v.Info.Name,
		Metadata:   v.Info.Metadata,
		Attributes: v.Info.Attributes,
		Quality:    string(v.Quality),
		Tracks:     make([]trackResponse, 0, len(v.Tracks)),
	}
	for _, s := range speakers {
		if s == v.Info.SID {
			out.Speaking = true
		}
	}
	for _, pub := range v.Tracks {
		info := pub.Info()
		t := trackResponse{
			SID:    string(info.SID),
			Name:   info.Name,
			Kind:   string(info.Kind),
			Source: string(info.Source),
			Muted:  info.Muted,
		}
		switch p := pub.(type) {
		case room.LocalPublication:
			t.Local = true
		case room.RemotePublication:
			t.Subscribed = p.Subscribed
		}
		out.Tracks = append(out.Tracks, t)
	}
	return out
}

func (h *handlers) state(c *gin.Context) {
	snap := h.room.Snapshot()
	c.JSON(http.StatusOK, stateResponse{
		State:        h.room.State().String(),
		Room:         string(snap.Room.ID),
		RoomName:     string(snap.Room.Name),
		Participant:  string(snap.Local.Info.SID),
		Participants: len(snap.Remote),
	})
}

func (h *handlers) participants(c *gin.Context) {
	snap := h.room.Snapshot()
	out := make([]participantResponse, 0, len(snap.Remote)+1)
	if snap.Local.Info.SID != "" {
		out = append(out, participantJSON(snap.Local, snap.Speakers))
	}
	for _, p := range snap.Remote {
		out = append(out, participantJSON(p, snap.Speakers))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) participant(c *gin.Context) {
	sid := domain.ParticipantID(c.Param("sid"))
	p, ok := h.room.Participant(sid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown participant"})
		return
	}
	c.JSON(http.StatusOK, participantJSON(p, h.room.Snapshot().Speakers))
}

func (h *handlers) mute(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid muted"})
		return
	}
	if err := h.room.SetTrackMuted(domain.TrackID(c.Param("sid")), *req.Muted); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) simulateScenario(c *gin.Context) {
	if ok, wait := h.simulate.Allow(c.ClientIP()); !ok {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many simulations"})
		return
	}
	scenario := c.Param("scenario")
	if err := h.room.Simulate(scenario); err != nil {
		h.fail(c, err)
		return
	}
	log.Info().Str("module", "adapters.http").Str("scenario", scenario).Str("request_id", c.GetString("request_id")).Msg("simulation requested")
	c.Status(http.StatusAccepted)
}

func (h *handlers) leave(c *gin.Context) {
	h.room.Leave("left via status api")
	c.Status(http.StatusNoContent)
}

func (h *handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, room.ErrUnknownTrack):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrUnknownScenario):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotConnected):
		status = http.StatusConflict
	}
	log.Warn().Str("module", "adapters.http").Err(err).Str("request_id", c.GetString("request_id")).Int("status", status).Msg("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}
