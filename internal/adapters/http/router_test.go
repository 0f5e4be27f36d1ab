package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/VoiceClient/internal/app/engine"
	"github.com/dkeye/VoiceClient/internal/app/room"
	"github.com/dkeye/VoiceClient/internal/config"
	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRoom struct {
	snap      *room.Snapshot
	state     core.EngineState
	muted     map[domain.TrackID]bool
	simulated []string
	left      string
}

func (f *fakeRoom) Snapshot() *room.Snapshot { return f.snap }
func (f *fakeRoom) State() core.EngineState  { return f.state }
func (f *fakeRoom) Leave(reason string)      { f.left = reason }

func (f *fakeRoom) Participant(sid domain.ParticipantID) (room.ParticipantView, bool) {
	return f.snap.Participant(sid)
}

func (f *fakeRoom) SetTrackMuted(sid domain.TrackID, muted bool) error {
	if f.state != core.StateConnected {
		return fmt.Errorf("mute: %w", domain.ErrNotConnected)
	}
	if _, ok := f.snap.Remote[0].Track(sid); !ok {
		return fmt.Errorf("%w: %s", room.ErrUnknownTrack, sid)
	}
	f.muted[sid] = muted
	return nil
}

func (f *fakeRoom) Simulate(scenario string) error {
	if scenario != engine.ScenarioSignalReconnect {
		return fmt.Errorf("%w: %q", engine.ErrUnknownScenario, scenario)
	}
	f.simulated = append(f.simulated, scenario)
	return nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *fakeRoom) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fakeRoom{
		state: core.StateConnected,
		muted: make(map[domain.TrackID]bool),
		snap: &room.Snapshot{
			Room:  domain.Room{ID: "RM_1", Name: "standup"},
			State: core.StateConnected,
			Local: room.ParticipantView{Info: domain.ParticipantInfo{SID: "PA_me", Identity: "me"}},
			Remote: []room.ParticipantView{{
				Info:    domain.ParticipantInfo{SID: "PA_a", Identity: "alice", Name: "Alice"},
				Quality: domain.QualityGood,
				Tracks: []room.Publication{room.RemotePublication{
					Track:       domain.TrackInfo{SID: "TR_1", Kind: domain.TrackKindAudio, Source: domain.TrackSourceMicrophone},
					Participant: "PA_a",
					Subscribed:  true,
				}},
			}},
			Speakers: []domain.ParticipantID{"PA_a"},
		},
	}
	return SetupRouter(&config.Config{Mode: "test"}, f), f
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestState(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(r, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got stateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, stateResponse{State: "connected", Room: "RM_1", RoomName: "standup", Participant: "PA_me", Participants: 1}, got)
}

func TestParticipants(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/api/participants", "")
	require.Equal(t, http.StatusOK, w.Code)
	var all []participantResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Len(t, all, 2)
	assert.Equal(t, "PA_me", all[0].SID)

	w = do(r, http.MethodGet, "/api/participants/PA_a", "")
	require.Equal(t, http.StatusOK, w.Code)
	var alice participantResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &alice))
	assert.True(t, alice.Speaking)
	assert.Equal(t, "good", alice.Quality)
	require.Len(t, alice.Tracks, 1)
	assert.Equal(t, trackResponse{SID: "TR_1", Kind: "audio", Source: "microphone", Subscribed: true}, alice.Tracks[0])

	w = do(r, http.MethodGet, "/api/participants/PA_zz", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMute(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		body   string
		state  core.EngineState
		status int
	}{
		{"mutes", "/api/tracks/TR_1/mute", `{"muted":true}`, core.StateConnected, http.StatusNoContent},
		{"missing field", "/api/tracks/TR_1/mute", `{}`, core.StateConnected, http.StatusBadRequest},
		{"unknown track", "/api/tracks/TR_x/mute", `{"muted":true}`, core.StateConnected, http.StatusNotFound},
		{"not connected", "/api/tracks/TR_1/mute", `{"muted":true}`, core.StateReconnecting, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, f := newTestRouter(t)
			f.state = tc.state
			w := do(r, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusNoContent {
				assert.True(t, f.muted["TR_1"])
			}
		})
	}
}

func TestSimulateIsRateLimited(t *testing.T) {
	r, f := newTestRouter(t)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/simulate/bogus", "").Code)
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/simulate/signal_reconnect", "").Code)
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/api/simulate/signal_reconnect", "").Code)
	w := do(r, http.MethodPost, "/api/simulate/signal_reconnect", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "10", w.Header().Get("Retry-After"))
	assert.Len(t, f.simulated, 2)
}

func TestLeave(t *testing.T) {
	r, f := newTestRouter(t)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPost, "/api/leave", "").Code)
	assert.NotEmpty(t, f.left)
}

func TestRequestID(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/api/state", "")
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set(requestIDHeader, "abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get(requestIDHeader))
}

func TestMetrics(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	now := time.Unix(100, 0)
	rl.now = func() time.Time { return now }

	allowed := func(key string) bool {
		ok, _ := rl.Allow(key)
		return ok
	}

	assert.True(t, allowed("a"))
	now = now.Add(400 * time.Millisecond)
	assert.True(t, allowed("a"))
	ok, wait := rl.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, 600*time.Millisecond, wait)
	assert.True(t, allowed("b"))

	// only the first hit has left the window
	now = now.Add(700 * time.Millisecond)
	assert.True(t, allowed("a"))
	ok, wait = rl.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, 300*time.Millisecond, wait)

	now = now.Add(5 * time.Second)
	assert.True(t, allowed("c"))
	assert.Equal(t, 1, rl.keys(), "idle keys are forgotten")
}
