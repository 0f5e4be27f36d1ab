package signal

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceClient/internal/config"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeServer is a scripted signalling server on a real websocket.
type fakeServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu         sync.Mutex
	greet      func(q url.Values) protocol.Message
	followUp   []protocol.Message
	autoPong   bool
	rejectHTTP int

	conns chan *serverConn
}

type serverConn struct {
	ws    *websocket.Conn
	query url.Values
	reqs  chan received
	wmu   sync.Mutex
}

type received struct {
	req protocol.Request
	id  string
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{
		t:        t,
		autoPong: true,
		conns:    make(chan *serverConn, 16),
		greet: func(q url.Values) protocol.Message {
			if q.Get("reconnect") == "1" {
				return &protocol.ReconnectResponse{}
			}
			return &protocol.JoinResponse{Participant: testParticipant()}
		},
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) URL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) setGreet(f func(q url.Values) protocol.Message) {
	fs.mu.Lock()
	fs.greet = f
	fs.mu.Unlock()
}

// setFollowUp makes every connection send msgs right behind the greeting.
func (fs *fakeServer) setFollowUp(msgs ...protocol.Message) {
	fs.mu.Lock()
	fs.followUp = msgs
	fs.mu.Unlock()
}

func (fs *fakeServer) setAutoPong(v bool) {
	fs.mu.Lock()
	fs.autoPong = v
	fs.mu.Unlock()
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	reject, greet, followUp, autoPong := fs.rejectHTTP, fs.greet, fs.followUp, fs.autoPong
	fs.mu.Unlock()
	if reject != 0 {
		http.Error(w, "rejected", reject)
		return
	}
	ws, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sc := &serverConn{ws: ws, query: r.URL.Query(), reqs: make(chan received, 64)}
	if greet != nil {
		if msg := greet(sc.query); msg != nil {
			sc.send(fs.t, msg, "")
		}
	}
	for _, msg := range followUp {
		sc.send(fs.t, msg, "")
	}
	fs.conns <- sc
	go func() {
		defer close(sc.reqs)
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			req, id, err := protocol.DecodeRequest(data)
			if err != nil {
				continue
			}
			if ping, ok := req.(*protocol.Ping); ok {
				if autoPong {
					sc.send(fs.t, &protocol.Pong{LastPingTimestamp: ping.Timestamp, Timestamp: time.Now().UnixMilli()}, "")
				}
				continue
			}
			sc.reqs <- received{req: req, id: id}
		}
	}()
}

func (fs *fakeServer) accept(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-fs.conns:
		return sc
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
	}
	return nil
}

func (sc *serverConn) send(t *testing.T, msg protocol.Message, requestID string) {
	b, err := protocol.Encode(msg, requestID)
	require.NoError(t, err)
	sc.wmu.Lock()
	defer sc.wmu.Unlock()
	_ = sc.ws.WriteMessage(websocket.TextMessage, b)
}

func (sc *serverConn) next(t *testing.T) received {
	t.Helper()
	select {
	case r, ok := <-sc.reqs:
		require.True(t, ok, "server connection closed")
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("server received nothing")
	}
	return received{}
}

func testParticipant() domain.ParticipantInfo {
	return domain.ParticipantInfo{SID: "PA_local", Identity: "me", State: domain.ParticipantActive}
}

func testConfig() config.Signal {
	return config.Signal{
		PingInterval:        50 * time.Millisecond,
		PingTimeoutMultiple: 4,
		JoinTimeout:         time.Second,
		WriteTimeout:        time.Second,
		WriteRetries:        1,
		PendingLimit:        8,
		ReadLimit:           1 << 20,
		CallTimeout:         time.Second,
	}
}
