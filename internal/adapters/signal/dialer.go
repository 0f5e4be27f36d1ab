package signal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/gorilla/websocket"
)

// Conn is the part of *websocket.Conn the client relies on.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// WSDialer dials with gorilla/websocket and classifies failures into the
// domain error taxonomy.
type WSDialer struct {
	Dialer *websocket.Dialer
}

func NewWSDialer(handshakeTimeout time.Duration) *WSDialer {
	return &WSDialer{Dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}}
}

func (d *WSDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	ws, resp, err := d.Dialer.DialContext(ctx, rawURL, nil)
	if err == nil {
		return ws, nil
	}
	if resp != nil {
		defer resp.Body.Close()
		return nil, fmt.Errorf("%w: server answered %s", domain.ErrHandshake, resp.Status)
	}
	if errors.Is(err, websocket.ErrBadHandshake) {
		return nil, fmt.Errorf("%w: %v", domain.ErrHandshake, err)
	}
	if isTimeout(err) {
		return nil, fmt.Errorf("%w: dial: %v", domain.ErrTimeout, err)
	}
	return nil, fmt.Errorf("%w: dial: %v", domain.ErrTransport, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// rtcURL builds the signalling endpoint. http(s) schemes are mapped to ws(s).
func rtcURL(base, token string, autoSubscribe bool, resumeSID domain.ParticipantID) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: bad url %q: %v", domain.ErrHandshake, base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", domain.ErrHandshake, u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/rtc"

	q := u.Query()
	q.Set("access_token", token)
	q.Set("auto_subscribe", fmt.Sprint(autoSubscribe))
	if resumeSID != "" {
		q.Set("reconnect", "1")
		q.Set("sid", string(resumeSID))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
