// Package signal implements the control channel client: framing over a
// websocket, liveness, pending-request buffering and request correlation.
package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceClient/internal/config"
	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/eventq"
	"github.com/dkeye/VoiceClient/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ core.SignalChannel = (*Client)(nil)

// ErrRejected is returned by Call when the server answers with a
// request_response instead of the expected message.
var ErrRejected = errors.New("request rejected")

type Client struct {
	cfg    config.Signal
	dialer Dialer
	logger zerolog.Logger

	events *eventq.Queue[core.SignalEvent]

	mu      sync.Mutex
	conn    *connection
	pending []outbound
	calls   map[string]chan callResult
	closed  bool
}

type outbound struct {
	req       protocol.Request
	requestID string
}

func NewClient(cfg config.Signal, dialer Dialer) *Client {
	return &Client{
		cfg:    cfg,
		dialer: dialer,
		logger: log.With().Str("module", "adapters.signal").Logger(),
		events: eventq.NewQueue[core.SignalEvent](),
		calls:  make(map[string]chan callResult),
	}
}

func (c *Client) Events() <-chan core.SignalEvent { return c.events.C() }

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Join opens a fresh session and waits for the join answer.
func (c *Client) Join(ctx context.Context, p core.JoinParams) (*protocol.JoinResponse, error) {
	u, err := rtcURL(p.URL, p.Token, p.AutoSubscribe, "")
	if err != nil {
		return nil, err
	}
	msg, err := c.open(ctx, u, false)
	if err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}
	join, ok := msg.(*protocol.JoinResponse)
	if !ok {
		return nil, fmt.Errorf("join: %w: unexpected %s", domain.ErrHandshake, msg.Kind())
	}
	c.logger.Info().
		Str("room", string(join.Room.ID)).
		Str("participant", string(join.Participant.SID)).
		Str("server_version", join.ServerVersion).
		Msg("joined")
	return join, nil
}

// Resume reconnects the control channel and asks the server to rebind sid.
// Requests queued while the channel was down are flushed once it is back.
func (c *Client) Resume(ctx context.Context, p core.JoinParams, sid domain.ParticipantID) (*protocol.ReconnectResponse, error) {
	u, err := rtcURL(p.URL, p.Token, p.AutoSubscribe, sid)
	if err != nil {
		return nil, err
	}
	msg, err := c.open(ctx, u, true)
	if err != nil {
		return nil, fmt.Errorf("resume: %w", err)
	}
	rr, ok := msg.(*protocol.ReconnectResponse)
	if !ok {
		return nil, fmt.Errorf("resume: %w: unexpected %s", domain.ErrHandshake, msg.Kind())
	}
	c.logger.Info().Str("participant", string(sid)).Int("pending", c.PendingLen()).Msg("resumed")
	return rr, nil
}

// open dials, reads the first server message under the join deadline and,
// on success, installs the connection, queues that message as the first
// event of the connection and starts its loops.
func (c *Client) open(ctx context.Context, rawURL string, resume bool) (protocol.Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, domain.ErrClosed
	}
	c.mu.Unlock()
	c.closeCurrent(!resume)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.JoinTimeout)
	defer cancel()

	ws, err := c.dialer.Dial(ctx, rawURL)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		if ctx.Err() != nil && !errors.Is(err, domain.ErrHandshake) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return nil, err
	}
	if c.cfg.ReadLimit > 0 {
		ws.SetReadLimit(c.cfg.ReadLimit)
	}

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	deadline, _ := ctx.Deadline()
	_ = ws.SetReadDeadline(deadline)
	_, data, err := ws.ReadMessage()
	stopped := stop()
	if err != nil {
		_ = ws.Close()
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		if !stopped || isTimeout(err) {
			return nil, fmt.Errorf("%w: no answer from server", domain.ErrTimeout)
		}
		return nil, fmt.Errorf("%w: read: %v", domain.ErrTransport, err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	msg, _, err := protocol.Decode(data)
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrHandshake, err)
	}
	if leave, ok := msg.(*protocol.Leave); ok {
		_ = ws.Close()
		if resume {
			return nil, fmt.Errorf("%w: %s", domain.ErrResumeRejected, leave.Reason)
		}
		return nil, fmt.Errorf("%w: server refused: %s", domain.ErrHandshake, leave.Reason)
	}

	interval, timeout := c.cfg.PingInterval, c.cfg.PingTimeout()
	if join, ok := msg.(*protocol.JoinResponse); ok && join.PingInterval > 0 {
		interval = time.Duration(join.PingInterval) * time.Second
		if join.PingTimeout > 0 {
			timeout = time.Duration(join.PingTimeout) * time.Second
		} else {
			timeout = interval * time.Duration(c.cfg.PingTimeoutMultiple)
		}
	}
	cn := newConnection(ws, interval, timeout)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return nil, domain.ErrClosed
	}
	c.conn = cn
	c.mu.Unlock()

	c.events.Push(core.SignalEvent{Message: msg})
	c.start(cn)
	return msg, nil
}

// Send queues req for the current or the next connection.
func (c *Client) Send(req protocol.Request) {
	c.enqueue(outbound{req: req})
}

// DropConnection breaks the socket the way a network failure would.
func (c *Client) DropConnection() {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	if cn != nil {
		c.logger.Warn().Msg("dropping control channel")
		_ = cn.ws.Close()
	}
}

// Disconnect sends leave and closes the socket without raising Lost.
// Pending requests stay queued.
func (c *Client) Disconnect() {
	c.closeCurrent(true)
}

func (c *Client) closeCurrent(leave bool) {
	c.mu.Lock()
	cn := c.conn
	c.conn = nil
	c.trimPendingLocked()
	c.mu.Unlock()
	if cn == nil {
		return
	}
	cn.silent.Store(true)
	cn.shutdown()
	<-cn.writerDone

	if leave {
		if b, err := protocol.Encode(&protocol.Leave{Reason: "client initiated"}, ""); err == nil {
			_ = cn.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			_ = cn.ws.WriteMessage(websocket.TextMessage, b)
		}
	}
	_ = cn.ws.Close()
	c.logger.Info().Bool("leave", leave).Msg("disconnected")
}

// Close disconnects, fails outstanding calls and ends the event sequence.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.Disconnect()
	c.Drain(domain.ErrClosed)
	c.events.Close()
}

// lost tears cn down and raises Lost once, unless cn was closed on purpose.
func (c *Client) lost(cn *connection, err error) {
	c.mu.Lock()
	if c.conn == cn {
		c.conn = nil
		c.dropPingsLocked()
		c.trimPendingLocked()
	}
	c.mu.Unlock()

	cn.shutdown()
	_ = cn.ws.Close()
	cn.lostOnce.Do(func() {
		if cn.silent.Load() {
			return
		}
		c.logger.Warn().Err(err).Msg("control channel lost")
		c.events.Push(core.SignalEvent{Lost: err})
	})
}
