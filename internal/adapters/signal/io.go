package signal

import (
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceClient/internal/core"
	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/metrics"
	"github.com/dkeye/VoiceClient/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"
)

// connection is one websocket lifetime. A reconnect creates a new one.
type connection struct {
	ws           Conn
	pingInterval time.Duration
	pingTimeout  time.Duration

	wake       chan struct{}
	stop       chan struct{}
	stopOnce   sync.Once
	writerDone chan struct{}
	lostOnce   sync.Once
	silent     atomic.Bool
	lastPong   atomic.Time
	loops      conc.WaitGroup
}

func newConnection(ws Conn, interval, timeout time.Duration) *connection {
	cn := &connection{
		ws:           ws,
		pingInterval: interval,
		pingTimeout:  timeout,
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		writerDone:   make(chan struct{}),
	}
	cn.lastPong.Store(time.Now())
	return cn
}

func (cn *connection) shutdown() {
	cn.stopOnce.Do(func() { close(cn.stop) })
}

func (cn *connection) notify() {
	select {
	case cn.wake <- struct{}{}:
	default:
	}
}

func (c *Client) start(cn *connection) {
	cn.loops.Go(func() { c.writePump(cn) })
	cn.loops.Go(func() { c.readPump(cn) })
	cn.loops.Go(func() { c.pingLoop(cn) })
	go func() {
		if r := cn.loops.WaitAndRecover(); r != nil {
			c.logger.Error().Str("panic", r.String()).Msg("signal loop panicked")
			c.lost(cn, fmt.Errorf("%w: loop panic", domain.ErrTransport))
		}
	}()
	cn.notify()
}

func (c *Client) readPump(cn *connection) {
	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			c.lost(cn, fmt.Errorf("%w: read: %v", domain.ErrTransport, err))
			return
		}
		msg, requestID, err := protocol.Decode(data)
		if err != nil {
			c.logger.Error().Err(err).Msg("bad server message")
			continue
		}
		metrics.SignalMessages.WithLabelValues("in", msg.Kind()).Inc()
		c.dispatch(cn, msg, requestID)
	}
}

func (c *Client) dispatch(cn *connection, msg protocol.Message, requestID string) {
	switch m := msg.(type) {
	case *protocol.Pong:
		now := time.Now()
		cn.lastPong.Store(now)
		if m.LastPingTimestamp > 0 {
			metrics.SignalRTT.Set(float64(now.UnixMilli() - m.LastPingTimestamp))
		}
		return
	case protocol.Correlated:
		if c.resolve(m.CorrelationKey(), msg) {
			return
		}
	}
	if requestID != "" && c.resolve(requestID, msg) {
		return
	}
	c.events.Push(core.SignalEvent{Message: msg})
}

func (c *Client) writePump(cn *connection) {
	defer close(cn.writerDone)
	for {
		select {
		case <-cn.stop:
			return
		case <-cn.wake:
		}
		for {
			ob, ok := c.popFor(cn)
			if !ok {
				break
			}
			if err := c.write(cn, ob); err != nil {
				c.requeueFront(ob)
				c.lost(cn, err)
				return
			}
		}
	}
}

// write frames one request, retrying transient failures up to the budget.
func (c *Client) write(cn *connection, ob outbound) error {
	b, err := protocol.Encode(ob.req, ob.requestID)
	if err != nil {
		c.logger.Error().Err(err).Str("type", ob.req.Kind()).Msg("dropping unencodable request")
		return nil
	}
	var lastErr error
	for attempt := 0; attempt <= c.cfg.WriteRetries; attempt++ {
		select {
		case <-cn.stop:
			return fmt.Errorf("%w: connection closed", domain.ErrTransport)
		default:
		}
		if attempt > 0 {
			c.logger.Warn().Err(lastErr).Int("attempt", attempt).Str("type", ob.req.Kind()).Msg("retrying write")
			time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
		}
		if err := cn.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			lastErr = err
			continue
		}
		if err := cn.ws.WriteMessage(websocket.TextMessage, b); err != nil {
			lastErr = err
			continue
		}
		metrics.SignalMessages.WithLabelValues("out", ob.req.Kind()).Inc()
		return nil
	}
	return fmt.Errorf("%w: write %s: %v", domain.ErrTransport, ob.req.Kind(), lastErr)
}

// pingLoop keeps the channel alive and declares it lost when no pong has
// been seen for pingTimeout.
func (c *Client) pingLoop(cn *connection) {
	ticker := time.NewTicker(cn.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-cn.stop:
			return
		case now := <-ticker.C:
			if silence := now.Sub(cn.lastPong.Load()); silence > cn.pingTimeout {
				c.lost(cn, fmt.Errorf("%w: %w: no pong for %s", domain.ErrTransport, domain.ErrTimeout, silence.Round(time.Millisecond)))
				return
			}
			c.enqueue(outbound{req: &protocol.Ping{Timestamp: now.UnixMilli()}})
		}
	}
}
