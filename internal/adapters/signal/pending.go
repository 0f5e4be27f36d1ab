package signal

import (
	"github.com/dkeye/VoiceClient/internal/metrics"
	"github.com/dkeye/VoiceClient/internal/protocol"
)

// enqueue appends to the outbound queue. While the channel is up the
// writer drains it; while it is down the queue is capped at PendingLimit
// and the oldest request is dropped first.
func (c *Client) enqueue(ob outbound) {
	c.mu.Lock()
	c.pending = append(c.pending, ob)
	cn := c.conn
	if cn == nil {
		c.trimPendingLocked()
	}
	metrics.SignalPending.Set(float64(len(c.pending)))
	c.mu.Unlock()

	if cn != nil {
		cn.notify()
	}
}

func (c *Client) trimPendingLocked() {
	limit := c.cfg.PendingLimit
	if limit <= 0 || len(c.pending) <= limit {
		return
	}
	over := len(c.pending) - limit
	for _, ob := range c.pending[:over] {
		c.logger.Warn().Str("type", ob.req.Kind()).Int("limit", limit).Msg("pending queue full, dropping oldest request")
	}
	metrics.SignalDropped.Add(float64(over))
	c.pending = append([]outbound(nil), c.pending[over:]...)
	metrics.SignalPending.Set(float64(len(c.pending)))
}

// dropPingsLocked discards keepalives that never made it out; the next
// connection starts its own.
func (c *Client) dropPingsLocked() {
	kept := c.pending[:0]
	for _, ob := range c.pending {
		if _, ok := ob.req.(*protocol.Ping); !ok {
			kept = append(kept, ob)
		}
	}
	c.pending = kept
}

// popFor hands the next request to cn's writer, as long as cn is current.
func (c *Client) popFor(cn *connection) (outbound, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != cn || len(c.pending) == 0 {
		return outbound{}, false
	}
	ob := c.pending[0]
	c.pending[0] = outbound{}
	c.pending = c.pending[1:]
	metrics.SignalPending.Set(float64(len(c.pending)))
	return ob, true
}

func (c *Client) requeueFront(ob outbound) {
	if _, ok := ob.req.(*protocol.Ping); ok {
		return
	}
	c.mu.Lock()
	c.pending = append([]outbound{ob}, c.pending...)
	metrics.SignalPending.Set(float64(len(c.pending)))
	c.mu.Unlock()
}

// RetainPending keeps only the queued requests keep accepts.
func (c *Client) RetainPending(keep func(protocol.Request) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := make([]outbound, 0, len(c.pending))
	for _, ob := range c.pending {
		if keep(ob.req) {
			kept = append(kept, ob)
		}
	}
	dropped := len(c.pending) - len(kept)
	c.pending = kept
	metrics.SignalPending.Set(float64(len(c.pending)))
	if dropped > 0 {
		c.logger.Info().Int("dropped", dropped).Int("kept", len(kept)).Msg("pending queue filtered")
	}
	return dropped
}

// Pending returns the queued requests, oldest first.
func (c *Client) Pending() []protocol.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Request, len(c.pending))
	for i, ob := range c.pending {
		out[i] = ob.req
	}
	return out
}

func (c *Client) PendingLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
