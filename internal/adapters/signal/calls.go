package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/VoiceClient/internal/domain"
	"github.com/dkeye/VoiceClient/internal/protocol"
)

type callResult struct {
	msg protocol.Message
	err error
}

// Call sends req tagged with key and waits for the server message that
// carries the same correlation key. A request_response for key is a
// rejection. The request is queued like any other while the channel is down.
func (c *Client) Call(ctx context.Context, req protocol.Request, key string) (protocol.Message, error) {
	ch := make(chan callResult, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, domain.ErrClosed
	}
	c.calls[key] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.calls, key)
		c.mu.Unlock()
	}()

	c.enqueue(outbound{req: req, requestID: key})

	timeout := c.cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if rr, ok := res.msg.(*protocol.RequestResponse); ok {
			return nil, fmt.Errorf("%w: %s: %s %s", ErrRejected, req.Kind(), rr.Reason, rr.Message)
		}
		return res.msg, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", domain.ErrTimeout, req.Kind(), timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) resolve(key string, msg protocol.Message) bool {
	c.mu.Lock()
	ch, ok := c.calls[key]
	if ok {
		delete(c.calls, key)
	}
	c.mu.Unlock()
	if ok {
		ch <- callResult{msg: msg}
	}
	return ok
}

// Drain fails every outstanding call with err.
func (c *Client) Drain(err error) {
	c.mu.Lock()
	calls := c.calls
	c.calls = make(map[string]chan callResult)
	c.mu.Unlock()
	for _, ch := range calls {
		ch <- callResult{err: err}
	}
}
