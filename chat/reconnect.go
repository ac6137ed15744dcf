package chat

import (
	"context"
	"time"

	"tcpchat/internal/endpoint"
	"tcpchat/internal/retry"
)

// reconnector is a background retry loop against one endpoint.
type reconnector struct {
	ep       endpoint.Endpoint
	cancel   context.CancelFunc
	result   chan error
	finished chan struct{}
}

// reconnect re-establishes the session after the peer went away,
// backing off between attempts.  It runs in the background so input
// and events keep flowing; the outcome arrives on reconnectResult.
func (c *Chat) reconnect(ctx context.Context) {
	c.stopReconnect()

	ep := c.Session.Endpoint()
	b := retry.ReconnectBackoff(c.Config.ReconnectMax)
	b.OnRetry = func(attempt int, wait time.Duration, err error) {
		c.Logger.Verbose("attempt %d failed: %v", attempt, err)
		c.printf("Reconnecting in %s...\n", wait.Round(100*time.Millisecond))
	}

	ctx, cancel := context.WithCancel(ctx)
	r := &reconnector{
		ep:       ep,
		cancel:   cancel,
		result:   make(chan error, 1),
		finished: make(chan struct{}),
	}
	c.retry = r

	c.printf("Reconnecting to %s...\n", ep)
	go func() {
		defer close(r.finished)
		r.result <- b.Do(ctx, func(int) error {
			return c.Session.ConnectEndpoint(ctx, ep)
		})
	}()
}

// reconnectResult yields the outcome of the running reconnect.  With
// none running it returns nil, which blocks forever in a select.
func (c *Chat) reconnectResult() <-chan error {
	if c.retry == nil {
		return nil
	}
	return c.retry.result
}

// reconnectDone records the outcome delivered on reconnectResult.
func (c *Chat) reconnectDone(err error) {
	r := c.retry
	c.retry = nil
	r.cancel()
	if err != nil {
		c.Logger.Warn("reconnect to %s: %v", r.ep, err)
		c.printf("Giving up on %s.\n", r.ep)
	}
}

// stopReconnect cancels a running reconnect and waits for it to end.
func (c *Chat) stopReconnect() {
	r := c.retry
	if r == nil {
		return
	}
	c.retry = nil
	r.cancel()
	<-r.finished
}
