package session

import (
	"unicode/utf8"

	ncerr "tcpchat/internal/errors"
)

// receiveLoop polls the transport until the connection identified by
// gen is abandoned or fails.  Each poll waits at most pollTimeout, so
// Disconnect never waits longer than that for the loop to notice.
// drained closes after done, once the dispatcher has caught up.
func (c *Controller) receiveLoop(gen uint64, done, drained chan struct{}) {
	defer c.events.after(func() { close(drained) })
	defer close(done)

	for {
		data, err := c.transport.Receive(c.readSize, c.pollTimeout)
		if err != nil {
			c.receiveEnded(gen, err)
			return
		}
		if data == nil {
			c.metrics.PollTimeout()
			if !c.current(gen) {
				return
			}
			continue
		}
		if !utf8.Valid(data) {
			c.metrics.ChunkDropped(len(data))
			c.logger.Debug("dropped %d bytes of non-UTF-8 data", len(data))
			continue
		}

		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.metrics.MessageReceived(len(data))
		c.events.emit(Event{Kind: EventDataReceived, Text: string(data)})
		c.mu.Unlock()
	}
}

// receiveEnded handles a terminal receive.  A local close is silent;
// a peer close or read error disconnects the session unless
// ManualDisconnect is set.
func (c *Controller) receiveEnded(gen uint64, err error) {
	if ncerr.Is(err, ncerr.ErrNotConnected) {
		return
	}

	c.mu.Lock()
	if c.gen != gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.metrics.RecordError(err.Error())
	if c.manualDisconnect {
		c.mu.Unlock()
		c.logger.Verbose("receive loop stopped: %v", err)
		return
	}
	c.state = StateDisconnected
	c.gen++
	c.loopDone, c.loopDrained = nil, nil
	c.metrics.ConnectionClosed()
	c.events.emit(Event{Kind: EventDisconnected, Text: err.Error(), Err: err})
	c.mu.Unlock()

	c.transport.Close()
	c.logger.Verbose("connection lost: %v", err)
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}
