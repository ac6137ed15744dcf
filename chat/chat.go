// Package chat implements the line-oriented chat front end: it reads
// lines from stdin, turns them into session operations, and renders the
// session's events as transcript lines on stdout.
package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"tcpchat/config"
	"tcpchat/internal/metrics"
	"tcpchat/internal/session"
	"tcpchat/util"
)

// Chat drives one session.Controller from a terminal.
type Chat struct {
	Config  *config.Config
	Session *session.Controller
	Metrics *metrics.Collector
	Logger  *util.Logger

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	// Override in tests for deterministic I/O.
	Stdin  io.Reader
	Stdout io.Writer

	outMu sync.Mutex
	retry *reconnector
}

// New returns a ready-to-run Chat.
func New(cfg *config.Config, sess *session.Controller, m *metrics.Collector, logger *util.Logger) *Chat {
	return &Chat{Config: cfg, Session: sess, Metrics: m, Logger: logger.Named("chat")}
}

func (c *Chat) stdin() io.Reader {
	if c.Stdin != nil {
		return c.Stdin
	}
	return os.Stdin
}

func (c *Chat) stdout() io.Writer {
	if c.Stdout != nil {
		return c.Stdout
	}
	return os.Stdout
}

// Run connects to the configured (or last used) endpoint and serves
// the transcript until /quit, ctx cancellation, or end of input.  When
// stdin ends while connected, Run keeps printing what the peer sends
// until the peer closes, the same way a piped netcat does.
func (c *Chat) Run(ctx context.Context) error {
	events := make(chan session.Event, 64)
	stop := make(chan struct{})
	defer close(stop)
	unsubscribe := c.Session.Subscribe(session.ChanHandler(events, stop))
	defer unsubscribe()
	defer c.Session.Disconnect() //nolint:errcheck
	defer c.stopReconnect()

	lines := make(chan string)
	go readLines(c.stdin(), lines)

	host, port := c.Config.Host, c.Config.Port
	if host == "" && port == "" {
		var err error
		host, port, err = c.Session.LastEndpoint(ctx)
		if err != nil {
			c.Logger.Warn("could not read last endpoint: %v", err)
		}
	}
	if host != "" || port != "" {
		c.connect(ctx, host, port)
	} else {
		c.printf("Not connected. Use /connect <host> <port>.\n")
	}

	// peerGone stands in for the Disconnected event that a manual
	// disconnect session never emits.
	var peerGone <-chan struct{}

	for {
		select {
		case <-ctx.Done():
			return nil

		case line, ok := <-lines:
			if !ok {
				lines = nil
				if c.Session.State() != session.StateConnected && c.retry == nil {
					c.drain(events)
					return nil
				}
				if c.Config.ManualDisconnect {
					peerGone = c.Session.ReceiveDone()
				}
				c.Logger.Debug("stdin closed; waiting for the peer")
				continue
			}
			if quit := c.handleLine(ctx, line); quit {
				return nil
			}

		case <-peerGone:
			c.drain(events)
			return nil

		case err := <-c.reconnectResult():
			c.reconnectDone(err)
			if lines != nil {
				continue
			}
			if err != nil {
				c.drain(events)
				return nil
			}
			if c.Config.ManualDisconnect {
				peerGone = c.Session.ReceiveDone()
			}

		case e := <-events:
			c.render(e)
			if e.Kind != session.EventDisconnected {
				continue
			}
			if e.Err != nil && c.Config.Reconnect {
				c.reconnect(ctx)
				continue
			}
			if lines == nil {
				return nil
			}
		}
	}
}

// drain renders events that were already queued.
func (c *Chat) drain(events <-chan session.Event) {
	for {
		select {
		case e := <-events:
			c.render(e)
		default:
			return
		}
	}
}

func (c *Chat) connect(ctx context.Context, host, port string) {
	c.printf("Connecting to %s:%s...\n", host, port)
	if err := c.Session.Connect(ctx, host, port); err != nil {
		c.Logger.Debug("connect: %v", err)
	}
}

// printf writes to stdout.  Reconnect progress is printed from its own
// goroutine, so writes are serialized.
func (c *Chat) printf(format string, args ...interface{}) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.stdout(), format, args...)
}

// readLines forwards stdin line by line and closes out at EOF.
func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), config.MaxReadSize)
	for sc.Scan() {
		out <- sc.Text()
	}
}
