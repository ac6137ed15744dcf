package chat

import (
	"context"
	"strings"

	"tcpchat/internal/session"
)

const helpText = `Commands:
  /connect [host port]   connect (reuses the last address without arguments)
  /disconnect            close the connection
  /status                show connection state and counters
  /clear                 clear the screen
  /quit                  disconnect and exit
  //text                 send "/text" literally
`

// handleLine executes one line of input.  It reports whether the chat
// should exit.
func (c *Chat) handleLine(ctx context.Context, line string) (quit bool) {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") || strings.HasPrefix(line, "//") {
		if strings.HasPrefix(line, "//") {
			line = line[1:]
		}
		c.Session.Send(line) //nolint:errcheck // reported as an event
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/disconnect":
		c.stopReconnect()
		if err := c.Session.Disconnect(); err != nil {
			c.Logger.Warn("disconnect: %v", err)
		}

	case "/connect":
		c.stopReconnect()
		c.connectCommand(ctx, fields[1:])

	case "/status":
		c.status()

	case "/clear":
		c.printf("\033[H\033[2J")

	case "/help":
		c.printf("%s", helpText)

	default:
		c.printf("Unknown command %s (try /help)\n", fields[0])
	}
	return false
}

func (c *Chat) connectCommand(ctx context.Context, args []string) {
	var host, port string
	switch len(args) {
	case 2:
		host, port = args[0], args[1]
	case 0:
		if ep := c.Session.Endpoint(); ep.Host != "" {
			host, port = ep.Host, ep.PortText()
			break
		}
		var err error
		host, port, err = c.Session.LastEndpoint(ctx)
		if err != nil || host == "" {
			c.printf("Usage: /connect <host> <port>\n")
			return
		}
	default:
		c.printf("Usage: /connect <host> <port>\n")
		return
	}

	if c.Session.State() == session.StateConnected {
		if err := c.Session.Disconnect(); err != nil {
			c.Logger.Warn("disconnect: %v", err)
		}
	}
	c.connect(ctx, host, port)
}

func (c *Chat) status() {
	state := c.Session.State()
	if ep := c.Session.Endpoint(); ep.Host != "" && state != session.StateIdle {
		c.printf("State: %s (%s)\n", state, ep)
	} else {
		c.printf("State: %s\n", state)
	}
	s := c.Metrics.Snapshot()
	c.printf("Sent: %d messages, %d bytes\n", s.MessagesOut, s.BytesOut)
	c.printf("Received: %d chunks, %d bytes (%d dropped)\n", s.MessagesIn, s.BytesIn, s.DroppedChunks)
	if s.ConnectedFor != "" {
		c.printf("Connected for: %s\n", s.ConnectedFor)
	}
	if s.LastErrorMessage != "" {
		c.printf("Last error: %s\n", s.LastErrorMessage)
	}
}
