package chat

import (
	"strings"

	"tcpchat/internal/session"
)

// render writes the transcript line for e.
func (c *Chat) render(e session.Event) {
	switch e.Kind {
	case session.EventConnected:
		c.printf("Connected to %s\n", e.Text)
	case session.EventConnectFailed:
		c.printf("Connection failed: %s\n", e.Text)
	case session.EventDisconnected:
		if e.Text == "" {
			c.printf("Disconnected\n")
		} else {
			c.printf("Disconnected: %s\n", e.Text)
		}
	case session.EventMessageSent:
		c.printf("You: %s\n", e.Text)
	case session.EventSendFailed:
		c.printf("Send failed: %s\n", e.Text)
	case session.EventDataReceived:
		c.printf("Server: %s\n", strings.TrimRight(e.Text, "\r\n"))
	}
}
