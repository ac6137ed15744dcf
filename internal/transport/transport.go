// Package transport provides the raw stream-socket layer of a chat
// session.  A [Dialer] decides how a connection is opened (direct TCP
// or through an SSH jump host); a [Socket] owns the single resulting
// connection and exposes connect/send/receive/close with timeouts.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer and an SSH-tunnelled dialer that routes traffic
// through an encrypted gateway.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}
