package config

import (
	"time"

	"tcpchat/internal/store"
)

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, environment variable loading, and the session
// controller.

const (
	// DefaultConnectTimeout bounds a single connect attempt.
	DefaultConnectTimeout = 5 * time.Second

	// DefaultPollTimeout is how long one receive poll waits for data
	// before the loop checks whether it should stop.
	DefaultPollTimeout = 100 * time.Millisecond

	// DefaultReadSize is the largest chunk a single receive returns.
	DefaultReadSize = 10240

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultSSHTimeout bounds the SSH handshake with a jump host.
	DefaultSSHTimeout = 30 * time.Second

	// DefaultStoreBackend persists the last endpoint as a JSON file.
	DefaultStoreBackend = store.BackendFile

	// DefaultRedisAddr is used when the redis store is selected without
	// an explicit address.
	DefaultRedisAddr = "127.0.0.1:6379"

	// DefaultMaxReconnectAttempts is how many times --reconnect retries
	// after the peer drops the connection.
	DefaultMaxReconnectAttempts = 5

	// DefaultReconnectBackoff is the initial delay between reconnect
	// attempts; it doubles up to DefaultMaxReconnectBackoff.
	DefaultReconnectBackoff = 500 * time.Millisecond

	// DefaultMaxReconnectBackoff caps the exponential backoff between
	// reconnect attempts.
	DefaultMaxReconnectBackoff = 30 * time.Second
)
