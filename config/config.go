// Package config defines the runtime configuration for tcpchat and
// provides helpers for parsing tunnel specifications.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	ncerr "tcpchat/internal/errors"
	"tcpchat/internal/store"
)

// MaxReadSize caps --read-size.
const MaxReadSize = 1 << 20

// Config holds every tuneable for a single tcpchat session.
type Config struct {
	// ── Connection ───────────────────────────────────────────────────
	Host             string
	Port             string // raw text; validated when connecting
	LocalPort        int    // -p: local bind port
	NoDNS            bool
	ConnectTimeout   time.Duration
	PollTimeout      time.Duration
	ReadSize         int
	ManualDisconnect bool
	Reconnect        bool
	ReconnectMax     int

	// ── Persistence ──────────────────────────────────────────────────
	StoreBackend  string
	StorePath     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool // true → prompt interactively
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	// ── Output ───────────────────────────────────────────────────────
	MetricsAddr string
	Verbose     int
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		ConnectTimeout: DefaultConnectTimeout,
		PollTimeout:    DefaultPollTimeout,
		ReadSize:       DefaultReadSize,
		ReconnectMax:   DefaultMaxReconnectAttempts,
		StoreBackend:   DefaultStoreBackend,
		RedisAddr:      DefaultRedisAddr,
	}
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ApplyTunnelSpec parses TunnelSpec into the Tunnel* fields.  An empty
// spec disables the tunnel.
func (c *Config) ApplyTunnelSpec() error {
	if c.TunnelSpec == "" {
		c.TunnelEnabled = false
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
	if err != nil {
		return &ncerr.ConfigError{
			Field:   "tunnel",
			Value:   c.TunnelSpec,
			Message: err.Error(),
			Hint:    "use -T user@bastion.example.com[:port]",
		}
	}
	c.TunnelEnabled = true
	c.TunnelUser = user
	c.TunnelHost = host
	c.TunnelPort = port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
// Host and port themselves are validated by the session when it
// connects, so an invalid pair can be corrected interactively.
func (c *Config) Validate() error {
	if (c.Host == "") != (c.Port == "") {
		return &ncerr.ConfigError{
			Field:   "port",
			Message: "host and port must be given together",
			Hint:    "run `tcpchat <host> <port>`, or neither to reuse the last address",
		}
	}

	if c.ConnectTimeout < 0 {
		return &ncerr.ConfigError{Field: "timeout", Value: c.ConnectTimeout, Message: "must not be negative"}
	}
	if c.PollTimeout <= 0 {
		return &ncerr.ConfigError{
			Field:   "poll-timeout",
			Value:   c.PollTimeout,
			Message: "must be positive",
			Hint:    fmt.Sprintf("the default is %s", DefaultPollTimeout),
		}
	}
	if c.ReadSize < 1 || c.ReadSize > MaxReadSize {
		return &ncerr.ConfigError{
			Field:   "read-size",
			Value:   c.ReadSize,
			Message: fmt.Sprintf("must be between 1 and %d", MaxReadSize),
		}
	}
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		return &ncerr.ConfigError{Field: "local-port", Value: c.LocalPort, Message: "out of range 0-65535"}
	}

	if c.Reconnect && c.ManualDisconnect {
		return &ncerr.ConfigError{
			Field:   "reconnect",
			Message: "cannot be combined with --manual-disconnect",
			Hint:    "reconnect is triggered by the session noticing the peer went away",
		}
	}
	if c.ReconnectMax < 0 {
		return &ncerr.ConfigError{Field: "reconnect-max", Value: c.ReconnectMax, Message: "must not be negative"}
	}

	switch c.StoreBackend {
	case store.BackendMemory, store.BackendFile, store.BackendSQLite, store.BackendRedis:
	default:
		return &ncerr.ConfigError{
			Field:   "store",
			Value:   c.StoreBackend,
			Message: "unknown backend",
			Hint:    "choose one of memory, file, sqlite, redis",
		}
	}
	if c.StoreBackend == store.BackendRedis && c.RedisAddr == "" {
		return &ncerr.ConfigError{
			Field:   "redis-addr",
			Message: "required with --store=redis",
			Hint:    "e.g. --redis-addr " + DefaultRedisAddr,
		}
	}
	if c.RedisDB < 0 {
		return &ncerr.ConfigError{Field: "redis-db", Value: c.RedisDB, Message: "must not be negative"}
	}

	if c.TunnelEnabled {
		if c.TunnelHost == "" {
			return &ncerr.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
		}
		if c.LocalPort != 0 {
			return &ncerr.ConfigError{
				Field:   "local-port",
				Value:   c.LocalPort,
				Message: "cannot bind a local port through an SSH tunnel",
				Hint:    "the source address is chosen by the jump host",
			}
		}
	}

	return nil
}
