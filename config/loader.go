package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the TCPCHAT_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// syntax ("250ms") or a bare number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	// Connection
	if v := os.Getenv("TCPCHAT_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("TCPCHAT_PORT"); v != "" {
		cfg.Port = v
	}
	if v := envInt("TCPCHAT_LOCAL_PORT"); v > 0 {
		cfg.LocalPort = v
	}
	if envBool("TCPCHAT_NO_DNS") {
		cfg.NoDNS = true
	}
	if v := envDuration("TCPCHAT_TIMEOUT"); v > 0 {
		cfg.ConnectTimeout = v
	}
	if v := envDuration("TCPCHAT_POLL_TIMEOUT"); v > 0 {
		cfg.PollTimeout = v
	}
	if v := envInt("TCPCHAT_READ_SIZE"); v > 0 {
		cfg.ReadSize = v
	}
	if envBool("TCPCHAT_MANUAL_DISCONNECT") {
		cfg.ManualDisconnect = true
	}
	if envBool("TCPCHAT_RECONNECT") {
		cfg.Reconnect = true
	}
	if v := envInt("TCPCHAT_RECONNECT_MAX"); v > 0 {
		cfg.ReconnectMax = v
	}

	// Persistence
	if v := os.Getenv("TCPCHAT_STORE"); v != "" {
		cfg.StoreBackend = strings.ToLower(v)
	}
	if v := os.Getenv("TCPCHAT_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("TCPCHAT_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("TCPCHAT_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := envInt("TCPCHAT_REDIS_DB"); v > 0 {
		cfg.RedisDB = v
	}

	// SSH tunnel
	if v := os.Getenv("TCPCHAT_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("TCPCHAT_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if envBool("TCPCHAT_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("TCPCHAT_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("TCPCHAT_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("TCPCHAT_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Output
	if v := os.Getenv("TCPCHAT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := envInt("TCPCHAT_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if sec, err := strconv.Atoi(v); err == nil {
		return time.Duration(sec) * time.Second
	}
	return 0
}
