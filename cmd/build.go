package cmd

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tcpchat/config"
	"tcpchat/internal/metrics"
	"tcpchat/internal/store"
	"tcpchat/internal/transport"
	"tcpchat/util"
)

// buildDialer returns the SSH jump-host dialer when -T is set and a
// plain TCP dialer otherwise.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(&transport.JumpHost{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   config.DefaultSSHTimeout,
		}, logger.Named("ssh"))
	}
	return &transport.TCPDialer{
		Timeout:   cfg.ConnectTimeout,
		LocalPort: cfg.LocalPort,
		NoDNS:     cfg.NoDNS,
	}
}

// buildStore opens the configured last-address store.  A store that
// cannot be opened only disables persistence, so it is logged and nil
// is returned.
func buildStore(ctx context.Context, cfg *config.Config, logger *util.Logger) store.Store {
	st, err := store.Open(ctx, store.Options{
		Backend:       cfg.StoreBackend,
		Path:          cfg.StorePath,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Warn("last address will not be remembered: %v", err)
		return nil
	}
	logger.Debug("using %s store", cfg.StoreBackend)
	return st
}

// serveMetrics exposes m on addr at /metrics (Prometheus) and /status
// (JSON snapshot).  It returns once the listener is bound.
func serveMetrics(addr string, m *metrics.Collector, logger *util.Logger) (*http.Server, net.Addr, error) {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg, m); err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(m.JSON())) //nolint:errcheck
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server: %v", err)
		}
	}()
	return srv, ln.Addr(), nil
}
