// Package cmd wires up the CLI flags and starts the chat front end.
package cmd

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"tcpchat/chat"
	"tcpchat/config"
	ncerr "tcpchat/internal/errors"
	"tcpchat/internal/metrics"
	"tcpchat/internal/session"
	"tcpchat/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X tcpchat/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs an interactive chat session.
func Execute(ctx context.Context, args []string) error {
	cfg := config.Default()
	config.LoadFromEnv(cfg)
	envVerbose := cfg.Verbose

	fs := flag.NewFlagSet("tcpchat", flag.ContinueOnError)

	// ── connection ───────────────────────────────────────────────
	fs.IntVarP(&cfg.LocalPort, "local-port", "p", cfg.LocalPort, "Local source port (0 = any)")
	fs.BoolVarP(&cfg.NoDNS, "no-dns", "n", cfg.NoDNS, "Numeric-only, no DNS resolution")
	fs.DurationVarP(&cfg.ConnectTimeout, "timeout", "w", cfg.ConnectTimeout, "Connect timeout")
	fs.DurationVar(&cfg.PollTimeout, "poll-timeout", cfg.PollTimeout, "Receive poll interval")
	fs.IntVar(&cfg.ReadSize, "read-size", cfg.ReadSize, "Largest chunk read at once")
	fs.BoolVar(&cfg.ManualDisconnect, "manual-disconnect", cfg.ManualDisconnect,
		"Stay connected after the peer closes until /disconnect")
	fs.BoolVarP(&cfg.Reconnect, "reconnect", "r", cfg.Reconnect, "Reconnect when the peer drops the connection")
	fs.IntVar(&cfg.ReconnectMax, "reconnect-max", cfg.ReconnectMax, "Reconnect attempts (0 = unlimited)")

	// ── persistence ──────────────────────────────────────────────
	fs.StringVar(&cfg.StoreBackend, "store", cfg.StoreBackend, "Last-address store: memory, file, sqlite, redis")
	fs.StringVar(&cfg.StorePath, "store-path", cfg.StorePath, "File or database path for the store")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for --store=redis")
	fs.StringVar(&cfg.RedisPassword, "redis-password", cfg.RedisPassword, "Redis password")
	fs.IntVar(&cfg.RedisDB, "redis-db", cfg.RedisDB, "Redis database number")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&cfg.TunnelSpec, "tunnel", "T", cfg.TunnelSpec, "Connect through SSH jump host [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")

	// ── output ───────────────────────────────────────────────────
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address")
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")

	var showVersion, showHelp, dryRun bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.BoolVar(&dryRun, "dry-run", false, "Validate the configuration and exit")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !fs.Changed("verbose") {
		cfg.Verbose = envVerbose
	}

	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("tcpchat %s\n", version)
		return nil
	}

	// ── positional arguments ─────────────────────────────────────
	if err := parsePositional(cfg, fs.Args()); err != nil {
		return err
	}

	// ── tunnel spec ──────────────────────────────────────────────
	if err := cfg.ApplyTunnelSpec(); err != nil {
		return err
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Validate(); err != nil {
		return err
	}
	if dryRun {
		fmt.Println("configuration OK")
		return nil
	}

	// ── build components ─────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	m := metrics.New()

	st := buildStore(ctx, cfg, logger)
	if st != nil {
		defer st.Close()
	}

	if cfg.MetricsAddr != "" {
		srv, addr, err := serveMetrics(cfg.MetricsAddr, m, logger)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer srv.Close()
		logger.Verbose("serving metrics on http://%s/metrics", addr)
	}

	dialer := buildDialer(cfg, logger)
	defer dialer.Close()

	sess := session.New(session.Options{
		Dialer:           dialer,
		Store:            st,
		Logger:           logger,
		Metrics:          m,
		ConnectTimeout:   cfg.ConnectTimeout,
		PollTimeout:      cfg.PollTimeout,
		ReadSize:         cfg.ReadSize,
		ManualDisconnect: cfg.ManualDisconnect,
	})
	defer sess.Close()

	return chat.New(cfg, sess, m, logger).Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

// parsePositional accepts "<host> <port>" or nothing (reuse the last
// address).  Host and port are validated when the session connects.
func parsePositional(cfg *config.Config, remaining []string) error {
	switch len(remaining) {
	case 0:
		return nil
	case 2:
		cfg.Host = remaining[0]
		cfg.Port = remaining[1]
		return nil
	case 1:
		return &ncerr.ConfigError{
			Field:   "port",
			Message: "port required",
			Hint:    "run `tcpchat <host> <port>`",
		}
	default:
		return fmt.Errorf("too many arguments (use --help for usage)")
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `tcpchat – Line-oriented TCP chat client v%s

Connects to a TCP peer and exchanges lines of text.  Without
arguments, the last successfully used address is reused.

Usage:
  tcpchat [options] <host> <port>            Connect
  tcpchat [options]                          Reconnect to the last address
  tcpchat -T user@gateway <host> <port>      Connect through an SSH jump host

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Commands (while running):
  /connect [host port]  /disconnect  /status  /clear  /quit

Examples:
  tcpchat chat.example.com 9000              Chat with a server
  tcpchat -r --reconnect-max 0 10.0.0.5 7    Keep reconnecting
  tcpchat --store sqlite 127.0.0.1 9000      Remember the address in SQLite
  echo "hello" | tcpchat 127.0.0.1 9000      Send one line, print replies
`)
}
