package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "tcpchat/internal/errors"
	"tcpchat/util"
)

// JumpHost describes the SSH gateway a chat connection is routed
// through when the peer is only reachable from inside a network.
type JumpHost struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration
}

// Addr returns "host:port" for the gateway.
func (j *JumpHost) Addr() string {
	return net.JoinHostPort(j.Host, strconv.Itoa(j.Port))
}

// SSHDialer opens chat connections as direct-tcpip channels on an SSH
// client.  The SSH connection is established lazily by the first Dial
// and re-established if the gateway dropped it.
type SSHDialer struct {
	jump   *JumpHost
	logger *util.Logger
	prompt Prompter

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHDialer creates a dialer that forwards connections through the
// jump host.  Nothing is dialed until the first Dial.
func NewSSHDialer(jump *JumpHost, logger *util.Logger) *SSHDialer {
	if jump.Port == 0 {
		jump.Port = 22
	}
	if jump.ConnTimeout == 0 {
		jump.ConnTimeout = 30 * time.Second
	}
	return &SSHDialer{jump: jump, logger: logger, prompt: TerminalPrompter{}}
}

// SetPrompter overrides how passwords and passphrases are read.
func (d *SSHDialer) SetPrompter(p Prompter) { d.prompt = p }

// Dial connects to address through the SSH gateway.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	client, err := d.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("ssh: opening %s channel to %s", network, address)

	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := client.Dial(network, address)
		done <- result{conn, err}
	}()

	// ssh.Client.Dial takes no context; abandon it on cancellation and
	// close whatever it eventually returns.
	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("ssh channel to %s: %w", address, r.err)
		}
		return r.conn, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Close tears down the SSH connection.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

// ensureClient returns the live SSH client, dialing the gateway if
// needed.
func (d *SSHDialer) ensureClient(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return d.client, nil
	}

	auth, err := AuthMethods(d.jump, d.prompt)
	if err != nil {
		return nil, ncerr.WrapSSH("auth", d.jump.Host, d.jump.Port, err)
	}
	hkCallback, err := HostKeyCallback(d.jump)
	if err != nil {
		return nil, ncerr.WrapSSH("hostkey", d.jump.Host, d.jump.Port, err)
	}

	addr := d.jump.Addr()
	d.logger.Verbose("establishing SSH tunnel to %s@%s", d.jump.User, addr)

	var nd net.Dialer
	tcpConn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ncerr.ClassifyConnect(addr, err)
	}

	cfg := &ssh.ClientConfig{
		User:            d.jump.User,
		Auth:            auth,
		HostKeyCallback: hkCallback,
		Timeout:         d.jump.ConnTimeout,
	}
	sshConn, chans, reqs, err := d.handshake(ctx, tcpConn, addr, cfg)
	if err != nil {
		tcpConn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ncerr.WrapSSH("handshake", d.jump.Host, d.jump.Port, err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	d.client = client
	d.logger.Verbose("SSH tunnel established")

	go d.watch(client)
	return client, nil
}

// handshake runs the SSH handshake on conn, bounded by ConnTimeout and
// the ctx deadline.  Cancelling ctx aborts it by closing conn.
func (d *SSHDialer) handshake(ctx context.Context, conn net.Conn, addr string, cfg *ssh.ClientConfig) (ssh.Conn, <-chan ssh.NewChannel, <-chan *ssh.Request, error) {
	deadline := time.Now().Add(d.jump.ConnTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, nil, nil, err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if !stop() {
		// ctx fired and conn is closed.
		if err == nil {
			sshConn.Close()
		}
		return nil, nil, nil, ctx.Err()
	}
	if err != nil {
		return nil, nil, nil, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		sshConn.Close()
		return nil, nil, nil, err
	}
	return sshConn, chans, reqs, nil
}

// watch forgets client once the gateway connection ends so the next
// Dial reconnects.
func (d *SSHDialer) watch(client *ssh.Client) {
	err := client.Wait()

	d.mu.Lock()
	if d.client == client {
		d.client = nil
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Debug("SSH tunnel closed: %v", err)
	} else {
		d.logger.Debug("SSH tunnel closed")
	}
}
