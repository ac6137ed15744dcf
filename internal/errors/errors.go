// Package errors provides the failure taxonomy for tcpchat.
//
// Every failure the session core can produce is one of the structured
// types below.  They carry the operation kind and peer address so the
// front end can render a descriptive message without string matching,
// and they unwrap to the underlying net/syscall error for callers that
// need it.
package errors

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrInvalidEndpoint  = errors.New("invalid endpoint")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrTimeout          = errors.New("operation timed out")
	ErrPeerClosed       = errors.New("connection closed by peer")
	ErrAuthFailed       = errors.New("authentication failed")
)

// ── Endpoint ─────────────────────────────────────────────────────────

// EndpointError reports a host or port that cannot be used for a
// connection attempt.  It matches [ErrInvalidEndpoint] with errors.Is.
type EndpointError struct {
	Field   string      // "host" or "port"
	Value   interface{} // the rejected value (nil if missing)
	Message string
	Hint    string
}

func (e *EndpointError) Error() string {
	msg := "invalid endpoint: " + e.Field
	if e.Value != nil {
		msg += fmt.Sprintf(" %q", fmt.Sprint(e.Value))
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += " (hint: " + e.Hint + ")"
	}
	return msg
}

func (e *EndpointError) Is(target error) bool { return target == ErrInvalidEndpoint }

// ── Connect ──────────────────────────────────────────────────────────

// ConnectKind classifies why a connection attempt failed.
type ConnectKind int

const (
	ConnectOther ConnectKind = iota
	ConnectTimedOut
	ConnectRefused
	ConnectUnreachable
)

func (k ConnectKind) String() string {
	switch k {
	case ConnectTimedOut:
		return "timed out"
	case ConnectRefused:
		return "connection refused"
	case ConnectUnreachable:
		return "unreachable"
	default:
		return "failed"
	}
}

// ConnectError is returned by the transport when a dial fails.
type ConnectError struct {
	Kind ConnectKind
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %s: %v", e.Addr, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTimeout) match a timed-out connect.
func (e *ConnectError) Is(target error) bool {
	return target == ErrTimeout && e.Kind == ConnectTimedOut
}

// ── Send ─────────────────────────────────────────────────────────────

// SendKind classifies a write failure.
type SendKind int

const (
	SendOther SendKind = iota
	SendNotConnected
	SendBrokenPipe
)

func (k SendKind) String() string {
	switch k {
	case SendNotConnected:
		return "not connected"
	case SendBrokenPipe:
		return "broken pipe"
	default:
		return "failed"
	}
}

// SendError is returned when bytes could not be written to the peer.
type SendError struct {
	Kind SendKind
	Addr string
	Err  error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return "send: " + e.Kind.String()
	}
	if e.Addr == "" {
		return fmt.Sprintf("send: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("send %s: %s: %v", e.Addr, e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func (e *SendError) Is(target error) bool {
	return target == ErrNotConnected && e.Kind == SendNotConnected
}

// ── Receive ──────────────────────────────────────────────────────────

// ReceiveKind classifies why a read ended the connection.  A plain poll
// timeout is not a ReceiveError at all.
type ReceiveKind int

const (
	ReceivePeerClosed ReceiveKind = iota
	ReceiveIOError
)

func (k ReceiveKind) String() string {
	if k == ReceivePeerClosed {
		return "peer closed"
	}
	return "i/o error"
}

// ReceiveError marks the terminal end of the inbound stream.
type ReceiveError struct {
	Kind ReceiveKind
	Addr string
	Err  error
}

func (e *ReceiveError) Error() string {
	return fmt.Sprintf("receive %s: %s: %v", e.Addr, e.Kind, e.Err)
}

func (e *ReceiveError) Unwrap() error { return e.Err }

func (e *ReceiveError) Is(target error) bool {
	return target == ErrPeerClosed && e.Kind == ReceivePeerClosed
}

// ── SSH / config ─────────────────────────────────────────────────────

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "hostkey", "channel"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrAuthFailed) match credential failures,
// including a handshake the server rejected for lack of a usable key.
func (e *SSHError) Is(target error) bool {
	if target != ErrAuthFailed {
		return false
	}
	return e.Op == "auth" ||
		(e.Op == "handshake" && e.Err != nil && strings.Contains(e.Err.Error(), "unable to authenticate"))
}

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ClassifyConnect wraps a dial failure in a ConnectError.
func ClassifyConnect(addr string, err error) *ConnectError {
	return &ConnectError{Kind: connectKind(err), Addr: addr, Err: err}
}

// ClassifySend wraps a write failure in a SendError.
func ClassifySend(addr string, err error) *SendError {
	kind := SendOther
	switch {
	case errors.Is(err, ErrNotConnected):
		kind = SendNotConnected
	case errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		kind = SendBrokenPipe
	}
	return &SendError{Kind: kind, Addr: addr, Err: err}
}

// ClassifyReceive wraps a terminal read failure in a ReceiveError.
// Callers must filter poll timeouts with [IsPollTimeout] first.
func ClassifyReceive(addr string, err error) *ReceiveError {
	kind := ReceiveIOError
	if errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET) {
		kind = ReceivePeerClosed
	}
	return &ReceiveError{Kind: kind, Addr: addr, Err: err}
}

// IsPollTimeout reports whether err is an expired read deadline, the
// routine outcome of polling a quiet connection.
func IsPollTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsLocalClose reports whether err came from using a connection this
// process already closed.
func IsLocalClose(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, ErrNotConnected)
}

// connectKind inspects standard library error types.
func connectKind(err error) ConnectKind {
	switch {
	case err == nil:
		return ConnectOther
	case errors.Is(err, ErrTimeout), errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, syscall.ETIMEDOUT):
		return ConnectTimedOut
	case errors.Is(err, syscall.ECONNREFUSED):
		return ConnectRefused
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return ConnectUnreachable
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ConnectTimedOut
		}
		return ConnectUnreachable
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ConnectTimedOut
	}
	return ConnectOther
}

// ── Re-exports for convenience ───────────────────────────────────────
//
// These allow callers to use tcpchat/internal/errors as a drop-in
// replacement for the standard library in common operations.

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
