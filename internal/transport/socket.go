package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"tcpchat/internal/endpoint"
	ncerr "tcpchat/internal/errors"
)

// Socket owns at most one stream connection.  It is created unbound,
// bound by a successful [Socket.Connect], and unbound again by
// [Socket.Close] or by a terminal [Socket.Receive].
//
// All methods are safe for concurrent use.  Sends are serialized
// against each other; Close may run concurrently with a pending
// Receive, which then returns immediately.
type Socket struct {
	dialer Dialer

	mu   sync.Mutex // guards conn, addr
	conn net.Conn
	addr string

	wmu sync.Mutex // serializes writes
	rmu sync.Mutex // serializes reads
}

// NewSocket returns an unbound socket that dials through d.  A nil
// dialer means plain TCP.
func NewSocket(d Dialer) *Socket {
	if d == nil {
		d = &TCPDialer{}
	}
	return &Socket{dialer: d}
}

// Connect dials ep and binds the socket to the new connection.  It
// never blocks longer than timeout.  Failures are *errors.ConnectError
// and leave the socket unbound; a bound socket returns
// errors.ErrAlreadyConnected.
func (s *Socket) Connect(ctx context.Context, ep endpoint.Endpoint, timeout time.Duration) error {
	s.mu.Lock()
	bound := s.conn != nil
	s.mu.Unlock()
	if bound {
		return ncerr.ErrAlreadyConnected
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	addr := ep.Address()
	conn, err := s.dialer.Dial(ctx, "tcp", addr)
	if err != nil {
		return ncerr.ClassifyConnect(addr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		// Lost a race with another Connect.
		conn.Close()
		return ncerr.ErrAlreadyConnected
	}
	s.conn = conn
	s.addr = addr
	return nil
}

// Send writes all of p, blocking until the OS accepts the bytes or the
// write fails.  Failures are *errors.SendError.
func (s *Socket) Send(p []byte) error {
	conn, addr := s.current()
	if conn == nil {
		return &ncerr.SendError{Kind: ncerr.SendNotConnected}
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	for len(p) > 0 {
		n, err := conn.Write(p)
		if err != nil {
			if ncerr.IsLocalClose(err) {
				// Close ran while the write was in flight.
				return &ncerr.SendError{Kind: ncerr.SendNotConnected, Addr: addr, Err: err}
			}
			return ncerr.ClassifySend(addr, err)
		}
		p = p[n:]
	}
	return nil
}

// Receive waits up to timeout for at least one byte and returns at
// most maxBytes.
//
//   - (data, nil): bytes arrived.
//   - (nil, nil): the poll timeout expired on a quiet connection.
//   - (nil, *errors.ReceiveError): the peer closed or the read failed;
//     the socket is now unbound.
//   - (nil, errors.ErrNotConnected): the socket is unbound, typically
//     because Close was called.
func (s *Socket) Receive(maxBytes int, timeout time.Duration) ([]byte, error) {
	conn, addr := s.current()
	if conn == nil {
		return nil, ncerr.ErrNotConnected
	}
	if maxBytes <= 0 {
		maxBytes = 1
	}

	s.rmu.Lock()
	defer s.rmu.Unlock()

	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, s.terminate(conn, addr, err)
		}
	}

	buf := make([]byte, maxBytes)
	n, err := conn.Read(buf)
	if n > 0 {
		// Data wins; a trailing error resurfaces on the next poll.
		return buf[:n], nil
	}
	switch {
	case err == nil:
		return nil, nil
	case ncerr.IsPollTimeout(err):
		return nil, nil
	case !s.owns(conn):
		// Closed underneath us by Close.
		return nil, ncerr.ErrNotConnected
	default:
		return nil, s.terminate(conn, addr, err)
	}
}

// Close releases the connection.  Closing an unbound socket is a
// no-op.
func (s *Socket) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !ncerr.IsLocalClose(err) {
		return err
	}
	return nil
}

// Bound reports whether the socket currently holds a connection.
func (s *Socket) Bound() bool {
	conn, _ := s.current()
	return conn != nil
}

// RemoteAddr returns the address of the bound peer, or "" if unbound.
func (s *Socket) RemoteAddr() string {
	conn, _ := s.current()
	if conn == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}

// ── internal ─────────────────────────────────────────────────────────

func (s *Socket) current() (net.Conn, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, s.addr
}

func (s *Socket) owns(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == conn
}

// terminate unbinds conn after a fatal read and returns the classified
// error.
func (s *Socket) terminate(conn net.Conn, addr string, err error) error {
	if err == nil {
		err = io.EOF
	}
	re := ncerr.ClassifyReceive(addr, err)

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()

	conn.Close()
	return re
}
