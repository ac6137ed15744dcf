package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"tcpchat/internal/endpoint"
	ncerr "tcpchat/internal/errors"
)

// listen starts a loopback listener and hands each accepted conn to
// handle.  The listener is closed at test end.
func listen(t *testing.T, handle func(net.Conn)) endpoint.Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handle(conn)
		}
	}()
	return endpoint.Endpoint{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
}

func echo(conn net.Conn) {
	defer conn.Close()
	io.Copy(conn, conn) //nolint:errcheck
}

func TestSocket_SendReceiveEcho(t *testing.T) {
	ep := listen(t, echo)
	s := NewSocket(&TCPDialer{})
	defer s.Close()

	if err := s.Connect(context.Background(), ep, 2*time.Second); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !s.Bound() {
		t.Fatal("socket should be bound after connect")
	}
	if err := s.Send([]byte("ping")); err != nil {
		t.Fatalf("send: %v", err)
	}

	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 4 && time.Now().Before(deadline) {
		data, err := s.Receive(10240, 100*time.Millisecond)
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		got = append(got, data...)
	}
	if string(got) != "ping" {
		t.Errorf("got %q, want %q", got, "ping")
	}
}

func TestSocket_ReceivePollTimeout(t *testing.T) {
	ep := listen(t, func(conn net.Conn) {
		time.Sleep(2 * time.Second)
		conn.Close()
	})
	s := NewSocket(nil)
	defer s.Close()

	if err := s.Connect(context.Background(), ep, time.Second); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		start := time.Now()
		data, err := s.Receive(1024, 50*time.Millisecond)
		if data != nil || err != nil {
			t.Fatalf("poll %d: got (%q, %v), want (nil, nil)", i, data, err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Fatalf("poll %d blocked %v", i, elapsed)
		}
	}
	if !s.Bound() {
		t.Error("poll timeouts must not unbind the socket")
	}
}

func TestSocket_ReceiveRespectsMaxBytes(t *testing.T) {
	ep := listen(t, func(conn net.Conn) {
		defer conn.Close()
		conn.Write(bytes.Repeat([]byte("x"), 64)) //nolint:errcheck
		time.Sleep(time.Second)
	})
	s := NewSocket(nil)
	defer s.Close()

	if err := s.Connect(context.Background(), ep, time.Second); err != nil {
		t.Fatal(err)
	}

	var data []byte
	for data == nil {
		var err error
		data, err = s.Receive(16, 100*time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
	}
	if len(data) > 16 {
		t.Errorf("got %d bytes, want at most 16", len(data))
	}
}

func TestSocket_PeerClose(t *testing.T) {
	ep := listen(t, func(conn net.Conn) { conn.Close() })
	s := NewSocket(nil)

	if err := s.Connect(context.Background(), ep, time.Second); err != nil {
		t.Fatal(err)
	}

	var err error
	for i := 0; i < 50 && err == nil; i++ {
		_, err = s.Receive(1024, 100*time.Millisecond)
	}
	if !ncerr.Is(err, ncerr.ErrPeerClosed) {
		t.Fatalf("expected peer-closed, got %v", err)
	}
	if s.Bound() {
		t.Error("socket should be unbound after peer close")
	}
	if err := s.Close(); err != nil {
		t.Errorf("close after peer close: %v", err)
	}
}

func TestSocket_CloseUnblocksReceive(t *testing.T) {
	ep := listen(t, func(conn net.Conn) {
		time.Sleep(3 * time.Second)
		conn.Close()
	})
	s := NewSocket(nil)
	if err := s.Connect(context.Background(), ep, time.Second); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.Receive(1024, 2*time.Second)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if !ncerr.Is(err, ncerr.ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("receive did not return after close")
	}
}

func TestSocket_UnboundOperations(t *testing.T) {
	s := NewSocket(nil)

	err := s.Send([]byte("x"))
	var se *ncerr.SendError
	if !ncerr.As(err, &se) || se.Kind != ncerr.SendNotConnected {
		t.Errorf("send on unbound socket: %v", err)
	}
	if _, err := s.Receive(10, time.Millisecond); !ncerr.Is(err, ncerr.ErrNotConnected) {
		t.Errorf("receive on unbound socket: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("close on unbound socket: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if s.RemoteAddr() != "" {
		t.Error("unbound socket should have no remote address")
	}
}

func TestSocket_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := NewSocket(nil)
	err = s.Connect(context.Background(), endpoint.Endpoint{Host: "127.0.0.1", Port: port}, time.Second)

	var ce *ncerr.ConnectError
	if !ncerr.As(err, &ce) {
		t.Fatalf("expected *ConnectError, got %T %v", err, err)
	}
	if ce.Kind != ncerr.ConnectRefused {
		t.Errorf("kind = %v, want refused", ce.Kind)
	}
	if s.Bound() {
		t.Error("failed connect must leave the socket unbound")
	}
}

// blockingDialer never completes until ctx is done.
type blockingDialer struct{}

func (blockingDialer) Dial(ctx context.Context, _, _ string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (blockingDialer) Close() error { return nil }

func TestSocket_ConnectTimeout(t *testing.T) {
	s := NewSocket(blockingDialer{})

	start := time.Now()
	err := s.Connect(context.Background(), endpoint.Endpoint{Host: "10.255.255.1", Port: 9}, 100*time.Millisecond)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("connect blocked %v", elapsed)
	}
	if !ncerr.Is(err, ncerr.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if s.Bound() {
		t.Error("timed-out connect must leave the socket unbound")
	}
}

func TestSocket_ConnectTwice(t *testing.T) {
	ep := listen(t, echo)
	s := NewSocket(nil)
	defer s.Close()

	if err := s.Connect(context.Background(), ep, time.Second); err != nil {
		t.Fatal(err)
	}
	if err := s.Connect(context.Background(), ep, time.Second); !ncerr.Is(err, ncerr.ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestSocket_ReconnectAfterClose(t *testing.T) {
	ep := listen(t, echo)
	s := NewSocket(nil)
	defer s.Close()

	for i := 0; i < 2; i++ {
		if err := s.Connect(context.Background(), ep, time.Second); err != nil {
			t.Fatalf("connect %d: %v", i, err)
		}
		if s.RemoteAddr() == "" {
			t.Error("bound socket should report a remote address")
		}
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
	}
}
