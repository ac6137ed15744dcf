package session

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcpchat/internal/endpoint"
	ncerr "tcpchat/internal/errors"
	"tcpchat/internal/metrics"
	"tcpchat/internal/store"
)

// ── helpers ──────────────────────────────────────────────────────────

type chunk struct {
	data []byte
	err  error
}

// fakeTransport replays scripted receive results and records sends.
// Receive behaves like a real poll: it waits up to the timeout and
// returns (nil, nil) when nothing is scripted.
type fakeTransport struct {
	mu         sync.Mutex
	connectErr error
	sendErr    error
	connects   int
	sent       []string
	bound      bool
	closed     chan struct{}

	chunks chan chunk
}

func newFake() *fakeTransport {
	return &fakeTransport{chunks: make(chan chunk, 16)}
}

func (f *fakeTransport) Connect(_ context.Context, _ endpoint.Endpoint, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.bound = true
	f.closed = make(chan struct{})
	return nil
}

func (f *fakeTransport) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, string(p))
	return nil
}

func (f *fakeTransport) Receive(_ int, timeout time.Duration) ([]byte, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()

	select {
	case c := <-f.chunks:
		return c.data, c.err
	case <-closed:
		return nil, ncerr.ErrNotConnected
	case <-time.After(timeout):
		return nil, nil
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bound {
		f.bound = false
		close(f.closed)
	}
	return nil
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func newController(t *testing.T, opts Options) *Controller {
	t.Helper()
	if opts.PollTimeout == 0 {
		opts.PollTimeout = 20 * time.Millisecond
	}
	c := New(opts)
	t.Cleanup(func() { c.Close() })
	return c
}

func record(t *testing.T, c *Controller) <-chan Event {
	t.Helper()
	ch := make(chan Event, 64)
	cancel := c.Subscribe(ChanHandler(ch, nil))
	t.Cleanup(cancel)
	return ch
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func expectNone(t *testing.T, ch <-chan Event, wait time.Duration) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %v", e)
	case <-time.After(wait):
	}
}

func listen(t *testing.T, handle func(net.Conn)) endpoint.Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
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

// ── connect ──────────────────────────────────────────────────────────

func TestConnect_InvalidEndpoint(t *testing.T) {
	tests := []struct {
		name string
		host string
		port string
	}{
		{"empty host", "", "80"},
		{"empty port", "localhost", ""},
		{"non-numeric port", "localhost", "abc"},
		{"port zero", "localhost", "0"},
		{"port too large", "localhost", "70000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFake()
			c := newController(t, Options{Transport: fake})
			events := record(t, c)

			err := c.Connect(context.Background(), tt.host, tt.port)
			require.Error(t, err)
			assert.ErrorIs(t, err, ncerr.ErrInvalidEndpoint)
			assert.Equal(t, 0, fake.connectCount(), "transport must not be touched")
			assert.Equal(t, StateIdle, c.State())

			e := next(t, events)
			assert.Equal(t, EventConnectFailed, e.Kind)
			assert.NotEmpty(t, e.Text)
		})
	}
}

func TestConnect_Success(t *testing.T) {
	fake := newFake()
	m := metrics.New()
	c := newController(t, Options{Transport: fake, Metrics: m})
	events := record(t, c)

	require.NoError(t, c.Connect(context.Background(), "127.0.0.1", "9000"))
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, endpoint.Endpoint{Host: "127.0.0.1", Port: 9000}, c.Endpoint())

	e := next(t, events)
	assert.Equal(t, EventConnected, e.Kind)
	assert.Equal(t, "127.0.0.1:9000", e.Text)
	assert.True(t, m.Connected())

	require.NoError(t, c.Send("hello"))
	e = next(t, events)
	assert.Equal(t, EventMessageSent, e.Kind)
	assert.Equal(t, "hello", e.Text)
	assert.Equal(t, int64(5), m.TotalBytesOut())
}

func TestConnect_WhileConnected(t *testing.T) {
	fake := newFake()
	c := newController(t, Options{Transport: fake})

	require.NoError(t, c.Connect(context.Background(), "127.0.0.1", "9000"))
	err := c.Connect(context.Background(), "127.0.0.1", "9001")
	assert.ErrorIs(t, err, ncerr.ErrAlreadyConnected)
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, 9000, c.Endpoint().Port)
}

func TestConnect_Failure(t *testing.T) {
	fake := newFake()
	fake.connectErr = &ncerr.ConnectError{Kind: ncerr.ConnectRefused, Addr: "127.0.0.1:1"}
	m := metrics.New()
	c := newController(t, Options{Transport: fake, Metrics: m})
	events := record(t, c)

	err := c.Connect(context.Background(), "127.0.0.1", "1")
	require.Error(t, err)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, int64(1), m.ConnectFailures())

	e := next(t, events)
	assert.Equal(t, EventConnectFailed, e.Kind)
	assert.Contains(t, e.Text, "refused")

	// Disconnected is reconnectable.
	fake.mu.Lock()
	fake.connectErr = nil
	fake.mu.Unlock()
	require.NoError(t, c.Connect(context.Background(), "127.0.0.1", "1"))
	assert.Equal(t, StateConnected, c.State())
}

func TestConnect_RefusedOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c := newController(t, Options{})
	events := record(t, c)

	err = c.ConnectEndpoint(context.Background(), endpoint.Endpoint{Host: "127.0.0.1", Port: port})
	require.Error(t, err)
	var ce *ncerr.ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, EventConnectFailed, next(t, events).Kind)
}

func TestConnect_PersistsEndpoint(t *testing.T) {
	mem := store.NewMemory()
	c := newController(t, Options{Transport: newFake(), Store: mem})

	host, port, err := c.LastEndpoint(context.Background())
	require.NoError(t, err)
	assert.Empty(t, host)
	assert.Empty(t, port)

	require.NoError(t, c.Connect(context.Background(), " example.com ", "7000"))

	host, port, err = c.LastEndpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "example.com", host)
	assert.Equal(t, "7000", port)
}

// ── send ─────────────────────────────────────────────────────────────

func TestSend_NotConnected(t *testing.T) {
	fake := newFake()
	c := newController(t, Options{Transport: fake})
	events := record(t, c)

	check := func(want State) {
		t.Helper()
		err := c.Send("x")
		var se *ncerr.SendError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ncerr.SendNotConnected, se.Kind)
		assert.ErrorIs(t, err, ncerr.ErrNotConnected)
		assert.Equal(t, want, c.State())

		e := next(t, events)
		assert.Equal(t, EventSendFailed, e.Kind)
		assert.Equal(t, "send: not connected", e.Text)
	}

	check(StateIdle)

	require.NoError(t, c.Connect(context.Background(), "127.0.0.1", "9000"))
	require.NoError(t, c.Disconnect())
	assert.Equal(t, EventConnected, next(t, events).Kind)
	assert.Equal(t, EventDisconnected, next(t, events).Kind)

	check(StateDisconnected)
	assert.Empty(t, fake.sent)
}

func TestSend_TransportFailure(t *testing.T) {
	fake := newFake()
	fake.sendErr = &ncerr.SendError{Kind: ncerr.SendBrokenPipe, Addr: "x:1"}
	c := newController(t, Options{Transport: fake})
	events := record(t, c)

	require.NoError(t, c.Connect(context.Background(), "127.0.0.1", "9000"))
	next(t, events)

	err := c.Send("hi")
	require.Error(t, err)
	e := next(t, events)
	assert.Equal(t, EventSendFailed, e.Kind)
	assert.Equal(t, err, e.Err)
	assert.Equal(t, StateConnected, c.State())
}

// ── receive loop ─────────────────────────────────────────────────────

func TestReceive_PollTimeoutsAreSilent(t *testing.T) {
	m := metrics.New()
	c := newController(t, Options{Transport: newFake(), Metrics: m, PollTimeout: 10 * time.Millisecond})
	events := record(t, c)

	require.NoError(t, c.Connect(context.Background(), "127.0.0.1", "9000"))
	assert.Equal(t, EventConnected, next(t, events).Kind)

	expectNone(t, events, 100*time.Millisecond)
	assert.GreaterOrEqual(t, m.PollTimeouts(), int64(3))
	assert.Equal(t, StateConnected, c.State())
}

func TestReceive_InvalidUTF8Dropped(t *testing.T) {
	fake := newFake()
	m := metrics.New()
	c := newController(t, Options{Transport: fake, Metrics: m})
	events := record(t, c)

	require.NoError(t, c.Connect(context.Background(), "127.0.0.1", "9000"))
	next(t, events)

	fake.chunks <- chunk{data: []byte{0xff, 0xfe, 0xfd}}
	fake.chunks <- chunk{data: []byte("ok")}

	e := next(t, events)
	assert.Equal(t, EventDataReceived, e.Kind)
	assert.Equal(t, "ok", e.Text)
	assert.Equal(t, int64(1), m.DroppedChunks())
	assert.Equal(t, StateConnected, c.State())
}

func TestReceive_PeerClosedDisconnects(t *testing.T) {
	fake := newFake()
	c := newController(t, Options{Transport: fake})
	events := record(t, c)

	require.NoError(t, c.Connect(context.Background(), "127.0.0.1", "9000"))
	next(t, events)

	fake.chunks <- chunk{err: &ncerr.ReceiveError{Kind: ncerr.ReceivePeerClosed, Addr: "x:1", Err: io.EOF}}

	e := next(t, events)
	assert.Equal(t, EventDisconnected, e.Kind)
	assert.ErrorIs(t, e.Err, ncerr.ErrPeerClosed)
	assert.NotEmpty(t, e.Text)
	assert.Equal(t, StateDisconnected, c.State())

	// Explicit disconnect afterwards is a no-op.
	require.NoError(t, c.Disconnect())
	expectNone(t, events, 50*time.Millisecond)
}

func TestReceive_ManualDisconnectKeepsState(t *testing.T) {
	fake := newFake()
	c := newController(t, Options{Transport: fake, ManualDisconnect: true})
	events := record(t, c)

	require.NoError(t, c.Connect(context.Background(), "127.0.0.1", "9000"))
	next(t, events)

	fake.chunks <- chunk{err: &ncerr.ReceiveError{Kind: ncerr.ReceivePeerClosed, Err: io.EOF}}

	expectNone(t, events, 100*time.Millisecond)
	assert.Equal(t, StateConnected, c.State())

	select {
	case <-c.ReceiveDone():
	case <-time.After(time.Second):
		t.Fatal("receive loop still running after peer close")
	}

	require.NoError(t, c.Disconnect())
	assert.Nil(t, c.ReceiveDone())
	assert.Equal(t, EventDisconnected, next(t, events).Kind)
}

// ── disconnect ───────────────────────────────────────────────────────

func TestDisconnect_Idempotent(t *testing.T) {
	c := newController(t, Options{Transport: newFake()})
	events := record(t, c)

	require.NoError(t, c.Disconnect(), "disconnect from idle")
	assert.Equal(t, StateIdle, c.State())

	require.NoError(t, c.Connect(context.Background(), "127.0.0.1", "9000"))
	next(t, events)

	require.NoError(t, c.Disconnect())
	require.NoError(t, c.Disconnect())

	assert.Equal(t, EventDisconnected, next(t, events).Kind)
	expectNone(t, events, 50*time.Millisecond)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestDisconnect_StopsLoopWithinPoll(t *testing.T) {
	ep := listen(t, func(conn net.Conn) {
		time.Sleep(5 * time.Second)
		conn.Close()
	})
	c := newController(t, Options{PollTimeout: 100 * time.Millisecond})
	events := record(t, c)

	require.NoError(t, c.ConnectEndpoint(context.Background(), ep))
	next(t, events)
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	require.NoError(t, c.Disconnect())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, StateDisconnected, c.State())

	assert.Equal(t, EventDisconnected, next(t, events).Kind)
	expectNone(t, events, 150*time.Millisecond)
}

func TestDisconnect_DuringConnect(t *testing.T) {
	fake := &blockingTransport{fakeTransport: newFake(), entered: make(chan struct{})}
	c := newController(t, Options{Transport: fake})
	events := record(t, c)

	errc := make(chan error, 1)
	go func() { errc <- c.Connect(context.Background(), "10.255.255.1", "9") }()

	<-fake.entered
	assert.Equal(t, StateConnecting, c.State())
	require.NoError(t, c.Disconnect())

	select {
	case err := <-errc:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return after disconnect")
	}
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, EventDisconnected, next(t, events).Kind)
	expectNone(t, events, 50*time.Millisecond)
}

// blockingTransport blocks Connect until its context is cancelled.
type blockingTransport struct {
	*fakeTransport
	entered chan struct{}
}

func (b *blockingTransport) Connect(ctx context.Context, _ endpoint.Endpoint, _ time.Duration) error {
	close(b.entered)
	<-ctx.Done()
	return &ncerr.ConnectError{Kind: ncerr.ConnectOther, Err: ctx.Err()}
}

// ── end to end ───────────────────────────────────────────────────────

func TestEchoRoundTrip(t *testing.T) {
	ep := listen(t, echo)
	m := metrics.New()
	c := newController(t, Options{Metrics: m, PollTimeout: 50 * time.Millisecond})
	events := record(t, c)

	require.NoError(t, c.ConnectEndpoint(context.Background(), ep))
	assert.Equal(t, EventConnected, next(t, events).Kind)

	require.NoError(t, c.Send("ping"))

	// The echo may be delivered before MessageSent is queued.
	var got strings.Builder
	sent := false
	for !sent || got.Len() < len("ping") {
		e := next(t, events)
		switch e.Kind {
		case EventMessageSent:
			assert.Equal(t, "ping", e.Text)
			sent = true
		case EventDataReceived:
			got.WriteString(e.Text)
		default:
			t.Fatalf("unexpected event %v", e)
		}
	}
	assert.Equal(t, "ping", got.String())
	assert.Equal(t, int64(4), m.TotalBytesIn())

	require.NoError(t, c.Disconnect())
	assert.Equal(t, EventDisconnected, next(t, events).Kind)
}

func TestServerClose_EmitsDisconnected(t *testing.T) {
	ep := listen(t, func(conn net.Conn) {
		conn.Write([]byte("bye")) //nolint:errcheck
		conn.Close()
	})
	c := newController(t, Options{PollTimeout: 50 * time.Millisecond})
	events := record(t, c)

	require.NoError(t, c.ConnectEndpoint(context.Background(), ep))
	assert.Equal(t, EventConnected, next(t, events).Kind)

	e := next(t, events)
	require.Equal(t, EventDataReceived, e.Kind)
	assert.Equal(t, "bye", e.Text)

	e = next(t, events)
	assert.Equal(t, EventDisconnected, e.Kind)
	assert.ErrorIs(t, e.Err, ncerr.ErrPeerClosed)
	assert.Equal(t, StateDisconnected, c.State())

	// Reconnect is allowed.
	require.NoError(t, c.ConnectEndpoint(context.Background(), ep))
	assert.Equal(t, EventConnected, next(t, events).Kind)
}

// ── lifecycle ────────────────────────────────────────────────────────

func TestSubscribe_Cancel(t *testing.T) {
	c := newController(t, Options{Transport: newFake()})
	ch := make(chan Event, 8)
	cancel := c.Subscribe(ChanHandler(ch, nil))
	cancel()
	cancel()

	require.NoError(t, c.Connect(context.Background(), "127.0.0.1", "9000"))
	expectNone(t, ch, 50*time.Millisecond)
}

func TestClose_DrainsEvents(t *testing.T) {
	c := New(Options{Transport: newFake(), PollTimeout: 10 * time.Millisecond})

	var mu sync.Mutex
	var kinds []EventKind
	c.Subscribe(HandlerFunc(func(e Event) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	}))

	require.NoError(t, c.Connect(context.Background(), "127.0.0.1", "9000"))
	require.NoError(t, c.Send("a"))
	require.NoError(t, c.Close())

	mu.Lock()
	assert.Equal(t, []EventKind{EventConnected, EventMessageSent, EventDisconnected}, kinds)
	mu.Unlock()

	assert.ErrorIs(t, c.Connect(context.Background(), "127.0.0.1", "9000"), ErrClosed)
	require.NoError(t, c.Close())
}

func TestDispatcher_AfterFollowsQueuedEvents(t *testing.T) {
	d := newDispatcher()
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []string
	d.subscribe(HandlerFunc(func(e Event) {
		<-release
		mu.Lock()
		seen = append(seen, e.Text)
		mu.Unlock()
	}))

	d.emit(Event{Kind: EventDataReceived, Text: "a"})
	d.emit(Event{Kind: EventDataReceived, Text: "b"})
	ran := make(chan struct{})
	d.after(func() { close(ran) })

	select {
	case <-ran:
		t.Fatal("callback ran before queued events were delivered")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
	mu.Lock()
	assert.Equal(t, []string{"a", "b"}, seen)
	mu.Unlock()

	d.close()
	done := false
	d.after(func() { done = true })
	assert.True(t, done, "after close the callback runs inline")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, `data-received("hi")`, Event{Kind: EventDataReceived, Text: "hi"}.String())
}

func TestChanHandler_DropsAfterDone(t *testing.T) {
	ch := make(chan Event)
	done := make(chan struct{})
	h := ChanHandler(ch, done)

	close(done)
	finished := make(chan struct{})
	go func() {
		h.HandleEvent(Event{Kind: EventConnected})
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("handler blocked after done was closed")
	}
}
