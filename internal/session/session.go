// Package session implements the chat session controller: the state
// machine that owns one transport, runs the background receive loop,
// and reports everything that happens as events.
package session

import (
	"context"
	"sync"
	"time"

	"tcpchat/config"
	"tcpchat/internal/endpoint"
	ncerr "tcpchat/internal/errors"
	"tcpchat/internal/metrics"
	"tcpchat/internal/store"
	"tcpchat/internal/transport"
	"tcpchat/util"
)

// ErrClosed is returned by operations on a Controller after Close.
var ErrClosed = ncerr.New("session closed")

// Transport is the byte-stream connection a Controller drives.
// *transport.Socket is the production implementation.
type Transport interface {
	Connect(ctx context.Context, ep endpoint.Endpoint, timeout time.Duration) error
	Send(p []byte) error
	Receive(maxBytes int, timeout time.Duration) ([]byte, error)
	Close() error
}

// Options configures a Controller.  Zero values select the defaults.
type Options struct {
	// Transport overrides the connection implementation.  When nil a
	// transport.Socket dialing through Dialer is used.
	Transport Transport
	// Dialer is used only when Transport is nil.  nil means plain TCP.
	Dialer transport.Dialer

	// Store persists the last successfully connected endpoint.  nil
	// disables persistence.
	Store store.Store

	Logger  *util.Logger
	Metrics *metrics.Collector

	ConnectTimeout time.Duration
	PollTimeout    time.Duration
	ReadSize       int

	// ManualDisconnect keeps the state Connected after the peer closes
	// or the read fails; only Disconnect moves it on.  By default the
	// controller emits Disconnected and becomes reconnectable.
	ManualDisconnect bool
}

// Controller is a single client chat session.
//
// Connect, Send and Disconnect are intended to be called from one
// goroutine (typically the UI); State and Endpoint may be called from
// anywhere.  Events are delivered on a dedicated goroutine.
type Controller struct {
	transport        Transport
	store            store.Store
	logger           *util.Logger
	metrics          *metrics.Collector
	events           *dispatcher
	connectTimeout   time.Duration
	pollTimeout      time.Duration
	readSize         int
	manualDisconnect bool

	mu            sync.Mutex
	state         State
	ep            endpoint.Endpoint
	gen           uint64 // bumped whenever a connection is abandoned
	connectCancel context.CancelFunc
	loopDone      chan struct{}
	loopDrained   chan struct{} // closed once the loop's events are delivered
	closed        bool
}

// New creates an Idle controller.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	t := opts.Transport
	if t == nil {
		t = transport.NewSocket(opts.Dialer)
	}
	c := &Controller{
		transport:        t,
		store:            opts.Store,
		logger:           logger.Named("session"),
		metrics:          opts.Metrics,
		events:           newDispatcher(),
		connectTimeout:   opts.ConnectTimeout,
		pollTimeout:      opts.PollTimeout,
		readSize:         opts.ReadSize,
		manualDisconnect: opts.ManualDisconnect,
	}
	if c.connectTimeout <= 0 {
		c.connectTimeout = config.DefaultConnectTimeout
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = config.DefaultPollTimeout
	}
	if c.readSize <= 0 {
		c.readSize = config.DefaultReadSize
	}
	return c
}

// ReceiveDone returns a channel closed once the current connection's
// receive loop has stopped and every event it emitted has been
// delivered, or nil when there is no connection.  With ManualDisconnect
// set this is the only sign that the peer went away.
func (c *Controller) ReceiveDone() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loopDrained
}

// Subscribe registers h for all future events.  The returned function
// unsubscribes it.
func (c *Controller) Subscribe(h Handler) (cancel func()) {
	return c.events.subscribe(h)
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Endpoint returns the endpoint of the current or most recent
// connection attempt.
func (c *Controller) Endpoint() endpoint.Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ep
}

// Connect validates host and portText and connects to them.  See
// ConnectEndpoint.
func (c *Controller) Connect(ctx context.Context, host, portText string) error {
	ep, err := endpoint.Parse(host, portText)
	if err != nil {
		c.connectFailed(err)
		return err
	}
	return c.ConnectEndpoint(ctx, ep)
}

// ConnectEndpoint connects to ep, blocking for at most the connect
// timeout.  On success the state becomes Connected, a Connected event
// is emitted, the endpoint is persisted and the receive loop starts.
// On failure the state becomes Disconnected and ConnectFailed is
// emitted.  An invalid endpoint fails without touching the transport
// or the state.  Connecting while Connecting or Connected returns
// errors.ErrAlreadyConnected.
func (c *Controller) ConnectEndpoint(ctx context.Context, ep endpoint.Endpoint) error {
	if err := ep.Validate(); err != nil {
		c.connectFailed(err)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.state.canConnect() {
		c.mu.Unlock()
		return ncerr.ErrAlreadyConnected
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.state = StateConnecting
	c.ep = ep
	c.gen++
	gen := c.gen
	c.connectCancel = cancel
	c.mu.Unlock()

	c.logger.Verbose("connecting to %s", ep)
	c.metrics.ConnectAttempted()

	err := c.transport.Connect(ctx, ep, c.connectTimeout)

	c.mu.Lock()
	c.connectCancel = nil
	if c.gen != gen {
		// Disconnect ran while we were dialing and already reported it.
		c.mu.Unlock()
		if err == nil {
			c.transport.Close()
		}
		return ncerr.ErrNotConnected
	}
	if err != nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.connectFailed(err)
		return err
	}
	c.state = StateConnected
	done, drained := make(chan struct{}), make(chan struct{})
	c.loopDone, c.loopDrained = done, drained
	c.metrics.ConnectionOpened()
	c.events.emit(Event{Kind: EventConnected, Text: ep.Address()})
	c.mu.Unlock()

	c.logger.Verbose("connected to %s", ep)

	if err := store.SaveEndpoint(ctx, c.store, ep.Host, ep.PortText()); err != nil {
		c.logger.Warn("could not remember %s: %v", ep, err)
	}

	go c.receiveLoop(gen, done, drained)
	return nil
}

// Send transmits text as one message.  Outside Connected it fails with
// a not-connected *errors.SendError and leaves the state unchanged.
// Either way the outcome is also emitted as MessageSent or SendFailed.
func (c *Controller) Send(text string) error {
	if st := c.State(); st != StateConnected {
		err := &ncerr.SendError{Kind: ncerr.SendNotConnected}
		c.sendFailed(err)
		return err
	}

	if err := c.transport.Send([]byte(text)); err != nil {
		c.sendFailed(err)
		return err
	}

	c.metrics.MessageSent(len(text))
	c.events.emit(Event{Kind: EventMessageSent, Text: text})
	return nil
}

// Disconnect stops the receive loop, closes the transport and emits
// Disconnected.  It returns once the loop has exited, which takes at
// most one poll interval.  Outside Connecting and Connected it is a
// no-op.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	if !c.state.live() {
		c.mu.Unlock()
		return nil
	}
	wasConnected := c.state == StateConnected
	c.state = StateDisconnected
	c.gen++
	cancel := c.connectCancel
	done := c.loopDone
	c.loopDone, c.loopDrained = nil, nil
	if wasConnected {
		c.metrics.ConnectionClosed()
	}
	c.events.emit(Event{Kind: EventDisconnected})
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := c.transport.Close()
	if done != nil {
		<-done
	}
	c.logger.Verbose("disconnected")
	return err
}

// Close disconnects if needed, delivers every pending event and stops
// the event goroutine.  The controller is unusable afterwards.
func (c *Controller) Close() error {
	err := c.Disconnect()

	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()

	if !already {
		c.events.close()
	}
	return err
}

// LastEndpoint returns the endpoint persisted by the most recent
// successful connect, as raw text for pre-filling a prompt.
func (c *Controller) LastEndpoint(ctx context.Context) (host, port string, err error) {
	return store.LastEndpoint(ctx, c.store)
}

func (c *Controller) connectFailed(err error) {
	c.metrics.ConnectFailed(err.Error())
	c.logger.Verbose("connect failed: %v", err)
	c.events.emit(Event{Kind: EventConnectFailed, Text: err.Error(), Err: err})
}

func (c *Controller) sendFailed(err error) {
	c.metrics.SendFailed(err.Error())
	c.logger.Debug("send failed: %v", err)
	c.events.emit(Event{Kind: EventSendFailed, Text: err.Error(), Err: err})
}
