package session

import (
	"fmt"
	"sync"
	"time"
)

// EventKind tags an Event.
type EventKind int

const (
	EventConnectFailed EventKind = iota
	EventConnected
	EventDisconnected
	EventMessageSent
	EventSendFailed
	EventDataReceived
)

func (k EventKind) String() string {
	switch k {
	case EventConnectFailed:
		return "connect-failed"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessageSent:
		return "message-sent"
	case EventSendFailed:
		return "send-failed"
	case EventDataReceived:
		return "data-received"
	default:
		return "unknown"
	}
}

// Event is one notification from a Controller to its subscribers.
//
// Text carries the payload for MessageSent/DataReceived, the peer
// address for Connected, and a human-readable reason for the failure
// kinds and for a peer-initiated Disconnected (empty when the caller
// disconnected).  Err is the typed cause, when there is one.
type Event struct {
	Kind EventKind
	Text string
	Err  error
	At   time.Time
}

func (e Event) String() string {
	if e.Text == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s(%q)", e.Kind, e.Text)
}

// Handler receives events.  All handlers of one Controller are called
// from a single goroutine, one event at a time, in emission order.
type Handler interface {
	HandleEvent(Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Event)

func (f HandlerFunc) HandleEvent(e Event) { f(e) }

// ChanHandler forwards every event to ch so a caller can consume them
// on its own goroutine.  Sends block the dispatcher, never the
// controller, so ch may be unbuffered.  Once done is closed, events
// that cannot be delivered are dropped; a nil done never drops.
func ChanHandler(ch chan<- Event, done <-chan struct{}) Handler {
	return HandlerFunc(func(e Event) {
		select {
		case ch <- e:
		case <-done:
		}
	})
}

// ── dispatcher ───────────────────────────────────────────────────────

type subscription struct {
	id int
	h  Handler
}

// dispatcher is an unbounded FIFO drained by one goroutine.  emit
// never blocks, so the receive loop cannot stall on a slow subscriber.
// queued is an event, or a callback run in its place once everything
// before it has been delivered.
type queued struct {
	e  Event
	fn func()
}

type dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []queued
	subs   []subscription
	nextID int
	closed bool
	done   chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.queue = append(d.queue, queued{e: e})
	d.cond.Signal()
}

// after runs fn on the dispatcher goroutine once every event emitted so
// far has been delivered.  After close, fn runs immediately.
func (d *dispatcher) after(fn func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		fn()
		return
	}
	d.queue = append(d.queue, queued{fn: fn})
	d.cond.Signal()
	d.mu.Unlock()
}

func (d *dispatcher) subscribe(h Handler) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscription{id: id, h: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, s := range d.subs {
				if s.id == id {
					d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// close stops accepting events, delivers what is queued, and waits for
// the dispatcher goroutine to exit.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	<-d.done
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		q := d.queue[0]
		d.queue[0] = queued{}
		d.queue = d.queue[1:]
		subs := d.subs
		d.mu.Unlock()

		if q.fn != nil {
			q.fn()
			continue
		}
		for _, s := range subs {
			s.h.HandleEvent(q.e)
		}
	}
}
