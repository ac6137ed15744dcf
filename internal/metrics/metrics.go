// Package metrics tracks runtime statistics of a chat session with
// lock-free counters, and exposes them to Prometheus.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one session controller.
type Collector struct {
	connectAttempts atomic.Int64
	connectFailures atomic.Int64
	connected       atomic.Int64 // 1 while a connection is up
	bytesIn         atomic.Int64
	bytesOut        atomic.Int64
	messagesIn      atomic.Int64
	messagesOut     atomic.Int64
	sendFailures    atomic.Int64
	droppedChunks   atomic.Int64
	pollTimeouts    atomic.Int64
	errorsTotal     atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	connectedAt  time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectAttempted counts a connect call that reached the transport.
func (c *Collector) ConnectAttempted() {
	if c == nil {
		return
	}
	c.connectAttempts.Add(1)
}

// ConnectFailed counts a failed connect and records its reason.
func (c *Collector) ConnectFailed(msg string) {
	if c == nil {
		return
	}
	c.connectFailures.Add(1)
	c.RecordError(msg)
}

// ConnectionOpened marks the session connected.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connected.Store(1)
	c.mu.Lock()
	c.connectedAt = time.Now()
	c.mu.Unlock()
}

// ConnectionClosed marks the session disconnected.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connected.Store(0)
	c.mu.Lock()
	c.connectedAt = time.Time{}
	c.mu.Unlock()
}

// Connected reports whether a connection is currently up.
func (c *Collector) Connected() bool {
	if c == nil {
		return false
	}
	return c.connected.Load() == 1
}

// ConnectAttempts returns the lifetime number of connect attempts.
func (c *Collector) ConnectAttempts() int64 {
	if c == nil {
		return 0
	}
	return c.connectAttempts.Load()
}

// ConnectFailures returns the lifetime number of failed connects.
func (c *Collector) ConnectFailures() int64 {
	if c == nil {
		return 0
	}
	return c.connectFailures.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// MessageReceived records one delivered inbound chunk of n bytes.
func (c *Collector) MessageReceived(n int) {
	if c == nil {
		return
	}
	c.messagesIn.Add(1)
	c.bytesIn.Add(int64(n))
}

// MessageSent records one outbound message of n bytes.
func (c *Collector) MessageSent(n int) {
	if c == nil {
		return
	}
	c.messagesOut.Add(1)
	c.bytesOut.Add(int64(n))
}

// SendFailed counts a failed send and records its reason.
func (c *Collector) SendFailed(msg string) {
	if c == nil {
		return
	}
	c.sendFailures.Add(1)
	c.RecordError(msg)
}

// ChunkDropped records n inbound bytes discarded as invalid UTF-8.
func (c *Collector) ChunkDropped(n int) {
	if c == nil {
		return
	}
	c.droppedChunks.Add(1)
	c.bytesIn.Add(int64(n))
}

// PollTimeout counts an idle receive poll.
func (c *Collector) PollTimeout() {
	if c == nil {
		return
	}
	c.pollTimeouts.Add(1)
}

// TotalBytesIn returns total bytes received, including dropped chunks.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// DroppedChunks returns how many inbound chunks were not valid UTF-8.
func (c *Collector) DroppedChunks() int64 {
	if c == nil {
		return 0
	}
	return c.droppedChunks.Load()
}

// PollTimeouts returns the number of idle polls.
func (c *Collector) PollTimeouts() int64 {
	if c == nil {
		return 0
	}
	return c.pollTimeouts.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	Connected        bool   `json:"connected"`
	ConnectedFor     string `json:"connected_for,omitempty"`
	ConnectAttempts  int64  `json:"connect_attempts"`
	ConnectFailures  int64  `json:"connect_failures"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	MessagesIn       int64  `json:"messages_in"`
	MessagesOut      int64  `json:"messages_out"`
	SendFailures     int64  `json:"send_failures"`
	DroppedChunks    int64  `json:"dropped_chunks"`
	PollTimeouts     int64  `json:"poll_timeouts"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:          time.Since(c.startTime).Truncate(time.Second).String(),
		Connected:       c.connected.Load() == 1,
		ConnectAttempts: c.connectAttempts.Load(),
		ConnectFailures: c.connectFailures.Load(),
		BytesIn:         c.bytesIn.Load(),
		BytesOut:        c.bytesOut.Load(),
		MessagesIn:      c.messagesIn.Load(),
		MessagesOut:     c.messagesOut.Load(),
		SendFailures:    c.sendFailures.Load(),
		DroppedChunks:   c.droppedChunks.Load(),
		PollTimeouts:    c.pollTimeouts.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
	}
	if !c.connectedAt.IsZero() {
		s.ConnectedFor = time.Since(c.connectedAt).Truncate(time.Second).String()
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
