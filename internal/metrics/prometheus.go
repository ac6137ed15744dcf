package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Register exposes c on reg as tcpchat_* series.  The values are read
// from c at scrape time.
func Register(reg prometheus.Registerer, c *Collector) error {
	counter := func(name, help string, f func() int64) prometheus.Collector {
		return prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: "tcpchat_" + name, Help: help},
			func() float64 { return float64(f()) })
	}
	gauge := func(name, help string, f func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "tcpchat_" + name, Help: help}, f)
	}

	cs := []prometheus.Collector{
		counter("connect_attempts_total", "Connect attempts that reached the transport", c.ConnectAttempts),
		counter("connect_failures_total", "Connect attempts that failed", c.ConnectFailures),
		counter("bytes_received_total", "Bytes read from the peer", c.TotalBytesIn),
		counter("bytes_sent_total", "Bytes written to the peer", c.TotalBytesOut),
		counter("messages_received_total", "Inbound chunks delivered", func() int64 { return c.Snapshot().MessagesIn }),
		counter("messages_sent_total", "Outbound messages written", func() int64 { return c.Snapshot().MessagesOut }),
		counter("send_failures_total", "Sends that failed", func() int64 { return c.Snapshot().SendFailures }),
		counter("dropped_chunks_total", "Inbound chunks dropped as invalid UTF-8", c.DroppedChunks),
		counter("poll_timeouts_total", "Receive polls that expired without data", c.PollTimeouts),
		counter("errors_total", "Errors recorded", c.ErrorCount),
		gauge("connected", "1 while the session is connected", func() float64 {
			if c.Connected() {
				return 1
			}
			return 0
		}),
	}
	for _, col := range cs {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the metrics gathered by g in the Prometheus text
// format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
