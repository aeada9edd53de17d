// Package metricsexp collects process-level counters and histograms
// for the chat server using a metrics.Set, served over Prometheus
// text exposition by internal/httpapi.
package metricsexp

import (
	"io"
	"sync"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics holds every counter/histogram the server core updates.
// FramesDecodeErrorsTotal and RelayFramesSentTotal are registered and
// exported but nothing increments them, so they always read zero.
type Metrics struct {
	set *metrics.Set

	ConnectionsAcceptedTotal *metrics.Counter
	ConnectionsClosedTotal   *metrics.Counter
	FramesDecodeErrorsTotal  *metrics.Counter

	BroadcastsTotal struct {
		delivered *metrics.Counter
		deduped   *metrics.Counter
	}
	RelayFramesSentTotal *metrics.Counter

	ChannelsCreatedTotal   *metrics.Counter
	ChannelsDestroyedTotal *metrics.Counter

	LinkHandshakesTotal struct {
		succeeded *metrics.Counter
		failed    *metrics.Counter
	}

	PollLoopDurationSeconds *metrics.Histogram
}

var (
	once sync.Once
	inst *Metrics
)

// Default returns the process-wide metrics instance, creating it (and
// registering every series with the default metrics.Set, so it also
// appears under /metrics if one is exposed) on first use.
func Default() *Metrics {
	once.Do(func() {
		m := &Metrics{set: metrics.NewSet()}
		m.ConnectionsAcceptedTotal = m.set.NewCounter(`dechat_connections_accepted_total`)
		m.ConnectionsClosedTotal = m.set.NewCounter(`dechat_connections_closed_total`)
		m.FramesDecodeErrorsTotal = m.set.NewCounter(`dechat_frames_decode_errors_total`)
		m.BroadcastsTotal.delivered = m.set.NewCounter(`dechat_broadcasts_total{result="delivered"}`)
		m.BroadcastsTotal.deduped = m.set.NewCounter(`dechat_broadcasts_total{result="deduped"}`)
		m.RelayFramesSentTotal = m.set.NewCounter(`dechat_relay_frames_sent_total`)
		m.ChannelsCreatedTotal = m.set.NewCounter(`dechat_channels_created_total`)
		m.ChannelsDestroyedTotal = m.set.NewCounter(`dechat_channels_destroyed_total`)
		m.LinkHandshakesTotal.succeeded = m.set.NewCounter(`dechat_link_handshakes_total{result="succeeded"}`)
		m.LinkHandshakesTotal.failed = m.set.NewCounter(`dechat_link_handshakes_total{result="failed"}`)
		m.PollLoopDurationSeconds = m.set.NewHistogram(`dechat_poll_loop_duration_seconds`)
		metrics.RegisterSet(m.set)
		inst = m
	})
	return inst
}

// BroadcastDelivered and BroadcastDeduped record one outcome of
// channel.Channel.Broadcast.
func (m *Metrics) BroadcastDelivered() { m.BroadcastsTotal.delivered.Inc() }
func (m *Metrics) BroadcastDeduped()   { m.BroadcastsTotal.deduped.Inc() }

// LinkSucceeded and LinkFailed record the outcome of a link handshake.
func (m *Metrics) LinkSucceeded() { m.LinkHandshakesTotal.succeeded.Inc() }
func (m *Metrics) LinkFailed()    { m.LinkHandshakesTotal.failed.Inc() }

// WritePrometheus writes every registered series in Prometheus text
// exposition format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	metrics.WritePrometheus(w, true)
}
