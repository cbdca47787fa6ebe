// Package metrics collects and exposes Prometheus metrics for the
// realtime gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector gathers gateway-level counters.
type Collector struct {
	connectionsOpen   prometheus.Gauge
	eventsReceived    *prometheus.CounterVec
	eventsBroadcast   prometheus.Counter
	dispatchFailures  *prometheus.CounterVec
	sessionsPurged    prometheus.Counter
	broadcastsDropped prometheus.Counter
}

// NewCollector builds a Collector and registers it on the registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		connectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "viberetro_connections_open",
			Help: "Currently open websocket connections.",
		}),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "viberetro_events_received_total",
			Help: "Inbound client events by event name.",
		}, []string{"event"}),
		eventsBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viberetro_events_broadcast_total",
			Help: "Outbound events fanned out to room members.",
		}),
		dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "viberetro_dispatch_failures_total",
			Help: "Client events rejected at dispatch, by event name.",
		}, []string{"event"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viberetro_sessions_purged_total",
			Help: "Stale sessions removed by the retention sweep.",
		}),
		broadcastsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "viberetro_broadcasts_dropped_total",
			Help: "Broadcast frames dropped on slow connections.",
		}),
	}

	reg.MustRegister(
		c.connectionsOpen,
		c.eventsReceived,
		c.eventsBroadcast,
		c.dispatchFailures,
		c.sessionsPurged,
		c.broadcastsDropped,
	)
	return c
}

// ConnectionOpened increments the open-connection gauge.
func (c *Collector) ConnectionOpened() { c.connectionsOpen.Inc() }

// ConnectionClosed decrements the open-connection gauge.
func (c *Collector) ConnectionClosed() { c.connectionsOpen.Dec() }

// EventReceived counts one inbound client event.
func (c *Collector) EventReceived(event string) {
	c.eventsReceived.WithLabelValues(event).Inc()
}

// EventBroadcast counts one frame delivered to a room member.
func (c *Collector) EventBroadcast() { c.eventsBroadcast.Inc() }

// DispatchFailed counts one rejected client event.
func (c *Collector) DispatchFailed(event string) {
	c.dispatchFailures.WithLabelValues(event).Inc()
}

// SessionsPurged counts sessions removed by the retention sweep.
func (c *Collector) SessionsPurged(count int) {
	c.sessionsPurged.Add(float64(count))
}

// BroadcastDropped counts one frame dropped on a slow connection.
func (c *Collector) BroadcastDropped() { c.broadcastsDropped.Inc() }

// Handler returns the HTTP handler Prometheus scrapes.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
