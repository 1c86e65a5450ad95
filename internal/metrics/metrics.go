// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Message types counted by bot_messages_total.
const (
	TypeInbound      = "inbound"
	TypeOutbound     = "outbound"
	TypeRelay        = "relay"
	TypeGroupIgnored = "group_ignored"
	TypeSendFailed   = "send_failed"
	TypeDuplicate    = "duplicate"
)

// Metrics is a set of collectors bound to one registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	botMessages     *prometheus.CounterVec
	activeChats     prometheus.Gauge
}

// New registers the collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Admin API request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		botMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_messages_total",
			Help: "Chat messages handled by the dispatcher, by type.",
		}, []string{"type"}),
		activeChats: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "active_chats",
			Help: "Carts currently stored.",
		}),
	}
	reg.MustRegister(
		m.requestDuration,
		m.botMessages,
		m.activeChats,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// CountMessage increments bot_messages_total{type}.
func (m *Metrics) CountMessage(kind string) {
	if m == nil {
		return
	}
	m.botMessages.WithLabelValues(kind).Inc()
}

// SetActiveChats sets the active_chats gauge.
func (m *Metrics) SetActiveChats(n int) {
	if m == nil {
		return
	}
	m.activeChats.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware observes request latency labeled by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
