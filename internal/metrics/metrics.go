package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomcast_ws_sessions",
		Help: "Current number of live websocket sessions",
	})
	BusPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomcast_bus_published_total",
		Help: "Activity events published to the broadcast bus",
	}, []string{"kind"})
	BusDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_bus_delivered_total",
		Help: "Bus payloads handed to a subscribed session",
	})
	BusDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_bus_dropped_total",
		Help: "Bus payloads dropped because the target was gone or backed up",
	})
	SendsSuppressedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_sends_suppressed_total",
		Help: "Message events suppressed by session shaping (empty or reaction)",
	})
	NotificationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomcast_notifications_total",
		Help: "Out-of-band notification recipient sets produced",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsSessions,
		BusPublishedTotal,
		BusDeliveredTotal,
		BusDroppedTotal,
		SendsSuppressedTotal,
		NotificationsTotal,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

// GinMiddleware records basic per-route request metrics for Prometheus.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
