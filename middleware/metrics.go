package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filededup_http_requests_total",
			Help: "HTTP requests by route and status.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filededup_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// OperationsTotal counts file operations by outcome, e.g. upload/stored, upload/duplicate.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filededup_operations_total",
			Help: "File operations by kind and result.",
		},
		[]string{"operation", "result"},
	)

	// StoredBytes counts bytes written to permanent storage.
	StoredBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filededup_stored_bytes_total",
			Help: "Bytes promoted into permanent storage.",
		},
	)
)

// Metrics records request count and latency per matched route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Use the route template so unmatched paths do not explode label cardinality
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
