package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Violations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_violations_total",
			Help: "Counted violations by kind",
		},
		[]string{"kind"},
	)

	AutoSubmits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_auto_submits_total",
			Help: "Sessions submitted without a user request, by reason",
		},
		[]string{"reason"},
	)

	AnswerSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctor_answer_saves_total",
			Help: "Answer writes by result",
		},
		[]string{"result"},
	)

	ProvenanceFlags = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proctor_provenance_flags_total",
			Help: "Saved answers flagged for review by the provenance analyzer",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proctor_active_sessions",
			Help: "Live proctored sessions on this instance",
		},
	)

	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)
)

var initOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			Violations,
			AutoSubmits,
			AnswerSaves,
			ProvenanceFlags,
			ActiveSessions,
			RequestCounter,
			RequestDuration,
		)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
