package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
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
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// QuotaDecisions 计量额度判定结果 result=allowed|rejected|unlimited
	QuotaDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_quota_decisions_total",
			Help: "Metered usage consumption decisions",
		},
		[]string{"kind", "result"},
	)

	FollowUpTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_followup_tasks_total",
			Help: "Post-submission follow-up task outcomes",
		},
		[]string{"status"},
	)

	WeakSectionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_weak_section_transitions_total",
			Help: "Weak section status transitions",
		},
		[]string{"to"},
	)

	RevisionEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_revision_entries_total",
			Help: "Revision ladder actions",
		},
		[]string{"action"},
	)

	AnalyticsDegraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_analytics_degraded_total",
			Help: "Analytics queries that fell back to an empty result",
		},
		[]string{"query"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			QuotaDecisions,
			FollowUpTasks,
			WeakSectionTransitions,
			RevisionEntries,
			AnalyticsDegraded,
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
