package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "method", "status"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"path", "method", "status"})

	// CellCommits — inline-правки ячеек по результату (saved|error|rejected).
	CellCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firecms_cell_commits_total",
		Help: "Inline cell edits by collection and outcome.",
	}, []string{"collection", "result"})

	EntityDeletes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firecms_entity_deletes_total",
		Help: "Entity deletions by collection and outcome.",
	}, []string{"collection", "result"})

	SchemaSaves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "firecms_schema_saves_total",
		Help: "Schema editor submissions by trigger and outcome.",
	}, []string{"trigger", "result"})
)

// Result переводит ошибку в метку.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Middleware пишет RED-метрики по шаблону маршрута, а не сырому пути.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpDuration.WithLabelValues(path, c.Request.Method, status).Observe(time.Since(start).Seconds())
		httpRequests.WithLabelValues(path, c.Request.Method, status).Inc()
	}
}

// Handler отдаёт /metrics.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
