package middleware

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status", "service"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "service"},
	)

	backendCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resq_backend_calls_total",
			Help: "Total number of calls to the food backend API",
		},
		[]string{"operation", "status", "service"},
	)

	backendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resq_backend_call_duration_seconds",
			Help:    "Duration of food backend API calls in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "service"},
	)

	backendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resq_backend_errors_total",
			Help: "Total number of failed food backend API calls",
		},
		[]string{"operation", "error_type", "service"},
	)
)

func PrometheusMiddleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		httpRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
			serviceName,
		).Inc()

		httpRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			serviceName,
		).Observe(duration)
	}
}

// RecordBackendCall считает один вызов REST API бэкенда
func RecordBackendCall(operation, status, serviceName string, duration time.Duration, err error) {
	backendCallsTotal.WithLabelValues(operation, status, serviceName).Inc()
	backendCallDuration.WithLabelValues(operation, serviceName).Observe(duration.Seconds())

	if err != nil {
		backendErrors.WithLabelValues(operation, errorType(err), serviceName).Inc()
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	var sc interface{ HTTPStatus() int }
	if errors.As(err, &sc) {
		return strconv.Itoa(sc.HTTPStatus())
	}
	return "request"
}
