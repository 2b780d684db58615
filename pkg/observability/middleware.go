package observability

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ObservabilityMiddleware provides tracing, metrics, and request logging
// for the admin/submit HTTP surface.
type ObservabilityMiddleware struct {
	tracer         trace.Tracer
	metrics        *MetricsProvider
	logger         *Logger
	performanceLog *PerformanceLogger
	perfMonitor    *PerformanceMonitor
	serviceName    string
	slowThreshold  time.Duration
}

// MiddlewareConfig contains configuration for observability middleware
type MiddlewareConfig struct {
	ServiceName   string
	SlowThreshold time.Duration
	// PerfMonitor, if set, receives every request's latency and status for
	// process-wide throughput/error-rate tracking alongside per-request tracing.
	PerfMonitor *PerformanceMonitor
}

// NewObservabilityMiddleware creates a new observability middleware
func NewObservabilityMiddleware(metrics *MetricsProvider, logger *Logger, cfg MiddlewareConfig) *ObservabilityMiddleware {
	slowThreshold := cfg.SlowThreshold
	if slowThreshold == 0 {
		slowThreshold = time.Second
	}

	return &ObservabilityMiddleware{
		tracer:         otel.Tracer(cfg.ServiceName),
		metrics:        metrics,
		logger:         logger,
		performanceLog: NewPerformanceLogger(logger),
		perfMonitor:    cfg.PerfMonitor,
		serviceName:    cfg.ServiceName,
		slowThreshold:  slowThreshold,
	}
}

// GinMiddleware returns a Gin middleware wiring tracing, metrics, and logs
// around every request to the order/admin endpoints.
func (om *ObservabilityMiddleware) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		spanName := fmt.Sprintf("%s %s", c.Request.Method, c.FullPath())
		ctx, span := om.tracer.Start(ctx, spanName)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", c.FullPath()),
			attribute.String("request.id", requestID),
			attribute.String("service.name", om.serviceName),
		)

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		span.SetAttributes(
			attribute.Int("http.status_code", statusCode),
			attribute.Float64("http.duration_ms", float64(duration.Nanoseconds())/1e6),
		)
		if statusCode >= 500 {
			span.RecordError(fmt.Errorf("http %d", statusCode))
		}

		if om.metrics != nil {
			om.metrics.RecordHTTPRequest(ctx, c.Request.Method, c.FullPath(), strconv.Itoa(statusCode), duration)
		}
		if om.perfMonitor != nil {
			om.perfMonitor.RecordRequest(&RequestMetrics{
				Path:       c.FullPath(),
				Method:     c.Request.Method,
				StatusCode: statusCode,
				Duration:   duration,
				Timestamp:  start,
			})
		}

		logFields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status_code": statusCode,
			"duration_ms": duration.Milliseconds(),
			"request_id":  requestID,
		}

		if statusCode >= 400 {
			om.logger.Warn(ctx, "request completed with error", logFields)
		} else {
			om.logger.Info(ctx, "request completed", logFields)
		}

		if duration > om.slowThreshold {
			om.performanceLog.LogSlowOperation(ctx, spanName, duration, om.slowThreshold, logFields)
		}
	}
}
