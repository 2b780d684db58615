package observability

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// PerformanceMonitor tracks process-level and request-level performance,
// fed per-request stats by ObservabilityMiddleware, and logs a warning when
// memory, goroutine count, response time or error rate crosses its
// threshold, independent of any single order's telemetry.
type PerformanceMonitor struct {
	logger   *Logger
	metrics  *PerformanceMetrics
	config   *PerformanceConfig
	stopChan chan struct{}
}

// PerformanceMetrics contains performance data
type PerformanceMetrics struct {
	MemoryUsage    int64
	GoroutineCount int

	RequestCount  int64
	ResponseTime  time.Duration
	ErrorRate     float64
	ThroughputRPS float64

	LastUpdated time.Time
	mu          sync.RWMutex
}

// PerformanceConfig contains monitoring configuration
type PerformanceConfig struct {
	CollectionInterval time.Duration
	AlertThresholds    *AlertThresholds
}

// AlertThresholds defines performance alert thresholds
type AlertThresholds struct {
	MemoryUsageThreshold  int64
	ResponseTimeThreshold time.Duration
	ErrorRateThreshold    float64
	GoroutineThreshold    int
}

// RequestMetrics tracks individual request performance
type RequestMetrics struct {
	Path       string
	Method     string
	StatusCode int
	Duration   time.Duration
	Timestamp  time.Time
}

// NewPerformanceMonitor creates a new performance monitor and starts its
// collection loop.
func NewPerformanceMonitor(logger *Logger) *PerformanceMonitor {
	cfg := &PerformanceConfig{
		CollectionInterval: 30 * time.Second,
		AlertThresholds: &AlertThresholds{
			MemoryUsageThreshold:  1024 * 1024 * 1024,
			ResponseTimeThreshold: time.Second,
			ErrorRateThreshold:    5.0,
			GoroutineThreshold:    10000,
		},
	}

	pm := &PerformanceMonitor{
		logger:   logger,
		metrics:  &PerformanceMetrics{},
		config:   cfg,
		stopChan: make(chan struct{}),
	}

	go pm.startMonitoring()

	return pm
}

func (pm *PerformanceMonitor) startMonitoring() {
	ticker := time.NewTicker(pm.config.CollectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pm.collectMetrics()
		case <-pm.stopChan:
			return
		}
	}
}

func (pm *PerformanceMonitor) collectMetrics() {
	ctx := context.Background()

	pm.metrics.mu.Lock()
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	pm.metrics.MemoryUsage = int64(memStats.Alloc)
	pm.metrics.GoroutineCount = runtime.NumGoroutine()
	pm.metrics.LastUpdated = time.Now()
	pm.metrics.mu.Unlock()

	pm.checkAlertThresholds(ctx)
}

// RecordRequest records metrics for an HTTP request using an EWMA for
// response time and error rate, matching the engine's venue-metrics EWMA.
func (pm *PerformanceMonitor) RecordRequest(m *RequestMetrics) {
	pm.metrics.mu.Lock()
	defer pm.metrics.mu.Unlock()

	const alpha = 0.1

	pm.metrics.RequestCount++
	if pm.metrics.ResponseTime == 0 {
		pm.metrics.ResponseTime = m.Duration
	} else {
		pm.metrics.ResponseTime = time.Duration(float64(pm.metrics.ResponseTime)*(1-alpha) + float64(m.Duration)*alpha)
	}

	if m.StatusCode >= 400 {
		pm.metrics.ErrorRate = pm.metrics.ErrorRate*(1-alpha) + alpha
	} else {
		pm.metrics.ErrorRate = pm.metrics.ErrorRate * (1 - alpha)
	}
}

func (pm *PerformanceMonitor) checkAlertThresholds(ctx context.Context) {
	pm.metrics.mu.RLock()
	defer pm.metrics.mu.RUnlock()
	thresholds := pm.config.AlertThresholds

	if pm.metrics.MemoryUsage > thresholds.MemoryUsageThreshold {
		pm.logger.Warn(ctx, "high memory usage detected", map[string]interface{}{
			"current_usage": pm.metrics.MemoryUsage,
			"threshold":     thresholds.MemoryUsageThreshold,
		})
	}
	if pm.metrics.ResponseTime > thresholds.ResponseTimeThreshold {
		pm.logger.Warn(ctx, "high response time detected", map[string]interface{}{
			"current_time": pm.metrics.ResponseTime,
			"threshold":    thresholds.ResponseTimeThreshold,
		})
	}
	if pm.metrics.ErrorRate > thresholds.ErrorRateThreshold {
		pm.logger.Warn(ctx, "high error rate detected", map[string]interface{}{
			"current_rate": pm.metrics.ErrorRate,
			"threshold":    thresholds.ErrorRateThreshold,
		})
	}
	if pm.metrics.GoroutineCount > thresholds.GoroutineThreshold {
		pm.logger.Warn(ctx, "high goroutine count detected", map[string]interface{}{
			"current_count": pm.metrics.GoroutineCount,
			"threshold":     thresholds.GoroutineThreshold,
		})
	}
}

// GetMetrics returns a copy of the current performance metrics
func (pm *PerformanceMonitor) GetMetrics() *PerformanceMetrics {
	pm.metrics.mu.RLock()
	defer pm.metrics.mu.RUnlock()

	return &PerformanceMetrics{
		MemoryUsage:    pm.metrics.MemoryUsage,
		GoroutineCount: pm.metrics.GoroutineCount,
		RequestCount:   pm.metrics.RequestCount,
		ResponseTime:   pm.metrics.ResponseTime,
		ErrorRate:      pm.metrics.ErrorRate,
		ThroughputRPS:  pm.metrics.ThroughputRPS,
		LastUpdated:    pm.metrics.LastUpdated,
	}
}

// Stop stops the performance monitoring loop
func (pm *PerformanceMonitor) Stop() {
	close(pm.stopChan)
}
