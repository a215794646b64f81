package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"trading-formulas/internal/resolver"

	goredis "github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the formula engine.
type Metrics struct {
	registry *prometheus.Registry

	// Resolution
	ResolveDur   *prometheus.HistogramVec // labels: block
	ResultsTotal *prometheus.CounterVec   // labels: block
	SoftFailures *prometheus.CounterVec   // labels: block
	HardStops    *prometheus.CounterVec   // labels: block
	Retries      *prometheus.CounterVec   // labels: block
	CacheHits    *prometheus.CounterVec   // labels: block

	// Graph
	Reloads     *prometheus.CounterVec // labels: outcome=ok|rejected|error
	Diagnostics prometheus.Gauge
	Blocks      prometheus.Gauge

	// Ingestion and fan-out
	CandlesTotal *prometheus.CounterVec // labels: stream
	WSClients    prometheus.Gauge

	// Redis publisher breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=half-open, 2=open
	RedisBufferedWrites      prometheus.Counter
}

var _ resolver.Recorder = (*Metrics)(nil)

// NewMetrics creates the metrics on a private registry that also carries the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,

		ResolveDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formula_resolve_duration_seconds",
			Help:    "Latency of one top-level block resolution",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"block"}),
		ResultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formula_results_total",
			Help: "Successful resolutions",
		}, []string{"block"}),
		SoftFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formula_soft_failures_total",
			Help: "Indices that could not be resolved",
		}, []string{"block"}),
		HardStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formula_hard_stops_total",
			Help: "Resolutions stopped by an exhausted data source",
		}, []string{"block"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formula_retries_total",
			Help: "Failing passes that were retried",
		}, []string{"block"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formula_cache_hits_total",
			Help: "Invocations resumed from the resolution cache",
		}, []string{"block"}),

		Reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formula_reloads_total",
			Help: "Formula file reloads by outcome",
		}, []string{"outcome"}),
		Diagnostics: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formula_diagnostics",
			Help: "Diagnostics reported by the last parse",
		}),
		Blocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formula_blocks",
			Help: "Blocks in the loaded graph",
		}),

		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formula_candles_total",
			Help: "Closed candles appended to frames",
		}, []string{"stream"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formula_ws_clients",
			Help: "Connected WebSocket clients",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formula_redis_circuit_breaker_state",
			Help: "Redis publisher circuit breaker state (0=closed, 1=half-open, 2=open)",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formula_redis_buffered_results_total",
			Help: "Results buffered while the Redis circuit breaker was open",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ResolveDur,
		m.ResultsTotal,
		m.SoftFailures,
		m.HardStops,
		m.Retries,
		m.CacheHits,
		m.Reloads,
		m.Diagnostics,
		m.Blocks,
		m.CandlesTotal,
		m.WSClients,
		m.RedisCircuitBreakerState,
		m.RedisBufferedWrites,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Retry(block string)    { m.Retries.WithLabelValues(block).Inc() }
func (m *Metrics) CacheHit(block string) { m.CacheHits.WithLabelValues(block).Inc() }

// ObserveResolve records the latency and outcome of one resolution.
func (m *Metrics) ObserveResolve(block string, d time.Duration, err error) {
	m.ResolveDur.WithLabelValues(block).Observe(d.Seconds())
	switch {
	case err == nil:
		m.ResultsTotal.WithLabelValues(block).Inc()
	case errors.Is(err, resolver.ErrDataExhausted):
		m.HardStops.WithLabelValues(block).Inc()
	case errors.Is(err, resolver.ErrUnresolved):
		m.SoftFailures.WithLabelValues(block).Inc()
	}
}

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	GraphLoaded    bool      `json:"graph_loaded"`
	Blocks         int       `json:"blocks"`
	LastReloadAt   time.Time `json:"last_reload_at"`
	LastCandleTime time.Time `json:"last_candle_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLOK          bool      `json:"sql_ok"`

	// Liveness check results
	RedisLatencyMs float64   `json:"redis_latency_ms"`
	SQLLatencyMs   float64   `json:"sql_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`

	useRedis, useSQL bool
}

// NewHealthStatus returns a default health status. Dependencies that are
// not configured do not degrade the status.
func NewHealthStatus(useRedis, useSQL bool) *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), useRedis: useRedis, useSQL: useSQL}
}

func (h *HealthStatus) SetGraph(blocks int) {
	h.mu.Lock()
	h.GraphLoaded = true
	h.Blocks = blocks
	h.LastReloadAt = time.Now()
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQL pings the result database and records latency + health.
func (h *HealthStatus) CheckSQL(ctx context.Context, db *sqlx.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLOK = err == nil
	h.SQLLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil clients are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, db *sqlx.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(checkCtx, rdb)
				}
				if db != nil {
					h.CheckSQL(checkCtx, db)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	redisDown := h.useRedis && !h.RedisConnected
	sqlDown := h.useSQL && !h.SQLOK
	if redisDown || sqlDown {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.GraphLoaded {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	}

	candleAge := ""
	if !h.LastCandleTime.IsZero() {
		candleAge = time.Since(h.LastCandleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status         string  `json:"status"`
		Uptime         string  `json:"uptime"`
		GraphLoaded    bool    `json:"graph_loaded"`
		Blocks         int     `json:"blocks"`
		LastReloadAt   string  `json:"last_reload_at"`
		CandleAge      string  `json:"candle_age"`
		RedisConnected bool    `json:"redis_connected"`
		RedisLatencyMs float64 `json:"redis_latency_ms"`
		SQLOK          bool    `json:"sql_ok"`
		SQLLatencyMs   float64 `json:"sql_latency_ms"`
		LastCheckAt    string  `json:"last_check_at"`
	}{
		Status:         overallStatus,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		GraphLoaded:    h.GraphLoaded,
		Blocks:         h.Blocks,
		LastReloadAt:   h.LastReloadAt.Format(time.RFC3339),
		CandleAge:      candleAge,
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		SQLOK:          h.SQLOK,
		SQLLatencyMs:   h.SQLLatencyMs,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
