package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the contracts data engine.
type Metrics struct {
	TicksTotal    prometheus.Counter
	SnapshotsOut  prometheus.Counter
	WSReconnects  prometheus.Counter
	DroppedTicks  prometheus.Counter
	CacheSize     *prometheus.GaugeVec // labels: segment
	MergeDur      prometheus.Histogram

	// Master load metrics
	ContractsLoaded *prometheus.GaugeVec   // labels: segment
	ParseErrors     *prometheus.CounterVec // labels: segment
	MasterLoadDur   prometheus.Histogram

	// Greeks / IV solver metrics
	IVIterations    prometheus.Histogram
	IVNonConverged  prometheus.Counter
	GreeksCacheHits prometheus.Counter
	GreeksComputed  prometheus.Counter

	// ATM watcher metrics
	ATMRecalcs    *prometheus.CounterVec // labels: symbol
	ATMSkipped    prometheus.Counter
	ATMComputeDur prometheus.Histogram

	// Fanout / ring buffer backpressure
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber
	RingBufOverflow  prometheus.Counter

	// Store metrics
	RedisWriteDur            prometheus.Histogram
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
	SQLiteCommitDur          prometheus.Histogram
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketcore_ticks_total",
			Help: "Total partial ticks received from the feed",
		}),
		SnapshotsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketcore_snapshots_published_total",
			Help: "Merged snapshots published to subscribers",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketcore_ws_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketcore_dropped_ticks_total",
			Help: "Ticks dropped (malformed or channel full)",
		}),
		CacheSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketcore_price_cache_size",
			Help: "Live price cache entries per segment",
		}, []string{"segment"}),
		MergeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketcore_merge_duration_seconds",
			Help:    "Partial tick merge latency",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),

		ContractsLoaded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketcore_contracts_loaded",
			Help: "Contracts loaded per segment",
		}, []string{"segment"}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketcore_master_parse_errors_total",
			Help: "Malformed master lines skipped per segment",
		}, []string{"segment"}),
		MasterLoadDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketcore_master_load_duration_seconds",
			Help:    "Master file load latency per segment",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		IVIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketcore_iv_iterations",
			Help:    "Newton-Raphson iterations per IV solve",
			Buckets: []float64{1, 2, 3, 5, 10, 25, 50, 100},
		}),
		IVNonConverged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketcore_iv_non_converged_total",
			Help: "IV solves that failed to converge",
		}),
		GreeksCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketcore_greeks_cache_hits_total",
			Help: "Greeks requests served from the result cache",
		}),
		GreeksComputed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketcore_greeks_computed_total",
			Help: "Full greeks computations performed",
		}),

		ATMRecalcs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketcore_atm_recalcs_total",
			Help: "ATM strike recalculations per symbol",
		}, []string{"symbol"}),
		ATMSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketcore_atm_skipped_total",
			Help: "ATM recalculations skipped (already in flight)",
		}),
		ATMComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketcore_atm_compute_duration_seconds",
			Help:    "ATM resolve latency",
			Buckets: []float64{0.000001, 0.00001, 0.0001, 0.001, 0.01},
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketcore_fanout_drops_total",
			Help: "Snapshots dropped by the fanout bus per subscriber",
		}, []string{"subscriber"}),
		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketcore_ringbuf_overflow_total",
			Help: "Ring buffer push overflows (dropped snapshots)",
		}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketcore_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketcore_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketcore_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketcore_redis_buffered_writes_total",
			Help: "Writes buffered locally while the breaker is open",
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketcore_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.SnapshotsOut,
		m.WSReconnects,
		m.DroppedTicks,
		m.CacheSize,
		m.MergeDur,
		m.ContractsLoaded,
		m.ParseErrors,
		m.MasterLoadDur,
		m.IVIterations,
		m.IVNonConverged,
		m.GreeksCacheHits,
		m.GreeksComputed,
		m.ATMRecalcs,
		m.ATMSkipped,
		m.ATMComputeDur,
		m.FanoutDropsTotal,
		m.RingBufOverflow,
		m.RedisWriteDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.SQLiteCommitDur,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool      `json:"ws_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	MastersLoaded  bool      `json:"masters_loaded"`
	Segments       []string  `json:"segments"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetMastersLoaded(v bool) {
	h.mu.Lock()
	h.MastersLoaded = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSegments(segs []string) {
	h.mu.Lock()
	h.Segments = segs
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

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
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

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.MastersLoaded || !h.WSConnected {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.MastersLoaded && !h.RedisConnected {
		overallStatus = "unhealthy"
	}

	// Tick age
	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		MastersLoaded   bool     `json:"masters_loaded"`
		Segments        []string `json:"segments"`
		WSConnected     bool     `json:"ws_connected"`
		LastTickTime    string   `json:"last_tick_time"`
		TickAge         string   `json:"tick_age"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		MastersLoaded:   h.MastersLoaded,
		Segments:        h.Segments,
		WSConnected:     h.WSConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
