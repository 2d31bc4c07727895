package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// HealthSnapshot captures a point-in-time view of one engine's coordination
// state, the swarm-domain analogue of a node's block-height/peer-count
// health line.
type HealthSnapshot struct {
	ActiveLeases    int    `json:"active_leases"`
	ActiveVerifiers int    `json:"active_verifiers"`
	BootstrapMode   bool   `json:"bootstrap_mode"`
	KPlan           int    `json:"k_plan"`
	LatestEpoch     int64  `json:"latest_epoch"`
	PeerCount       int    `json:"peer_count"`
	MemAlloc        uint64 `json:"mem_alloc"`
	NumGoroutines   int    `json:"goroutines"`
	Timestamp       int64  `json:"timestamp"`
}

// HealthLogger periodically snapshots an Engine (plus its gossip transport
// and checkpoint manager, when present) into structured JSON logs and
// Prometheus gauges.
type HealthLogger struct {
	engine     *Engine
	gossip     *GossipNode
	checkpoint *CheckpointManager

	log  *logrus.Logger
	file *os.File
	mu   sync.Mutex

	registry         *prometheus.Registry
	leasesGauge      prometheus.Gauge
	verifiersGauge   prometheus.Gauge
	bootstrapGauge   prometheus.Gauge
	kPlanGauge       prometheus.Gauge
	epochGauge       prometheus.Gauge
	peerCountGauge   prometheus.Gauge
	memAllocGauge    prometheus.Gauge
	goroutinesGauge  prometheus.Gauge
	gasExceededTotal prometheus.Counter
	errorCounter     prometheus.Counter
}

// NewHealthLogger opens path for append-only JSON health logging and
// registers the engine's Prometheus gauges. gossip and checkpoint may be
// nil when the caller has no live transport or checkpoint manager to
// observe (e.g. a standalone DECIDE-adapter-only process).
func NewHealthLogger(engine *Engine, gossip *GossipNode, checkpoint *CheckpointManager, path string) (*HealthLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	lg := logrus.New()
	lg.SetFormatter(&logrus.JSONFormatter{})
	lg.SetOutput(f)
	reg := prometheus.NewRegistry()

	h := &HealthLogger{engine: engine, gossip: gossip, checkpoint: checkpoint, log: lg, file: f, registry: reg}

	h.leasesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarmcore_active_leases",
		Help: "Number of leases currently held by workers",
	})
	h.verifiersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarmcore_active_verifiers",
		Help: "Number of active verifier pool members",
	})
	h.bootstrapGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarmcore_bootstrap_mode",
		Help: "1 if the swarm is below the bootstrap threshold, else 0",
	})
	h.kPlanGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarmcore_k_plan",
		Help: "Current dynamic quorum size",
	})
	h.epochGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarmcore_latest_checkpoint_epoch",
		Help: "Epoch of the most recently sealed checkpoint",
	})
	h.peerCountGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarmcore_peer_count",
		Help: "Number of connected gossip peers",
	})
	h.memAllocGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarmcore_mem_alloc_bytes",
		Help: "Current memory allocation in bytes",
	})
	h.goroutinesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "swarmcore_goroutines",
		Help: "Number of running goroutines",
	})
	h.gasExceededTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarmcore_gas_exceeded_total",
		Help: "Total number of policy gate evaluations that exceeded the gas limit",
	})
	h.errorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "swarmcore_log_errors_total",
		Help: "Total number of error-level events logged",
	})

	reg.MustRegister(
		h.leasesGauge,
		h.verifiersGauge,
		h.bootstrapGauge,
		h.kPlanGauge,
		h.epochGauge,
		h.peerCountGauge,
		h.memAllocGauge,
		h.goroutinesGauge,
		h.gasExceededTotal,
		h.errorCounter,
	)

	return h, nil
}

// Close releases the underlying log file.
func (h *HealthLogger) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Close()
}

// Rotate switches logging to a new file path.
func (h *HealthLogger) Rotate(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.file.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	h.log.SetOutput(f)
	h.file = f
	return nil
}

// LogEvent records an arbitrary message at the given level, counting
// error-and-above events toward errorCounter.
func (h *HealthLogger) LogEvent(level logrus.Level, msg string) {
	h.mu.Lock()
	if level >= logrus.ErrorLevel {
		h.errorCounter.Inc()
	}
	h.log.Log(level, msg)
	h.mu.Unlock()
}

// RecordGasExceeded increments the gas-exceeded counter. The policy gate
// does not call it; the counter moves only when a caller invokes it.
func (h *HealthLogger) RecordGasExceeded() {
	h.gasExceededTotal.Inc()
}

// Snapshot gathers current metrics from the engine, transport, checkpoint
// manager, and Go runtime.
func (h *HealthLogger) Snapshot() HealthSnapshot {
	s := HealthSnapshot{Timestamp: time.Now().Unix(), NumGoroutines: runtime.NumGoroutine()}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.MemAlloc = mem.Alloc

	if h.engine != nil {
		active := h.engine.Verifiers.ActiveCount()
		s.ActiveVerifiers = active
		s.BootstrapMode = h.engine.Bootstrap.IsBootstrap(active)
		s.KPlan = h.engine.Bootstrap.KPlan(active)
		s.ActiveLeases = h.engine.Leases.Count()
	}
	if h.gossip != nil {
		s.PeerCount = len(h.gossip.Peers())
	}
	if h.checkpoint != nil {
		if epoch, ok, err := h.checkpoint.LatestEpoch(); err == nil && ok {
			s.LatestEpoch = epoch
		}
	}
	return s
}

// RecordMetrics captures a snapshot, updates the Prometheus gauges, and logs
// the snapshot as a JSON event.
func (h *HealthLogger) RecordMetrics() {
	s := h.Snapshot()
	h.leasesGauge.Set(float64(s.ActiveLeases))
	h.verifiersGauge.Set(float64(s.ActiveVerifiers))
	if s.BootstrapMode {
		h.bootstrapGauge.Set(1)
	} else {
		h.bootstrapGauge.Set(0)
	}
	h.kPlanGauge.Set(float64(s.KPlan))
	h.epochGauge.Set(float64(s.LatestEpoch))
	h.peerCountGauge.Set(float64(s.PeerCount))
	h.memAllocGauge.Set(float64(s.MemAlloc))
	h.goroutinesGauge.Set(float64(s.NumGoroutines))

	h.mu.Lock()
	raw, err := json.Marshal(s)
	h.mu.Unlock()
	if err == nil {
		h.LogEvent(logrus.InfoLevel, string(raw))
	}
}

// RunMetricsCollector records metrics every interval until ctx is cancelled.
func (h *HealthLogger) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.RecordMetrics()
		case <-ctx.Done():
			return
		}
	}
}

// StartMetricsServer exposes the registry's /metrics endpoint on addr,
// returning the underlying http.Server so callers manage its lifecycle.
func (h *HealthLogger) StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.LogEvent(logrus.ErrorLevel, err.Error())
		}
	}()
	return srv
}
