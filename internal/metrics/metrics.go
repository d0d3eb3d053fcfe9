// Package metrics exposes Prometheus instrumentation for the pipeline's
// stage queues, worker pools, and subprocess invocations.
package metrics

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueDepth reports the number of jobs currently sitting in a given
	// status, refreshed periodically from store stats while the workflow
	// manager runs.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cliparr_queue_depth",
		Help: "Number of processing jobs currently in a given status.",
	}, []string{"status"})

	// PoolWorkersBusy reports how many of a pool's workers are currently
	// executing a stage.
	PoolWorkersBusy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cliparr_pool_workers_busy",
		Help: "Number of workers in a pool currently executing a stage.",
	}, []string{"pool"})

	// PoolWorkersConfigured reports the configured size of a worker pool.
	PoolWorkersConfigured = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cliparr_pool_workers_configured",
		Help: "Configured worker count for a pool.",
	}, []string{"pool"})

	// StageDuration records wall-clock time spent executing a stage.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cliparr_stage_duration_seconds",
		Help:    "Time spent executing a pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. ~2h
	}, []string{"stage", "outcome"})

	// StageFailuresTotal counts stage failures by kind.
	StageFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cliparr_stage_failures_total",
		Help: "Total stage failures by stage and error kind.",
	}, []string{"stage", "kind"})

	// SubprocessInFlight reports the number of FFmpeg/fpcalc subprocesses
	// currently running, mirroring the active-ffmpeg API surface.
	SubprocessInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cliparr_subprocess_in_flight",
		Help: "Number of external subprocesses currently running.",
	}, []string{"tool"})

	// DetectionConfidence records the confidence score emitted per detection.
	DetectionConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cliparr_detection_confidence",
		Help:    "Confidence score distribution for emitted detection results.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})
)

// ObserveStage records the outcome and duration of a finished stage run.
func ObserveStage(stage string, started time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	StageDuration.WithLabelValues(stage, outcome).Observe(time.Since(started).Seconds())
}

// Server wraps a promhttp handler bound to MetricsBind. Unlike the API and
// WebSocket servers, a disabled bind (empty string) is a valid, common
// configuration: metrics are optional instrumentation, not a pipeline
// dependency.
type Server struct {
	bind     string
	listener net.Listener
	http     *http.Server
}

// NewServer constructs a metrics server for the given bind address. Pass an
// empty bind to disable metrics entirely.
func NewServer(bind string) *Server {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		bind: bind,
		http: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start begins serving /metrics in the background.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return err
	}
	s.listener = listener
	go func() {
		_ = s.http.Serve(listener)
	}()
	return nil
}

// Stop shuts the metrics server down within the given context's deadline.
func (s *Server) Stop(ctx context.Context) {
	if s == nil || s.http == nil {
		return
	}
	_ = s.http.Shutdown(ctx)
}
