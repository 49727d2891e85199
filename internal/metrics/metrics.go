// Package metrics 分析流水线的 Prometheus 指标。
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "udite_analyzer"

// Metrics 流水线指标
type Metrics struct {
	registry *prometheus.Registry

	MessagesReceived   *prometheus.CounterVec
	EventsAccepted     *prometheus.CounterVec
	EventsRejected     *prometheus.CounterVec
	AlertsFired        *prometheus.CounterVec
	DownstreamErrors   *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram
	TrackedSensors     prometheus.Gauge
	WindowEvictions    prometheus.Counter
}

// New 创建指标并注册到独立的 Registry（附带 Go 运行时与进程指标）
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "received_total",
				Help:      "Total number of MQTT messages received",
			},
			[]string{"topic"},
		),

		EventsAccepted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "accepted_total",
				Help:      "Total number of events that passed validation",
			},
			[]string{"category"},
		),

		EventsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "rejected_total",
				Help:      "Total number of discarded events by reason",
			},
			[]string{"reason"},
		),

		AlertsFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "fired_total",
				Help:      "Total number of alerts fired",
			},
			[]string{"category", "rule"},
		),

		DownstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "downstream",
				Name:      "errors_total",
				Help:      "Total number of storage/publish/cache failures",
			},
			[]string{"stage"},
		),

		ProcessingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Time spent validating, windowing and evaluating one message",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
			},
		),

		TrackedSensors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "window",
				Name:      "tracked_sensors",
				Help:      "Number of (category, sensor_id) windows held in memory",
			},
		),

		WindowEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "window",
				Name:      "evictions_total",
				Help:      "Total number of events evicted from full windows",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.MessagesReceived,
		m.EventsAccepted,
		m.EventsRejected,
		m.AlertsFired,
		m.DownstreamErrors,
		m.ProcessingDuration,
		m.TrackedSensors,
		m.WindowEvictions,
	)

	return m
}

// Registry 返回底层 Prometheus Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveProcessing 记录一次处理耗时
func (m *Metrics) ObserveProcessing(start time.Time) {
	m.ProcessingDuration.Observe(time.Since(start).Seconds())
}

// Server 指标 HTTP 服务（/metrics 与 /health）
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer 创建指标服务
func NewServer(addr string, m *Metrics, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start 在后台启动监听
func (s *Server) Start() {
	go func() {
		s.logger.Info("Metrics server listening", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
}

// Stop 优雅关闭
func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}
	return nil
}
