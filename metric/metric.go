// Package metric provides Prometheus metrics collection and monitoring.
//
// A nil *Metrics is valid and records nothing, so components can run without
// a metrics server.
package metric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/cpu"
)

// Metrics contains the Prometheus metrics server and registered custom metrics.
type Metrics struct {
	httpServer *http.Server
	config     Config
	registry   *prometheus.Registry

	relayStatus          prometheus.Gauge
	reconnectAttempts    prometheus.Counter
	signalingMessages    *prometheus.CounterVec
	calls                *prometheus.CounterVec
	candidates           *prometheus.CounterVec
	webSocketConnections prometheus.Gauge
	roomMembers          prometheus.Gauge
	cpuUsage             prometheus.Gauge
	memoryUsage          prometheus.Gauge
}

// New creates a new Metrics instance with the specified configuration and
// registers its collectors on a private registry.
func New(config Config) *Metrics {
	m := &Metrics{
		config:   config,
		registry: prometheus.NewRegistry(),
		relayStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: DefaultMetricNamespace,
			Name:      "relay_status",
			Help:      "Relay connection status: 0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 failed.",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: DefaultMetricNamespace,
			Name:      "relay_reconnect_attempts_total",
			Help:      "Number of scheduled relay reconnect attempts.",
		}),
		signalingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: DefaultMetricNamespace,
			Name:      "signaling_messages_total",
			Help:      "Number of signaling envelopes by direction and type.",
		}, []string{"direction", "type"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: DefaultMetricNamespace,
			Name:      "calls_total",
			Help:      "Number of call lifecycle events by outcome.",
		}, []string{"outcome"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: DefaultMetricNamespace,
			Name:      "ice_candidates_total",
			Help:      "Number of remote ICE candidates by result.",
		}, []string{"result"}),
		webSocketConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: DefaultMetricNamespace,
			Name:      "relay_websocket_connections",
			Help:      "Current number of WebSocket connections on the relay.",
		}),
		roomMembers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: DefaultMetricNamespace,
			Name:      "relay_room_members",
			Help:      "Current number of participants joined to rooms on the relay.",
		}),
		cpuUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: DefaultMetricNamespace,
			Name:      "cpu_usage_percentage",
			Help:      "CPU usage percentage.",
		}),
		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: DefaultMetricNamespace,
			Name:      "memory_usage_bytes",
			Help:      "Current heap allocation in bytes.",
		}),
	}
	m.registry.MustRegister(
		m.relayStatus,
		m.reconnectAttempts,
		m.signalingMessages,
		m.calls,
		m.candidates,
		m.webSocketConnections,
		m.roomMembers,
		m.cpuUsage,
		m.memoryUsage,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Start serves the metrics endpoint until ctx is done.
func (m *Metrics) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(m.config.Path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", m.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 2 * time.Second,
	}

	go func() {
		<-ctx.Done()
		if err := m.httpServer.Close(); err != nil {
			slog.Warn("stopping metrics server", "err", err)
		}
	}()

	slog.Info("starting metrics server", "port", m.config.Port, "path", m.config.Path)
	if err := m.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// UpdateSystemMetrics samples CPU and memory usage every interval until ctx is done.
func (m *Metrics) UpdateSystemMetrics(ctx context.Context, interval time.Duration) {
	if m == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		m.sampleSystem()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Metrics) sampleSystem() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.memoryUsage.Set(float64(memStats.Alloc))

	percent, err := cpu.Percent(0, false)
	if err != nil || len(percent) == 0 {
		return
	}
	m.cpuUsage.Set(percent[0])
}

// SetRelayStatus records the numeric relay connection status.
func (m *Metrics) SetRelayStatus(status int) {
	if m == nil {
		return
	}
	m.relayStatus.Set(float64(status))
}

// IncReconnectAttempts counts a scheduled reconnect.
func (m *Metrics) IncReconnectAttempts() {
	if m == nil {
		return
	}
	m.reconnectAttempts.Inc()
}

// IncSignalingMessages counts an envelope sent ("out") or received ("in").
func (m *Metrics) IncSignalingMessages(direction, msgType string) {
	if m == nil {
		return
	}
	m.signalingMessages.WithLabelValues(direction, msgType).Inc()
}

// IncCalls counts a call lifecycle outcome such as "started" or "ended".
func (m *Metrics) IncCalls(outcome string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(outcome).Inc()
}

// IncCandidates counts a remote candidate that was "buffered", "applied" or "failed".
func (m *Metrics) IncCandidates(result string) {
	if m == nil {
		return
	}
	m.candidates.WithLabelValues(result).Inc()
}

// IncrementWebSocketConnections increments the WebSocket connection count.
func (m *Metrics) IncrementWebSocketConnections() {
	if m == nil {
		return
	}
	m.webSocketConnections.Inc()
}

// DecrementWebSocketConnections decrements the WebSocket connection count.
func (m *Metrics) DecrementWebSocketConnections() {
	if m == nil {
		return
	}
	m.webSocketConnections.Dec()
}

// AddRoomMembers adjusts the joined participant count by delta.
func (m *Metrics) AddRoomMembers(delta int) {
	if m == nil {
		return
	}
	m.roomMembers.Add(float64(delta))
}
