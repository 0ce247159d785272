package metric_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peercall/metric"
)

func gauge(t *testing.T, m *metric.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var sum float64
		for _, mm := range f.GetMetric() {
			if g := mm.GetGauge(); g != nil {
				sum += g.GetValue()
			}
			if c := mm.GetCounter(); c != nil {
				sum += c.GetValue()
			}
		}
		return sum
	}
	return 0
}

func TestMetrics(t *testing.T) {
	m := metric.New(metric.Config{Port: metric.DefaultMetricsPort, Path: metric.DefaultMetricsPath})

	m.SetRelayStatus(2)
	m.IncReconnectAttempts()
	m.IncReconnectAttempts()
	m.IncSignalingMessages("out", "offer")
	m.IncCandidates("buffered")
	m.IncCandidates("applied")
	m.IncrementWebSocketConnections()
	m.IncrementWebSocketConnections()
	m.DecrementWebSocketConnections()
	m.AddRoomMembers(2)
	m.AddRoomMembers(-1)

	assert.Equal(t, 2.0, gauge(t, m, "peercall_relay_status"))
	assert.Equal(t, 2.0, gauge(t, m, "peercall_relay_reconnect_attempts_total"))
	assert.Equal(t, 1.0, gauge(t, m, "peercall_signaling_messages_total"))
	assert.Equal(t, 2.0, gauge(t, m, "peercall_ice_candidates_total"))
	assert.Equal(t, 1.0, gauge(t, m, "peercall_relay_websocket_connections"))
	assert.Equal(t, 1.0, gauge(t, m, "peercall_relay_room_members"))
}

func TestNilMetrics(t *testing.T) {
	var m *metric.Metrics
	assert.NotPanics(t, func() {
		m.SetRelayStatus(1)
		m.IncReconnectAttempts()
		m.IncSignalingMessages("in", "answer")
		m.IncCalls("started")
		m.IncCandidates("failed")
		m.IncrementWebSocketConnections()
		m.DecrementWebSocketConnections()
		m.AddRoomMembers(1)
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  metric.Config
		wantErr bool
	}{
		{
			name:   "given disabled metrics when validated then accept anything",
			config: metric.Config{},
		},
		{
			name:   "given default port and path when validated then return nil",
			config: metric.Config{Enabled: true, Port: metric.DefaultMetricsPort, Path: metric.DefaultMetricsPath},
		},
		{
			name:    "given out of range port when validated then return error",
			config:  metric.Config{Enabled: true, Port: 70000, Path: metric.DefaultMetricsPath},
			wantErr: true,
		},
		{
			name:    "given relative path when validated then return error",
			config:  metric.Config{Enabled: true, Port: metric.DefaultMetricsPort, Path: "metrics"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, metric.ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}
