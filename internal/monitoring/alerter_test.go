package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visitor-intel/internal/config"
	"github.com/sells-group/visitor-intel/internal/resilience"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold:    0.10,
		PendingBacklogThreshold: 100,
	})

	snap := &Snapshot{
		TasksPending:   20,
		TasksCompleted: 95,
		TasksFailed:    5,
		TaskFailRate:   0.05,
		Breakers: map[string]resilience.BreakerStatus{
			"apollo": {State: "closed"},
			"ipinfo": {State: "half-open"},
		},
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_TaskFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10})

	snap := &Snapshot{
		TasksCompleted: 12,
		TasksFailed:    8,
		TaskFailRate:   0.4,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertTaskFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.False(t, alerts[0].Timestamp.IsZero())
	assert.Equal(t, 20, alerts[0].Details["finished"])
}

func TestAlerter_Evaluate_FailureRateNeedsSample(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10})

	// 2 of 3 failed, but too few finished tasks to alert on.
	snap := &Snapshot{TasksCompleted: 1, TasksFailed: 2, TaskFailRate: 0.667}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_PendingBacklog(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold:    1,
		PendingBacklogThreshold: 500,
	})

	alerts := a.Evaluate(&Snapshot{TasksPending: 501})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertPendingBacklog, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)

	// Zero threshold disables the check.
	a = NewAlerter(config.MonitoringConfig{FailureRateThreshold: 1})
	assert.Empty(t, a.Evaluate(&Snapshot{TasksPending: 10000}))
}

func TestAlerter_Evaluate_CircuitOpen(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 1})

	alerts := a.Evaluate(&Snapshot{
		Breakers: map[string]resilience.BreakerStatus{
			"ipinfo": {State: "open", Rejected: 3},
			"apollo": {State: "open", Rejected: 4},
			"dns":    {State: "closed", Rejected: 9},
		},
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCircuitOpen, alerts[0].Type)
	assert.Equal(t, []string{"apollo", "ipinfo"}, alerts[0].Details["services"])
	assert.Equal(t, int64(7), alerts[0].Details["rejected"])
}

func TestAlerter_Evaluate_Multiple(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold:    0.10,
		PendingBacklogThreshold: 10,
	})

	alerts := a.Evaluate(&Snapshot{
		TasksPending:   50,
		TasksCompleted: 5,
		TasksFailed:    5,
		TaskFailRate:   0.5,
		Breakers:       map[string]resilience.BreakerStatus{"apollo": {State: "open"}},
	})
	require.Len(t, alerts, 3)

	types := make(map[AlertType]bool)
	for _, al := range alerts {
		types[al.Type] = true
	}
	assert.True(t, types[AlertTaskFailureRate])
	assert.True(t, types[AlertPendingBacklog])
	assert.True(t, types[AlertCircuitOpen])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var alert Alert
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert))
		assert.NotEmpty(t, alert.Type)

		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	alerts := []Alert{
		{Type: AlertTaskFailureRate, Severity: "high", Message: "test 1"},
		{Type: AlertCircuitOpen, Severity: "high", Message: "test 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertPendingBacklog}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertPendingBacklog, Message: "x"}})
	assert.Equal(t, 0, sent)
}
