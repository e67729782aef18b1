package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-intel/internal/config"
	"github.com/sells-group/visitor-intel/internal/resilience"
)

// AlertType identifies the condition that raised an alert.
type AlertType string

const (
	AlertTaskFailureRate AlertType = "task_failure_rate"
	AlertPendingBacklog  AlertType = "pending_backlog"
	AlertCircuitOpen     AlertType = "circuit_open"
)

// Below this many finished tasks the failure rate is noise.
const minFinishedForRate = 5

// Alert is one breached threshold, posted as JSON to the webhook.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// rule inspects a snapshot and returns an alert, or nil when healthy.
type rule func(snap *Snapshot, cfg config.MonitoringConfig) *Alert

var rules = []rule{failureRateRule, backlogRule, openCircuitRule}

func failureRateRule(snap *Snapshot, cfg config.MonitoringConfig) *Alert {
	finished := snap.TasksCompleted + snap.TasksFailed
	if finished < minFinishedForRate || snap.TaskFailRate <= cfg.FailureRateThreshold {
		return nil
	}
	return &Alert{
		Type:     AlertTaskFailureRate,
		Severity: "high",
		Message: fmt.Sprintf("enrichment failure rate %.1f%% is above %.1f%% (%d of %d finished tasks failed)",
			snap.TaskFailRate*100, cfg.FailureRateThreshold*100, snap.TasksFailed, finished),
		Details: map[string]any{
			"failure_rate": snap.TaskFailRate,
			"threshold":    cfg.FailureRateThreshold,
			"failed":       snap.TasksFailed,
			"finished":     finished,
		},
	}
}

func backlogRule(snap *Snapshot, cfg config.MonitoringConfig) *Alert {
	limit := cfg.PendingBacklogThreshold
	if limit <= 0 || snap.TasksPending <= limit {
		return nil
	}
	return &Alert{
		Type:     AlertPendingBacklog,
		Severity: "medium",
		Message:  fmt.Sprintf("%d enrichment tasks pending, backlog limit is %d", snap.TasksPending, limit),
		Details:  map[string]any{"pending": snap.TasksPending, "threshold": limit},
	}
}

func openCircuitRule(snap *Snapshot, _ config.MonitoringConfig) *Alert {
	var open []string
	var rejected int64
	for name, st := range snap.Breakers {
		if st.State != resilience.CircuitOpen.String() {
			continue
		}
		open = append(open, name)
		rejected += st.Rejected
	}
	if len(open) == 0 {
		return nil
	}
	slices.Sort(open)
	return &Alert{
		Type:     AlertCircuitOpen,
		Severity: "high",
		Message:  fmt.Sprintf("lookups failing fast, circuit open for %v", open),
		Details:  map[string]any{"services": open, "rejected": rejected},
	}
}

// Alerter turns snapshots into alerts and posts them to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates an Alerter for the given thresholds.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate applies every rule to snap and returns the alerts that fired.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	ts := a.now()
	var out []Alert
	for _, r := range rules {
		if al := r(snap, a.cfg); al != nil {
			al.Timestamp = ts
			out = append(out, *al)
		}
	}
	return out
}

// SendAlerts posts each alert to the webhook and returns how many were
// accepted. Without a webhook URL nothing is sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}
	sent := 0
	for _, al := range alerts {
		log := zap.L().With(zap.String("type", string(al.Type)), zap.String("severity", al.Severity))
		if err := a.post(ctx, al); err != nil {
			log.Error("monitoring: alert delivery failed", zap.Error(err))
			continue
		}
		log.Info("monitoring: alert delivered")
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, al Alert) error {
	body, err := json.Marshal(al)
	if err != nil {
		return eris.Wrap(err, "monitoring: encode alert")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode/100 != 2 {
		return eris.Errorf("monitoring: webhook responded %s", resp.Status)
	}
	return nil
}
