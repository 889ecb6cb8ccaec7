package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadify-flow/internal/config"
	"github.com/sells-group/leadify-flow/internal/model"
	"github.com/sells-group/leadify-flow/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertFallbackRate   AlertType = "fallback_rate"
	AlertCircuitOpen    AlertType = "circuit_open"
)

// minSample is the number of observations below which rates are not alerted on.
const minSample = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Run failure rate.
	finished := snap.RunsComplete + snap.RunsFailed
	if finished >= minSample && a.cfg.FailureRateThreshold > 0 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	// Per-stage fallback rate, in execution order.
	if a.cfg.FallbackRateThreshold > 0 {
		for _, stage := range model.WorkStages() {
			m, ok := snap.Stages[string(stage)]
			if !ok || m.Recorded-m.Skipped < minSample || m.FallbackRate <= a.cfg.FallbackRateThreshold {
				continue
			}
			alerts = append(alerts, Alert{
				Type:     AlertFallbackRate,
				Severity: "medium",
				Message: fmt.Sprintf(
					"Stage %s used sample data in %.1f%% of runs, above threshold %.1f%% (last %dh)",
					stage, m.FallbackRate*100, a.cfg.FallbackRateThreshold*100, snap.LookbackHours,
				),
				Details: map[string]any{
					"stage":         string(stage),
					"fallback_rate": m.FallbackRate,
					"fallbacks":     m.Fallback,
					"threshold":     a.cfg.FallbackRateThreshold,
				},
				Timestamp: now,
			})
		}
	}

	// Open circuits.
	for _, b := range snap.Breakers {
		if b.State != resilience.CircuitOpen.String() {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertCircuitOpen,
			Severity: "high",
			Message:  fmt.Sprintf("Circuit for %s is open after %d consecutive failures", b.Name, b.Failures),
			Details: map[string]any{
				"breaker":  b.Name,
				"failures": b.Failures,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts logs every alert and delivers it to the webhook URL, if one is
// configured. Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	for _, alert := range alerts {
		zap.L().Warn("monitoring: alert",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
			zap.String("message", alert.Message),
		)
	}
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
