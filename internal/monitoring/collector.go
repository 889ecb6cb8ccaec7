package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadify-flow/internal/model"
	"github.com/sells-group/leadify-flow/internal/resilience"
	"github.com/sells-group/leadify-flow/internal/store"
)

// maxRunsScanned bounds how many runs one snapshot reads.
const maxRunsScanned = 10000

// StageMetrics counts how one stage ended across the window's runs.
type StageMetrics struct {
	Recorded     int     `json:"recorded"`
	OK           int     `json:"ok"`
	Fallback     int     `json:"fallback"`
	Failed       int     `json:"failed"`
	Skipped      int     `json:"skipped"`
	FallbackRate float64 `json:"fallback_rate"`
}

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsQueued   int     `json:"runs_queued"`
	RunsRunning  int     `json:"runs_running"`
	FailRate     float64 `json:"fail_rate"`

	// Fallback metrics over completed runs.
	FallbackRuns int                     `json:"fallback_runs"`
	FallbackRate float64                 `json:"fallback_rate"`
	Stages       map[string]StageMetrics `json:"stages"`

	// Lead metrics over completed runs.
	AvgLeads    float64 `json:"avg_leads"`
	AvgSpeakers float64 `json:"avg_speakers"`
	AvgSponsors float64 `json:"avg_sponsors"`

	// Circuit breakers, when a source is attached.
	Breakers []resilience.BreakerState `json:"breakers,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// BreakerSource reports circuit breaker state. *resilience.Breakers
// satisfies it.
type BreakerSource interface {
	Snapshot() []resilience.BreakerState
}

// Collector gathers metrics from the run store.
type Collector struct {
	store    store.Store
	breakers BreakerSource
}

// NewCollector creates a new metrics collector. breakers may be nil.
func NewCollector(st store.Store, breakers BreakerSource) *Collector {
	return &Collector{store: st, breakers: breakers}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		Stages:        make(map[string]StageMetrics),
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, model.RunFilter{
		CreatedAfter: cutoff,
		Limit:        maxRunsScanned,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var speakers, sponsors int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusQueued:
			snap.RunsQueued++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		if r.Result == nil {
			continue
		}

		for _, sr := range r.Result.Stages {
			m := snap.Stages[string(sr.Stage)]
			m.Recorded++
			switch sr.Outcome {
			case model.OutcomeOK:
				m.OK++
			case model.OutcomeFallback:
				m.Fallback++
			case model.OutcomeFailed:
				m.Failed++
			case model.OutcomeSkipped:
				m.Skipped++
			}
			snap.Stages[string(sr.Stage)] = m
		}

		if r.Status == model.RunStatusComplete {
			if r.Result.UsedFallback {
				snap.FallbackRuns++
			}
			speakers += len(r.Result.Leads.Speakers)
			sponsors += len(r.Result.Leads.Sponsors)
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.RunsComplete > 0 {
		n := float64(snap.RunsComplete)
		snap.FallbackRate = float64(snap.FallbackRuns) / n
		snap.AvgSpeakers = float64(speakers) / n
		snap.AvgSponsors = float64(sponsors) / n
		snap.AvgLeads = float64(speakers+sponsors) / n
	}
	for name, m := range snap.Stages {
		if attempted := m.Recorded - m.Skipped; attempted > 0 {
			m.FallbackRate = float64(m.Fallback) / float64(attempted)
			snap.Stages[name] = m
		}
	}

	if c.breakers != nil {
		snap.Breakers = c.breakers.Snapshot()
	}

	return snap, nil
}
