package model

import (
	"encoding/json"
	"time"
)

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Input is everything the pipeline reads when it fires.
type Input struct {
	Event    EventData `json:"event" yaml:"event"`
	Audience Audience  `json:"audience" yaml:"audience"`
	Goals    Goals     `json:"goals" yaml:"goals"`
}

// Run represents a single pipeline run.
type Run struct {
	ID        string        `json:"id"`
	Input     Input         `json:"input"`
	Status    RunStatus     `json:"status"`
	Process   ProcessStatus `json:"process"`
	Result    *RunResult    `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StageOutcome describes how a stage produced its output.
type StageOutcome string

const (
	OutcomeRunning  StageOutcome = "running"
	OutcomeOK       StageOutcome = "ok"
	OutcomeFallback StageOutcome = "fallback"
	OutcomeFailed   StageOutcome = "failed"
	OutcomeSkipped  StageOutcome = "skipped"
)

// StageResult holds the outcome of one pipeline stage.
type StageResult struct {
	Stage    ProcessStage   `json:"stage"`
	Outcome  StageOutcome   `json:"outcome"`
	Attempts int            `json:"attempts"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RunStage is a persisted stage record within a run.
type RunStage struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Stage     ProcessStage `json:"stage"`
	Result    *StageResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// RunResult is the final output of the pipeline.
type RunResult struct {
	RunID          string          `json:"run_id"`
	Leads          Leads           `json:"leads"`
	Keywords       json.RawMessage `json:"keywords,omitempty"`
	Queries        []string        `json:"queries"`
	ProfilesFound  int             `json:"profiles_found"`
	Stages         []StageResult   `json:"stages"`
	FallbackStages []ProcessStage  `json:"fallback_stages,omitempty"`
	UsedFallback   bool            `json:"used_fallback"`
	Notices        []string        `json:"notices,omitempty"`
}

// Stage returns the recorded result for a stage, if any.
func (r *RunResult) Stage(stage ProcessStage) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s, true
		}
	}
	return StageResult{}, false
}

// RunFilter narrows ListRuns results.
type RunFilter struct {
	Status       RunStatus `json:"status,omitempty"`
	CreatedAfter time.Time `json:"created_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}
