package model

import "fmt"

// ProcessStage is a step of the lead-generation pipeline.
type ProcessStage string

const (
	StageIdle               ProcessStage = "idle"
	StageKeywordExtraction  ProcessStage = "keyword_extraction"
	StageQueryGeneration    ProcessStage = "query_generation"
	StageProfileSearch      ProcessStage = "profile_search"
	StageProfileRanking     ProcessStage = "profile_ranking"
	StageOutreachGeneration ProcessStage = "outreach_generation"
	StageCompleted          ProcessStage = "completed"
)

var stageOrder = []ProcessStage{
	StageIdle,
	StageKeywordExtraction,
	StageQueryGeneration,
	StageProfileSearch,
	StageProfileRanking,
	StageOutreachGeneration,
	StageCompleted,
}

// Stages returns all stages in execution order.
func Stages() []ProcessStage {
	out := make([]ProcessStage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// WorkStages returns the stages that call the backend, in order.
func WorkStages() []ProcessStage {
	return Stages()[1 : len(stageOrder)-1]
}

// Index returns the stage's position in execution order, or -1 if unknown.
func (s ProcessStage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known stage.
func (s ProcessStage) Valid() bool { return s.Index() >= 0 }

// Before reports whether s runs strictly before other.
func (s ProcessStage) Before(other ProcessStage) bool {
	return s.Index() < other.Index()
}

// ParseStage converts a stage name into a ProcessStage.
func ParseStage(name string) (ProcessStage, error) {
	s := ProcessStage(name)
	if !s.Valid() {
		return "", fmt.Errorf("unknown stage %q", name)
	}
	return s, nil
}

// ProcessStatus is the pollable pipeline position shown to the UI.
type ProcessStatus struct {
	Stage    ProcessStage `json:"stage"`
	Progress int          `json:"progress"`
}

// IdleStatus is the status before any run and after a reset.
func IdleStatus() ProcessStatus {
	return ProcessStatus{Stage: StageIdle, Progress: 0}
}

// After reports whether s is strictly ahead of other in the run.
func (s ProcessStatus) After(other ProcessStatus) bool {
	if s.Stage != other.Stage {
		return other.Stage.Before(s.Stage)
	}
	return s.Progress > other.Progress
}

// Done reports whether the run has completed.
func (s ProcessStatus) Done() bool { return s.Stage == StageCompleted }
