package fallback

import (
	"encoding/json"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadify-flow/internal/model"
)

// Input is what a producer may draw on: the event and any output of the
// stages before the one that failed.
type Input struct {
	Event       model.EventData
	Keywords    json.RawMessage
	Queries     []string
	Explanation string
}

// Output carries a producer's substitute for one stage's result. Only the
// field for that stage is set.
type Output struct {
	Keywords json.RawMessage
	Queries  []string
	Profiles []json.RawMessage
	Ranked   []model.RankedProfile
	Message  string
}

// Producer builds a stand-in result for a failed stage.
type Producer func(in Input) (Output, error)

// Policy maps each stage to the producer used when it fails. A stage with no
// entry has no fallback and its failure ends the run.
type Policy map[model.ProcessStage]Producer

// DefaultPolicy returns producers for every backend stage, backed by ds.
func DefaultPolicy(ds *Dataset) Policy {
	return Policy{
		model.StageKeywordExtraction: func(in Input) (Output, error) {
			if ds.Keywords != nil {
				b, err := json.Marshal(ds.Keywords)
				if err != nil {
					return Output{}, eris.Wrap(err, "fallback: encode keywords")
				}
				return Output{Keywords: b}, nil
			}
			return Output{Keywords: KeywordsFromEvent(in.Event)}, nil
		},
		model.StageQueryGeneration: func(in Input) (Output, error) {
			if len(ds.Queries) > 0 {
				return Output{Queries: slices.Clone(ds.Queries)}, nil
			}
			return Output{Queries: QueriesFromEvent(in.Event)}, nil
		},
		model.StageProfileSearch: func(Input) (Output, error) {
			profiles := make([]json.RawMessage, 0, len(ds.Ranked))
			for _, rp := range ds.Ranked {
				b, err := json.Marshal(rp.Profile)
				if err != nil {
					return Output{}, eris.Wrap(err, "fallback: encode profile")
				}
				profiles = append(profiles, b)
			}
			return Output{Profiles: profiles}, nil
		},
		model.StageProfileRanking: func(Input) (Output, error) {
			return Output{Ranked: ds.RankedCopy()}, nil
		},
		model.StageOutreachGeneration: func(in Input) (Output, error) {
			return Output{Message: in.Explanation}, nil
		},
	}
}

// Without returns a copy of p with the given stages removed.
func (p Policy) Without(stages ...model.ProcessStage) Policy {
	out := make(Policy, len(p))
	for stage, prod := range p {
		if !slices.Contains(stages, stage) {
			out[stage] = prod
		}
	}
	return out
}

// KeywordsFromEvent derives a keyword payload from the event's own fields.
func KeywordsFromEvent(event model.EventData) json.RawMessage {
	topics := event.Topics
	if topics == nil {
		topics = []string{}
	}
	b, _ := json.Marshal(map[string]any{
		"topics":     topics,
		"event_type": event.Type,
		"location":   event.Location,
	})
	return b
}

// QueriesFromEvent builds one search query per event topic, or one from the
// event name when there are no topics.
func QueriesFromEvent(event model.EventData) []string {
	var out []string
	for _, t := range event.Topics {
		if t == "" {
			continue
		}
		out = append(out, t+" speaker")
	}
	if len(out) == 0 && event.Name != "" {
		out = append(out, event.Name+" speaker")
	}
	return out
}
