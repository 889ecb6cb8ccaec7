package fallback

import (
	"encoding/json"

	"github.com/sells-group/leadify-flow/internal/model"
)

// Trigger names why a ranking response was replaced.
type Trigger string

const (
	TriggerNone        Trigger = ""
	TriggerCallFailed  Trigger = "call_failed"
	TriggerInvalidJSON Trigger = "invalid_json"
	TriggerNoRanked    Trigger = "no_ranked"
)

// RankingTrigger checks a ranking response, in order: the call failed, the
// body is not JSON, or `ranked` is absent, not an array, empty, or holds no
// entry that decodes as a ranked profile. It returns the raw entries when the
// response is usable.
func RankingTrigger(body []byte, callErr error) ([]json.RawMessage, Trigger) {
	if callErr != nil {
		return nil, TriggerCallFailed
	}

	var envelope map[string]json.RawMessage
	if !json.Valid(body) {
		return nil, TriggerInvalidJSON
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		// Valid JSON but not an object.
		return nil, TriggerNoRanked
	}

	raw, ok := envelope["ranked"]
	if !ok {
		return nil, TriggerNoRanked
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil || len(entries) == 0 {
		return nil, TriggerNoRanked
	}
	for _, e := range entries {
		var rp model.RankedProfile
		if json.Unmarshal(e, &rp) == nil {
			return entries, TriggerNone
		}
	}
	return nil, TriggerNoRanked
}

// Provider serves one dataset through a policy. It is safe for concurrent use.
type Provider struct {
	dataset *Dataset
	policy  Policy
}

// NewProvider builds a Provider over ds with the default policy minus any
// disabled stages.
func NewProvider(ds *Dataset, disabled ...model.ProcessStage) *Provider {
	return &Provider{dataset: ds, policy: DefaultPolicy(ds).Without(disabled...)}
}

// NewProviderWithPolicy builds a Provider with an explicit policy.
func NewProviderWithPolicy(ds *Dataset, policy Policy) *Provider {
	return &Provider{dataset: ds, policy: policy}
}

// Lookup returns the producer for stage, if the policy has one.
func (p *Provider) Lookup(stage model.ProcessStage) (Producer, bool) {
	prod, ok := p.policy[stage]
	return prod, ok && prod != nil
}

// Stages lists the stages that have a producer, in execution order.
func (p *Provider) Stages() []model.ProcessStage {
	var out []model.ProcessStage
	for _, s := range model.WorkStages() {
		if _, ok := p.Lookup(s); ok {
			out = append(out, s)
		}
	}
	return out
}

// Dataset returns the underlying dataset.
func (p *Provider) Dataset() *Dataset { return p.dataset }
