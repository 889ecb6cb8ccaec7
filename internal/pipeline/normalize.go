package pipeline

import (
	"encoding/json"
	"errors"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/leadify-flow/internal/fallback"
	"github.com/sells-group/leadify-flow/internal/model"
	"github.com/sells-group/leadify-flow/pkg/backend"
)

// DefaultPlaceholderImage is used when a profile has no picture.
const DefaultPlaceholderImage = "/placeholder.svg"

// NormalizeResult is a lead plus the names of the fields that were defaulted.
type NormalizeResult struct {
	Lead    model.Lead
	Missing []string
}

// Normalizer maps ranked profiles onto display-ready leads.
type Normalizer struct {
	Placeholder string
}

// Normalize maps rp using the default placeholder image.
func Normalize(rp model.RankedProfile) NormalizeResult {
	return Normalizer{}.Normalize(rp)
}

// Normalize maps rp onto a Lead. It never fails: absent or empty values take
// their defaults and are listed in Missing.
func (n Normalizer) Normalize(rp model.RankedProfile) NormalizeResult {
	placeholder := n.Placeholder
	if placeholder == "" {
		placeholder = DefaultPlaceholderImage
	}

	p := rp.Profile
	if p == nil {
		p = &model.Profile{}
	}

	var missing []string
	pick := func(field, def string, candidates ...*string) string {
		for _, c := range candidates {
			if c != nil && *c != "" {
				return *c
			}
		}
		missing = append(missing, field)
		return def
	}

	lead := model.Lead{
		Name:         pick("name", "", p.Name),
		Title:        pick("title", "", p.Title),
		Company:      pick("company", "", p.Company),
		ProfileImage: pick("profileImage", placeholder, p.ProfilePictureURL, p.ProfileImage),
		LinkedInURL:  pick("linkedinUrl", "", p.LinkedInURL, p.LinkedInURLAlt),
		DraftMessage: pick("draftMessage", "", rp.DraftMessage, rp.Explanation),
		Description:  pick("description", "", p.Description),
		Explanation:  deref(rp.Explanation),
		Headline:     deref(p.Headline),
		Location:     deref(p.Location),
	}

	switch {
	case rp.Score != nil:
		lead.RelevancyScore = scaleScore(*rp.Score)
	case rp.RelevancyScore != nil:
		lead.RelevancyScore = scaleScore(*rp.RelevancyScore)
	default:
		missing = append(missing, "relevancyScore")
	}

	lead.Expertise = []string(p.Expertise)
	if len(lead.Expertise) == 0 {
		lead.Expertise = []string{}
		missing = append(missing, "expertise")
	}
	lead.Tags = []string(p.Tags)
	if len(lead.Tags) == 0 {
		lead.Tags = []string{}
		missing = append(missing, "tags")
	}

	if rp.Category != nil {
		lead.Category = model.Category(strings.ToLower(strings.TrimSpace(*rp.Category)))
	}

	return NormalizeResult{Lead: lead, Missing: missing}
}

// scaleScore converts a 0..10 ranking score to a 0..100 relevancy score.
func scaleScore(score float64) int {
	if math.IsNaN(score) {
		return 0
	}
	v := math.Round(score * 10)
	return int(max(0, min(100, v)))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ParseRanked validates a ranking response body and decodes its entries.
// Entries that do not decode are skipped. It returns
// backend.ErrMalformedResponse for a non-JSON body and ErrEmptyResult when
// `ranked` is absent, not an array, empty, or holds no usable entry.
func ParseRanked(body []byte) ([]model.RankedProfile, error) {
	entries, trigger := fallback.RankingTrigger(body, nil)
	switch trigger {
	case fallback.TriggerInvalidJSON:
		return nil, backend.ErrMalformedResponse
	case fallback.TriggerNoRanked:
		return nil, ErrEmptyResult
	}

	ranked := make([]model.RankedProfile, 0, len(entries))
	for i, raw := range entries {
		var rp model.RankedProfile
		if err := json.Unmarshal(raw, &rp); err != nil {
			zap.L().Warn("pipeline: skipping undecodable ranked entry",
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}
		ranked = append(ranked, rp)
	}
	if len(ranked) == 0 {
		return nil, ErrEmptyResult
	}
	return ranked, nil
}

// rankingTrigger names why the ranking result was replaced.
func rankingTrigger(err error) fallback.Trigger {
	switch {
	case err == nil:
		return fallback.TriggerNone
	case errors.Is(err, ErrEmptyResult):
		return fallback.TriggerNoRanked
	case errors.Is(err, backend.ErrMalformedResponse):
		return fallback.TriggerInvalidJSON
	default:
		return fallback.TriggerCallFailed
	}
}
