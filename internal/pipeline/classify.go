package pipeline

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/leadify-flow/internal/model"
)

var sponsorTags = []string{"sponsor", "sponsorship"}

// Classify partitions leads into speakers and sponsors. A lead is a sponsor
// when its category says so or when one of its tags is a sponsor tag.
// Everything else is a speaker, unless the goals ask for sponsors only, in
// which case every lead is a sponsor. Lead order is preserved within each
// partition.
func Classify(leads []model.Lead, goals model.Goals) model.Leads {
	out := model.EmptyLeads()
	sponsorsOnly := goals.NeedSponsors && !goals.NeedSpeakers

	fold := cases.Fold()
	for _, lead := range leads {
		if sponsorsOnly || isSponsor(fold, lead) {
			lead.Category = model.CategorySponsor
			out.Sponsors = append(out.Sponsors, lead)
			continue
		}
		lead.Category = model.CategorySpeaker
		out.Speakers = append(out.Speakers, lead)
	}
	return out
}

func isSponsor(fold cases.Caser, lead model.Lead) bool {
	if fold.String(string(lead.Category)) == string(model.CategorySponsor) {
		return true
	}
	for _, tag := range lead.Tags {
		if slices.Contains(sponsorTags, fold.String(strings.TrimSpace(tag))) {
			return true
		}
	}
	return false
}
