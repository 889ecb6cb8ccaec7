package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/leadify-flow/internal/model"
)

func TestClassify(t *testing.T) {
	leads := []model.Lead{
		{Name: "speaker-1", Tags: []string{"AI"}},
		{Name: "sponsor-tag", Tags: []string{"  SPONSOR "}},
		{Name: "sponsor-category", Category: "Sponsor"},
		{Name: "speaker-2"},
		{Name: "sponsorship", Tags: []string{"Sponsorship"}},
	}

	tests := []struct {
		name     string
		goals    model.Goals
		speakers []string
		sponsors []string
	}{
		{
			name:     "both",
			goals:    model.Goals{NeedSpeakers: true, NeedSponsors: true},
			speakers: []string{"speaker-1", "speaker-2"},
			sponsors: []string{"sponsor-tag", "sponsor-category", "sponsorship"},
		},
		{
			name:     "speakers only still splits tagged sponsors",
			goals:    model.Goals{NeedSpeakers: true},
			speakers: []string{"speaker-1", "speaker-2"},
			sponsors: []string{"sponsor-tag", "sponsor-category", "sponsorship"},
		},
		{
			name:     "sponsors only",
			goals:    model.Goals{NeedSponsors: true},
			speakers: nil,
			sponsors: []string{"speaker-1", "sponsor-tag", "sponsor-category", "speaker-2", "sponsorship"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(leads, tt.goals)
			assert.Equal(t, len(leads), got.Len())
			assert.Equal(t, tt.speakers, names(got.Speakers))
			assert.Equal(t, tt.sponsors, names(got.Sponsors))
			for _, l := range got.Speakers {
				assert.Equal(t, model.CategorySpeaker, l.Category)
			}
			for _, l := range got.Sponsors {
				assert.Equal(t, model.CategorySponsor, l.Category)
			}
		})
	}
}

func TestClassify_EmptyInput(t *testing.T) {
	got := Classify(nil, model.Goals{NeedSpeakers: true})
	assert.NotNil(t, got.Speakers)
	assert.NotNil(t, got.Sponsors)
	assert.True(t, got.IsEmpty())
}

func names(leads []model.Lead) []string {
	var out []string
	for _, l := range leads {
		out = append(out, l.Name)
	}
	return out
}
