package model

import (
	"fmt"
	"slices"
	"strings"
)

// EventData describes the event leads are gathered for. JSON keys match the
// backend's event_details payload.
type EventData struct {
	Name               string   `json:"name" yaml:"name"`
	Date               string   `json:"date" yaml:"date"`
	Time               string   `json:"time" yaml:"time"`
	Location           string   `json:"location" yaml:"location"`
	Type               string   `json:"type" yaml:"type"`
	ExpectedAttendance int      `json:"expectedAttendance" yaml:"expectedAttendance"`
	Topics             []string `json:"topics" yaml:"topics"`
	Description        string   `json:"description" yaml:"description"`
}

// AddTopic appends a topic unless it is blank or already present.
func (e *EventData) AddTopic(topic string) bool {
	topic = strings.TrimSpace(topic)
	if topic == "" || slices.Contains(e.Topics, topic) {
		return false
	}
	e.Topics = append(e.Topics, topic)
	return true
}

// Validate reports structural problems with the event.
func (e EventData) Validate() error {
	if e.ExpectedAttendance < 0 {
		return fmt.Errorf("expectedAttendance must be >= 0, got %d", e.ExpectedAttendance)
	}
	return nil
}

// ExperienceLevel is the audience's expertise bracket.
type ExperienceLevel string

const (
	ExperienceBeginner     ExperienceLevel = "beginner"
	ExperienceIntermediate ExperienceLevel = "intermediate"
	ExperienceAdvanced     ExperienceLevel = "advanced"
	ExperienceMixed        ExperienceLevel = "mixed"
)

// Valid reports whether the level is one of the known brackets.
func (l ExperienceLevel) Valid() bool {
	switch l {
	case ExperienceBeginner, ExperienceIntermediate, ExperienceAdvanced, ExperienceMixed:
		return true
	}
	return false
}

// Audience describes who attends the event.
type Audience struct {
	PrimaryDemographic string          `json:"primaryDemographic" yaml:"primaryDemographic"`
	AgeRange           [2]int          `json:"ageRange" yaml:"ageRange"`
	ExperienceLevel    ExperienceLevel `json:"experienceLevel" yaml:"experienceLevel"`
	Interests          map[string]bool `json:"interests" yaml:"interests"`
	IndustryFocus      string          `json:"industryFocus" yaml:"industryFocus"`
	GeographicFocus    string          `json:"geographicFocus" yaml:"geographicFocus"`
	AdditionalNotes    string          `json:"additionalNotes" yaml:"additionalNotes"`
}

// SetAgeRange stores the range with min <= max.
func (a *Audience) SetAgeRange(lo, hi int) {
	if lo > hi {
		lo, hi = hi, lo
	}
	a.AgeRange = [2]int{lo, hi}
}

// AddInterest marks an interest as selected.
func (a *Audience) AddInterest(interest string) {
	interest = strings.TrimSpace(interest)
	if interest == "" {
		return
	}
	if a.Interests == nil {
		a.Interests = make(map[string]bool)
	}
	a.Interests[interest] = true
}

// SelectedInterests returns the selected interests in sorted order.
func (a Audience) SelectedInterests() []string {
	out := make([]string, 0, len(a.Interests))
	for k, on := range a.Interests {
		if on {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// Validate reports an inverted age range or unknown experience level.
func (a Audience) Validate() error {
	if a.AgeRange[0] > a.AgeRange[1] {
		return fmt.Errorf("ageRange min %d exceeds max %d", a.AgeRange[0], a.AgeRange[1])
	}
	if a.ExperienceLevel != "" && !a.ExperienceLevel.Valid() {
		return fmt.Errorf("unknown experienceLevel %q", a.ExperienceLevel)
	}
	return nil
}

// Goals describes what the organizer is looking for.
type Goals struct {
	KeyObjectives       []string `json:"keyObjectives" yaml:"keyObjectives"`
	NeedSpeakers        bool     `json:"needSpeakers" yaml:"needSpeakers"`
	NeedSponsors        bool     `json:"needSponsors" yaml:"needSponsors"`
	NeedPanelists       bool     `json:"needPanelists" yaml:"needPanelists"`
	NeedExhibitors      bool     `json:"needExhibitors" yaml:"needExhibitors"`
	SpeakerRequirements string   `json:"speakerRequirements" yaml:"speakerRequirements"`
	SponsorRequirements string   `json:"sponsorRequirements" yaml:"sponsorRequirements"`
	Budget              string   `json:"budget" yaml:"budget"`
}

// AddObjective appends an objective unless blank or duplicate.
func (g *Goals) AddObjective(objective string) bool {
	objective = strings.TrimSpace(objective)
	if objective == "" || slices.Contains(g.KeyObjectives, objective) {
		return false
	}
	g.KeyObjectives = append(g.KeyObjectives, objective)
	return true
}

// NormalizeIntent requests both speakers and sponsors when neither is set.
func (g *Goals) NormalizeIntent() {
	if !g.NeedSpeakers && !g.NeedSponsors {
		g.NeedSpeakers = true
		g.NeedSponsors = true
	}
}

// ParseIntent sets speaker and sponsor intent from a free-text message,
// then normalizes it.
func (g *Goals) ParseIntent(message string) {
	lower := strings.ToLower(message)
	g.NeedSpeakers = strings.Contains(lower, "speaker")
	g.NeedSponsors = strings.Contains(lower, "sponsor")
	g.NormalizeIntent()
}
