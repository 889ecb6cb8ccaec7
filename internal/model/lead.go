package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StringList decodes from a JSON array of strings, a single string, or null.
// Non-string array entries are skipped.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*l = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*l = nil
		} else {
			*l = StringList{single}
		}
		return nil
	}

	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("string list: %w", err)
	}
	out := make(StringList, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	*l = out
	return nil
}

// Profile is a candidate record as returned by profile search. Every field is
// optional; alternate keys used by different backends are accepted.
type Profile struct {
	ID                any        `json:"id,omitempty" yaml:"id,omitempty"`
	Name              *string    `json:"name,omitempty" yaml:"name,omitempty"`
	Location          *string    `json:"location,omitempty" yaml:"location,omitempty"`
	Headline          *string    `json:"headline,omitempty" yaml:"headline,omitempty"`
	Description       *string    `json:"description,omitempty" yaml:"description,omitempty"`
	Title             *string    `json:"title,omitempty" yaml:"title,omitempty"`
	Company           *string    `json:"company,omitempty" yaml:"company,omitempty"`
	ProfilePictureURL *string    `json:"profile_picture_url,omitempty" yaml:"profile_picture_url,omitempty"`
	ProfileImage      *string    `json:"profileImage,omitempty" yaml:"profileImage,omitempty"`
	LinkedInURL       *string    `json:"linkedin_url,omitempty" yaml:"linkedin_url,omitempty"`
	LinkedInURLAlt    *string    `json:"linkedinUrl,omitempty" yaml:"linkedinUrl,omitempty"`
	Expertise         StringList `json:"expertise,omitempty" yaml:"expertise,omitempty"`
	Tags              StringList `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// RankedProfile is one entry of the ranking stage's `ranked` array.
type RankedProfile struct {
	Profile        *Profile `json:"profile" yaml:"profile"`
	Score          *float64 `json:"score,omitempty" yaml:"score,omitempty"`
	RelevancyScore *float64 `json:"relevancyScore,omitempty" yaml:"relevancyScore,omitempty"`
	Explanation    *string  `json:"explanation,omitempty" yaml:"explanation,omitempty"`
	DraftMessage   *string  `json:"draftMessage,omitempty" yaml:"draftMessage,omitempty"`
	// Category is an optional speaker/sponsor hint from the ranker.
	Category *string `json:"category,omitempty" yaml:"category,omitempty"`
}

// Category partitions leads for display.
type Category string

const (
	CategorySpeaker Category = "speaker"
	CategorySponsor Category = "sponsor"
)

// Lead is a normalized, display-ready candidate.
type Lead struct {
	Name           string   `json:"name"`
	Title          string   `json:"title"`
	Company        string   `json:"company"`
	ProfileImage   string   `json:"profileImage"`
	RelevancyScore int      `json:"relevancyScore"`
	Expertise      []string `json:"expertise"`
	LinkedInURL    string   `json:"linkedinUrl"`
	DraftMessage   string   `json:"draftMessage"`
	Description    string   `json:"description"`
	Tags           []string `json:"tags"`
	Explanation    string   `json:"explanation"`
	Headline       string   `json:"headline,omitempty"`
	Location       string   `json:"location,omitempty"`
	Category       Category `json:"category,omitempty"`
}

// Leads holds the partitioned results of a run.
type Leads struct {
	Speakers []Lead `json:"speakers"`
	Sponsors []Lead `json:"sponsors"`
}

// EmptyLeads returns Leads with non-nil, empty partitions.
func EmptyLeads() Leads {
	return Leads{Speakers: []Lead{}, Sponsors: []Lead{}}
}

// Len returns the total number of leads.
func (l Leads) Len() int { return len(l.Speakers) + len(l.Sponsors) }

// IsEmpty reports whether there are no leads at all.
func (l Leads) IsEmpty() bool { return l.Len() == 0 }

// All returns speakers followed by sponsors.
func (l Leads) All() []Lead {
	out := make([]Lead, 0, l.Len())
	out = append(out, l.Speakers...)
	return append(out, l.Sponsors...)
}

// Str returns a pointer to s. Handy for building profiles in code and tests.
func Str(s string) *string { return &s }

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }
