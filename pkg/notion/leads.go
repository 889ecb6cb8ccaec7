package notion

import (
	"context"
	"fmt"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// Lead database property names.
const (
	PropName        = "Name"
	PropTitle       = "Title"
	PropCompany     = "Company"
	PropCategory    = "Category"
	PropScore       = "Relevancy"
	PropLinkedIn    = "LinkedIn"
	PropExpertise   = "Expertise"
	PropExplanation = "Explanation"
	PropDraft       = "Draft Message"
	PropEvent       = "Event"
	PropRunID       = "Run ID"
	PropStatus      = "Status"
)

// richTextLimit is Notion's per-block rich text content limit.
const richTextLimit = 2000

// LeadPage is one lead row in the Notion lead database.
type LeadPage struct {
	Name         string
	Title        string
	Company      string
	Category     string
	Score        int
	LinkedInURL  string
	Expertise    []string
	Explanation  string
	DraftMessage string
	Event        string
	RunID        string
}

// UpsertResult counts the pages touched by UpsertLeads.
type UpsertResult struct {
	Created int
	Updated int
}

// Properties converts a lead to Notion page properties. Empty optional
// values are omitted.
func (l LeadPage) Properties() notionapi.Properties {
	props := notionapi.Properties{
		PropName: notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: richText(l.Name),
		},
		PropScore: notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: float64(l.Score),
		},
		PropStatus: notionapi.StatusProperty{
			Status: notionapi.Status{Name: "New"},
		},
	}

	text := map[string]string{
		PropTitle:       l.Title,
		PropCompany:     l.Company,
		PropExplanation: l.Explanation,
		PropDraft:       l.DraftMessage,
		PropEvent:       l.Event,
		PropRunID:       l.RunID,
	}
	for k, v := range text {
		if v == "" {
			continue
		}
		props[k] = notionapi.RichTextProperty{
			Type:     notionapi.PropertyTypeRichText,
			RichText: richText(v),
		}
	}

	if l.Category != "" {
		props[PropCategory] = notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: l.Category},
		}
	}
	if l.LinkedInURL != "" {
		props[PropLinkedIn] = notionapi.URLProperty{
			Type: notionapi.PropertyTypeURL,
			URL:  l.LinkedInURL,
		}
	}
	if len(l.Expertise) > 0 {
		opts := make([]notionapi.Option, 0, len(l.Expertise))
		for _, e := range l.Expertise {
			// Multi-select option names cannot contain commas.
			opts = append(opts, notionapi.Option{Name: strings.ReplaceAll(e, ",", " ")})
		}
		props[PropExpertise] = notionapi.MultiSelectProperty{
			Type:        notionapi.PropertyTypeMultiSelect,
			MultiSelect: opts,
		}
	}
	return props
}

// UpsertLeads writes leads to the database. A lead whose LinkedIn URL is
// already present updates that page; everything else creates a new page.
func UpsertLeads(ctx context.Context, c Client, dbID string, leads []LeadPage) (UpsertResult, error) {
	var res UpsertResult
	if len(leads) == 0 {
		return res, nil
	}

	index, err := IndexByLinkedIn(ctx, c, dbID)
	if err != nil {
		return res, err
	}

	for _, l := range leads {
		if ctx.Err() != nil {
			return res, eris.Wrap(ctx.Err(), "notion: upsert leads cancelled")
		}

		props := l.Properties()
		if pageID, ok := index[normalizeKey(l.LinkedInURL)]; ok && l.LinkedInURL != "" {
			if err := c.UpdateRow(ctx, pageID, props); err != nil {
				return res, eris.Wrap(err, fmt.Sprintf("notion: update lead %s", l.Name))
			}
			res.Updated++
			continue
		}

		pageID, err := c.CreateRow(ctx, dbID, props)
		if err != nil {
			return res, eris.Wrap(err, fmt.Sprintf("notion: create lead %s", l.Name))
		}
		if l.LinkedInURL != "" {
			index[normalizeKey(l.LinkedInURL)] = pageID
		}
		res.Created++
	}
	return res, nil
}

func richText(s string) []notionapi.RichText {
	if len(s) > richTextLimit {
		s = s[:richTextLimit]
	}
	return []notionapi.RichText{
		{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
	}
}
