package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// maxBatchSize is the Salesforce Collections API limit per request.
const maxBatchSize = 200

// descriptionLimit is the Lead.Description field length.
const descriptionLimit = 32000

// Lead is a Salesforce Lead record.
type Lead struct {
	ID          string `json:"Id,omitempty" salesforce:"Id"`
	FirstName   string `json:"FirstName,omitempty" salesforce:"FirstName"`
	LastName    string `json:"LastName" salesforce:"LastName"`
	Company     string `json:"Company" salesforce:"Company"`
	Title       string `json:"Title,omitempty" salesforce:"Title"`
	Website     string `json:"Website,omitempty" salesforce:"Website"`
	LeadSource  string `json:"LeadSource,omitempty" salesforce:"LeadSource"`
	Rating      string `json:"Rating,omitempty" salesforce:"Rating"`
	Description string `json:"Description,omitempty" salesforce:"Description"`
}

// Fields returns the record as a field map for insert calls. Empty optional
// fields are left out; Company falls back to "[not provided]" because the
// Lead object requires it.
func (l Lead) Fields() map[string]any {
	company := l.Company
	if company == "" {
		company = "[not provided]"
	}
	fields := map[string]any{
		"LastName": l.LastName,
		"Company":  company,
	}
	optional := map[string]string{
		"FirstName":   l.FirstName,
		"Title":       l.Title,
		"Website":     l.Website,
		"LeadSource":  l.LeadSource,
		"Rating":      l.Rating,
		"Description": truncate(l.Description, descriptionLimit),
	}
	for k, v := range optional {
		if v != "" {
			fields[k] = v
		}
	}
	return fields
}

// SplitName splits a full name into first and last name. A single word
// becomes the last name.
func SplitName(full string) (first, last string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
	}
}

// RatingFor maps a 0-100 relevancy score to a Lead rating picklist value.
func RatingFor(score int) string {
	switch {
	case score >= 80:
		return "Hot"
	case score >= 50:
		return "Warm"
	default:
		return "Cold"
	}
}

// CreateLead creates a single Lead and returns its Salesforce ID.
func CreateLead(ctx context.Context, c Client, lead Lead) (string, error) {
	if lead.LastName == "" {
		return "", eris.New("sf: lead LastName is required")
	}
	id, err := c.InsertOne(ctx, "Lead", lead.Fields())
	if err != nil {
		return "", eris.Wrap(err, "sf: create lead")
	}
	return id, nil
}

// BulkInsertLeads splits leads into batches of 200 (SF Collections API limit)
// and sends them via InsertCollection. Leads without a LastName are rejected
// before anything is sent.
func BulkInsertLeads(ctx context.Context, c Client, leads []Lead) ([]CollectionResult, error) {
	if len(leads) == 0 {
		return nil, nil
	}
	for i, l := range leads {
		if l.LastName == "" {
			return nil, eris.New(fmt.Sprintf("sf: lead %d has no LastName", i))
		}
	}

	var allResults []CollectionResult

	for start := 0; start < len(leads); start += maxBatchSize {
		end := min(start+maxBatchSize, len(leads))

		records := make([]map[string]any, 0, end-start)
		for _, l := range leads[start:end] {
			records = append(records, l.Fields())
		}

		results, err := c.InsertCollection(ctx, "Lead", records)
		if err != nil {
			return allResults, eris.Wrap(err, fmt.Sprintf("sf: bulk insert leads batch %d-%d", start, end))
		}
		allResults = append(allResults, results...)
	}

	return allResults, nil
}

// FindLeadWebsites returns the Website of every Lead with the given source,
// mapped to the Lead ID. It is used to skip leads that were already exported.
func FindLeadWebsites(ctx context.Context, c Client, leadSource string) (map[string]string, error) {
	soql := fmt.Sprintf(
		"SELECT Id, Website FROM Lead WHERE LeadSource = '%s' AND Website != null",
		escapeSoql(leadSource),
	)

	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find leads by source %s", leadSource))
	}

	out := make(map[string]string, len(leads))
	for _, l := range leads {
		out[NormalizeWebsite(l.Website)] = l.ID
	}
	return out, nil
}

// NormalizeWebsite lowercases a URL and trims a trailing slash for matching.
func NormalizeWebsite(u string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(u)), "/")
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
