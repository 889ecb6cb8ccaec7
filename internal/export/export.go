// Package export writes a run's leads to files and to external CRMs.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadify-flow/internal/model"
)

// Format is a file export format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// ParseFormat accepts a format name case-insensitively. "excel" is an alias
// for xlsx.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", eris.Errorf("export: unknown format %q", s)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// Filename returns the default download name for a run.
func (f Format) Filename(runID string) string {
	if runID == "" {
		runID = "leads"
	}
	return fmt.Sprintf("leadify-%s.%s", runID, f)
}

// Write encodes the result's leads to w in the given format.
func Write(w io.Writer, f Format, result *model.RunResult) error {
	if result == nil {
		return eris.New("export: no result to export")
	}
	switch f {
	case FormatCSV:
		return WriteCSV(w, result.Leads)
	case FormatXLSX:
		return WriteXLSX(w, result.Leads)
	case FormatJSON:
		return WriteJSON(w, result)
	default:
		return eris.Errorf("export: unknown format %q", f)
	}
}

// jsonDocument is the JSON export layout.
type jsonDocument struct {
	RunID        string      `json:"run_id,omitempty"`
	Leads        model.Leads `json:"leads"`
	UsedFallback bool        `json:"used_fallback"`
	Notices      []string    `json:"notices,omitempty"`
}

// WriteJSON writes the leads and fallback notices as indented JSON.
func WriteJSON(w io.Writer, result *model.RunResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jsonDocument{
		RunID:        result.RunID,
		Leads:        result.Leads,
		UsedFallback: result.UsedFallback,
		Notices:      result.Notices,
	}); err != nil {
		return eris.Wrap(err, "export: encode json")
	}
	return nil
}

// row is one flattened lead for tabular formats.
type row struct {
	Category       string `csv:"category"`
	Name           string `csv:"name"`
	Title          string `csv:"title"`
	Company        string `csv:"company"`
	RelevancyScore int    `csv:"relevancy_score"`
	LinkedInURL    string `csv:"linkedin_url"`
	Expertise      string `csv:"expertise"`
	Tags           string `csv:"tags"`
	Explanation    string `csv:"explanation"`
	DraftMessage   string `csv:"draft_message"`
	Location       string `csv:"location"`
}

var rowHeader = []string{
	"Category", "Name", "Title", "Company", "Relevancy Score", "LinkedIn URL",
	"Expertise", "Tags", "Explanation", "Draft Message", "Location",
}

func (r row) values() []string {
	return []string{
		r.Category, r.Name, r.Title, r.Company, fmt.Sprint(r.RelevancyScore), r.LinkedInURL,
		r.Expertise, r.Tags, r.Explanation, r.DraftMessage, r.Location,
	}
}

func toRow(l model.Lead, category model.Category) row {
	return row{
		Category:       string(category),
		Name:           l.Name,
		Title:          l.Title,
		Company:        l.Company,
		RelevancyScore: l.RelevancyScore,
		LinkedInURL:    l.LinkedInURL,
		Expertise:      strings.Join(l.Expertise, "; "),
		Tags:           strings.Join(l.Tags, "; "),
		Explanation:    l.Explanation,
		DraftMessage:   l.DraftMessage,
		Location:       l.Location,
	}
}

// rows flattens speakers then sponsors.
func rows(leads model.Leads) []row {
	cl := categorized(leads)
	out := make([]row, 0, len(cl))
	for _, c := range cl {
		out = append(out, toRow(c.lead, c.category))
	}
	return out
}
