package export

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadify-flow/internal/model"
	"github.com/sells-group/leadify-flow/pkg/notion"
	"github.com/sells-group/leadify-flow/pkg/salesforce"
)

// Sink pushes a run's leads into an external system.
type Sink interface {
	Name() string
	Export(ctx context.Context, run *model.Run) (Report, error)
}

// Report summarizes one sink's export.
type Report struct {
	Sink    string `json:"sink"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	Error   string `json:"error,omitempty"`
}

// ToSinks exports the run to every sink concurrently. Each sink reports
// independently; the returned error joins every sink failure.
func ToSinks(ctx context.Context, run *model.Run, sinks ...Sink) ([]Report, error) {
	if run == nil || run.Result == nil {
		return nil, eris.New("export: run has no result")
	}

	reports := make([]Report, len(sinks))
	var (
		mu   sync.Mutex
		errs []error
	)

	var g errgroup.Group
	for i, s := range sinks {
		g.Go(func() error {
			rep, err := s.Export(ctx, run)
			rep.Sink = s.Name()
			if err != nil {
				rep.Error = err.Error()
				mu.Lock()
				errs = append(errs, eris.Wrapf(err, "export: %s", s.Name()))
				mu.Unlock()
				zap.L().Error("export: sink failed",
					zap.String("sink", s.Name()),
					zap.String("run_id", run.ID),
					zap.Error(err),
				)
			} else {
				zap.L().Info("export: sink complete",
					zap.String("sink", s.Name()),
					zap.String("run_id", run.ID),
					zap.Int("created", rep.Created),
					zap.Int("updated", rep.Updated),
					zap.Int("skipped", rep.Skipped),
				)
			}
			reports[i] = rep
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return reports, joinErrors(errs)
	}
	return reports, nil
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return eris.New(strings.Join(msgs, "; "))
}

// NotionSink upserts leads into a Notion database keyed by LinkedIn URL.
type NotionSink struct {
	client notion.Client
	dbID   string
}

// NewNotionSink creates a Notion sink for the given database.
func NewNotionSink(client notion.Client, dbID string) *NotionSink {
	return &NotionSink{client: client, dbID: dbID}
}

// Name implements Sink.
func (s *NotionSink) Name() string { return "notion" }

// Export implements Sink.
func (s *NotionSink) Export(ctx context.Context, run *model.Run) (Report, error) {
	if s.dbID == "" {
		return Report{}, eris.New("export: notion lead database is not configured")
	}

	pages := make([]notion.LeadPage, 0, run.Result.Leads.Len())
	for _, r := range categorized(run.Result.Leads) {
		pages = append(pages, notion.LeadPage{
			Name:         r.lead.Name,
			Title:        r.lead.Title,
			Company:      r.lead.Company,
			Category:     string(r.category),
			Score:        r.lead.RelevancyScore,
			LinkedInURL:  r.lead.LinkedInURL,
			Expertise:    r.lead.Expertise,
			Explanation:  r.lead.Explanation,
			DraftMessage: r.lead.DraftMessage,
			Event:        run.Input.Event.Name,
			RunID:        run.ID,
		})
	}

	res, err := notion.UpsertLeads(ctx, s.client, s.dbID, pages)
	return Report{Created: res.Created, Updated: res.Updated}, err
}

// SalesforceSink inserts leads as Salesforce Lead records. Leads whose
// LinkedIn URL already exists under the same lead source are skipped.
type SalesforceSink struct {
	client     salesforce.Client
	leadSource string
}

// NewSalesforceSink creates a Salesforce sink tagging records with leadSource.
func NewSalesforceSink(client salesforce.Client, leadSource string) *SalesforceSink {
	return &SalesforceSink{client: client, leadSource: leadSource}
}

// Name implements Sink.
func (s *SalesforceSink) Name() string { return "salesforce" }

// Export implements Sink.
func (s *SalesforceSink) Export(ctx context.Context, run *model.Run) (Report, error) {
	var rep Report

	existing, err := salesforce.FindLeadWebsites(ctx, s.client, s.leadSource)
	if err != nil {
		return rep, err
	}

	var records []salesforce.Lead
	for _, r := range categorized(run.Result.Leads) {
		if r.lead.LinkedInURL != "" {
			if _, ok := existing[salesforce.NormalizeWebsite(r.lead.LinkedInURL)]; ok {
				rep.Skipped++
				continue
			}
		}
		first, last := salesforce.SplitName(r.lead.Name)
		if last == "" {
			rep.Skipped++
			continue
		}
		records = append(records, salesforce.Lead{
			FirstName:   first,
			LastName:    last,
			Company:     r.lead.Company,
			Title:       r.lead.Title,
			Website:     r.lead.LinkedInURL,
			LeadSource:  s.leadSource,
			Rating:      salesforce.RatingFor(r.lead.RelevancyScore),
			Description: leadDescription(run, r),
		})
	}

	results, err := salesforce.BulkInsertLeads(ctx, s.client, records)
	for _, res := range results {
		if res.Success {
			rep.Created++
		} else {
			rep.Failed++
		}
	}
	return rep, err
}

func leadDescription(run *model.Run, r categorizedLead) string {
	var b strings.Builder
	b.WriteString("Potential ")
	b.WriteString(string(r.category))
	if run.Input.Event.Name != "" {
		b.WriteString(" for ")
		b.WriteString(run.Input.Event.Name)
	}
	b.WriteString(".")
	if r.lead.Explanation != "" {
		b.WriteString("\n\n")
		b.WriteString(r.lead.Explanation)
	}
	if r.lead.DraftMessage != "" {
		b.WriteString("\n\nDraft outreach:\n")
		b.WriteString(r.lead.DraftMessage)
	}
	return b.String()
}

type categorizedLead struct {
	lead     model.Lead
	category model.Category
}

func categorized(leads model.Leads) []categorizedLead {
	out := make([]categorizedLead, 0, leads.Len())
	for _, l := range leads.Speakers {
		out = append(out, categorizedLead{l, model.CategorySpeaker})
	}
	for _, l := range leads.Sponsors {
		out = append(out, categorizedLead{l, model.CategorySponsor})
	}
	return out
}
