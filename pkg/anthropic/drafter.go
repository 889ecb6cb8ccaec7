package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadify-flow/internal/model"
)

const draftSystemPrompt = `You write short, warm outreach messages inviting a professional to take part in an event as a speaker or sponsor. Address the person by first name, mention why they are a good fit, and end with a clear ask. Reply with the message text only, under 120 words.`

const defaultDraftModel = "claude-haiku-4-5-20251001"

// Drafter writes outreach messages with Claude.
type Drafter struct {
	client    Client
	model     string
	maxTokens int64
}

// NewDrafter creates a Drafter. Empty model and non-positive maxTokens take
// defaults.
func NewDrafter(client Client, model string, maxTokens int64) *Drafter {
	if model == "" {
		model = defaultDraftModel
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &Drafter{client: client, model: model, maxTokens: maxTokens}
}

// Draft writes an outreach message for lead about event.
func (d *Drafter) Draft(ctx context.Context, lead model.Lead, event model.EventData) (string, error) {
	resp, err := d.client.CreateMessage(ctx, MessageRequest{
		Model:     d.model,
		MaxTokens: d.maxTokens,
		System:    BuildCachedSystemBlocks(draftSystemPrompt, "5m"),
		Messages:  []Message{{Role: "user", Content: DraftPrompt(lead, event)}},
	})
	if err != nil {
		return "", eris.Wrapf(err, "anthropic: draft outreach for %q", lead.Name)
	}
	resp.Usage.LogCost(d.model, string(model.StageOutreachGeneration))

	text := resp.Text()
	if text == "" {
		return "", eris.Errorf("anthropic: empty draft for %q", lead.Name)
	}
	return text, nil
}

// DraftPrompt renders the user prompt for one lead.
func DraftPrompt(lead model.Lead, event model.EventData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Event: %s\n", event.Name)
	if event.Date != "" {
		fmt.Fprintf(&b, "Date: %s\n", event.Date)
	}
	if event.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", event.Location)
	}
	if len(event.Topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(event.Topics, ", "))
	}
	fmt.Fprintf(&b, "\nRecipient: %s\n", lead.Name)
	if lead.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", lead.Title)
	}
	if lead.Company != "" {
		fmt.Fprintf(&b, "Company: %s\n", lead.Company)
	}
	if lead.Explanation != "" {
		fmt.Fprintf(&b, "Why they fit: %s\n", lead.Explanation)
	}
	return b.String()
}
