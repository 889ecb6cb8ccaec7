// Package notion wraps the Notion API for the lead database export.
package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// defaultRPS is Notion's documented average request rate per integration.
const defaultRPS = 3

// Client reads and writes rows of a Notion lead database. Rows are pages
// whose parent is the database.
type Client interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreateRow(ctx context.Context, dbID string, props notionapi.Properties) (string, error)
	UpdateRow(ctx context.Context, pageID string, props notionapi.Properties) error
}

// ClientOption configures the Notion client.
type ClientOption func(*notionClient)

// WithRateLimit sets requests per second. Zero or less turns throttling off.
func WithRateLimit(rps float64) ClientOption {
	return func(c *notionClient) {
		c.limiter = nil
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type notionClient struct {
	api     *notionapi.Client
	limiter *rate.Limiter
}

// NewClient creates a throttled client for the integration token.
func NewClient(token string, opts ...ClientOption) Client {
	c := &notionClient{
		api:     notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(defaultRPS, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// throttled waits for a limiter slot, runs fn, and wraps its error with op.
func throttled[T any](ctx context.Context, c *notionClient, op string, fn func() (T, error)) (T, error) {
	var zero T
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, eris.Wrap(err, "notion: rate limit")
		}
	}
	v, err := fn()
	if err != nil {
		return zero, eris.Wrap(err, "notion: "+op)
	}
	return v, nil
}

func (c *notionClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return throttled(ctx, c, "query database "+dbID, func() (*notionapi.DatabaseQueryResponse, error) {
		return c.api.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
	})
}

func (c *notionClient) CreateRow(ctx context.Context, dbID string, props notionapi.Properties) (string, error) {
	page, err := throttled(ctx, c, "create row in "+dbID, func() (*notionapi.Page, error) {
		return c.api.Page.Create(ctx, &notionapi.PageCreateRequest{
			Parent: notionapi.Parent{
				Type:       notionapi.ParentTypeDatabaseID,
				DatabaseID: notionapi.DatabaseID(dbID),
			},
			Properties: props,
		})
	})
	if err != nil {
		return "", err
	}
	return string(page.ID), nil
}

func (c *notionClient) UpdateRow(ctx context.Context, pageID string, props notionapi.Properties) error {
	_, err := throttled(ctx, c, "update row "+pageID, func() (*notionapi.Page, error) {
		return c.api.Page.Update(ctx, notionapi.PageID(pageID), &notionapi.PageUpdateRequest{Properties: props})
	})
	return err
}
