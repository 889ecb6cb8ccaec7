// Package backend is the HTTP client for the lead-generation backend that
// extracts keywords, generates queries, searches and ranks profiles, and
// drafts outreach messages.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadify-flow/internal/model"
	"github.com/sells-group/leadify-flow/internal/resilience"
)

const defaultBaseURL = "http://127.0.0.1:5000"

// Endpoint paths.
const (
	PathKeywords     = "/api/keywords"
	PathQueries      = "/api/queries"
	PathLinkd        = "/api/linkd"
	PathRanking      = "/api/ranking"
	PathOutreach     = "/api/outreach"
	PathQualityCheck = "/api/quality_check"
)

// ErrMalformedResponse is returned when a 2xx body is not the expected JSON.
var ErrMalformedResponse = eris.New("backend: malformed response")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("backend: %s returned status %d: %s", e.Path, e.Code, body)
}

// Client calls the backend's pipeline endpoints.
type Client interface {
	ExtractKeywords(ctx context.Context, event model.EventData) (json.RawMessage, error)
	GenerateQueries(ctx context.Context, event model.EventData, keywords json.RawMessage) ([]string, error)
	SearchProfiles(ctx context.Context, queries []string) ([]json.RawMessage, error)
	// RankProfiles returns the raw response body; callers validate the
	// `ranked` envelope themselves.
	RankProfiles(ctx context.Context, profiles []json.RawMessage, event model.EventData) ([]byte, error)
	GenerateOutreach(ctx context.Context, req OutreachRequest) (string, error)
	// Forward posts body to path and returns the upstream status and body
	// without interpreting either.
	Forward(ctx context.Context, path string, body []byte) (*Response, error)
}

// OutreachRequest is the body of POST /api/outreach.
type OutreachRequest struct {
	Profile     json.RawMessage `json:"profile"`
	Event       model.EventData `json:"event_details"`
	Explanation string          `json:"explanation"`
}

// Response is a raw upstream response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default backend base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit throttles requests to rps. Zero disables throttling.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a backend client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) ExtractKeywords(ctx context.Context, event model.EventData) (json.RawMessage, error) {
	body, err := c.postJSON(ctx, PathKeywords, map[string]any{"event_details": event})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func (c *httpClient) GenerateQueries(ctx context.Context, event model.EventData, keywords json.RawMessage) ([]string, error) {
	if len(keywords) == 0 {
		keywords = json.RawMessage("null")
	}
	body, err := c.postJSON(ctx, PathQueries, map[string]any{"event_details": event, "keywords": keywords})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrapf(ErrMalformedResponse, "%s: %v", PathQueries, err)
	}
	return resp.Queries, nil
}

func (c *httpClient) SearchProfiles(ctx context.Context, queries []string) ([]json.RawMessage, error) {
	if queries == nil {
		queries = []string{}
	}
	body, err := c.postJSON(ctx, PathLinkd, map[string]any{"queries": queries})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Profiles []json.RawMessage `json:"profiles"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrapf(ErrMalformedResponse, "%s: %v", PathLinkd, err)
	}
	return resp.Profiles, nil
}

func (c *httpClient) RankProfiles(ctx context.Context, profiles []json.RawMessage, event model.EventData) ([]byte, error) {
	if profiles == nil {
		profiles = []json.RawMessage{}
	}
	return c.postJSON(ctx, PathRanking, map[string]any{"profiles": profiles, "event_details": event})
}

func (c *httpClient) GenerateOutreach(ctx context.Context, req OutreachRequest) (string, error) {
	if len(req.Profile) == 0 {
		req.Profile = json.RawMessage("null")
	}
	body, err := c.postJSON(ctx, PathOutreach, req)
	if err != nil {
		return "", err
	}

	var resp struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", eris.Wrapf(ErrMalformedResponse, "%s: %v", PathOutreach, err)
	}
	if resp.Message == nil {
		return "", eris.Wrapf(ErrMalformedResponse, "%s: missing message", PathOutreach)
	}
	return *resp.Message, nil
}

func (c *httpClient) Forward(ctx context.Context, path string, body []byte) (*Response, error) {
	status, respBody, err := c.do(ctx, path, body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: status, Body: respBody}, nil
}

// postJSON marshals payload, posts it, and returns the body of a 2xx response.
func (c *httpClient) postJSON(ctx context.Context, path string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrapf(err, "backend: marshal %s request", path)
	}

	status, body, err := c.do(ctx, path, reqBody)
	if err != nil {
		return nil, err
	}

	if status < 200 || status > 299 {
		se := &StatusError{Path: path, Code: status, Body: string(body)}
		if resilience.IsTransientHTTPStatus(status) {
			return nil, resilience.NewTransientError(se, status)
		}
		return nil, se
	}

	if !json.Valid(body) {
		return nil, eris.Wrapf(ErrMalformedResponse, "%s: body is not JSON", path)
	}
	return body, nil
}

func (c *httpClient) do(ctx context.Context, path string, body []byte) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, eris.Wrap(err, "backend: rate limit")
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, eris.Wrapf(err, "backend: create %s request", path)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, eris.Wrapf(err, "backend: send %s request", path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, eris.Wrapf(err, "backend: read %s response", path)
	}
	return resp.StatusCode, respBody, nil
}
