package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *MockClient) CreateRow(ctx context.Context, dbID string, props notionapi.Properties) (string, error) {
	args := m.Called(ctx, dbID, props)
	return args.String(0), args.Error(1)
}

func (m *MockClient) UpdateRow(ctx context.Context, pageID string, props notionapi.Properties) error {
	args := m.Called(ctx, pageID, props)
	return args.Error(0)
}

func TestMockClientSatisfiesInterface(t *testing.T) {
	t.Parallel()
	var _ Client = (*MockClient)(nil)
}

func TestNewClient_DefaultLimiter(t *testing.T) {
	c := NewClient("test-token").(*notionClient)
	assert.NotNil(t, c.limiter)
	assert.InDelta(t, float64(defaultRPS), float64(c.limiter.Limit()), 0.001)
}

func TestNewClient_WithRateLimit(t *testing.T) {
	c := NewClient("test-token", WithRateLimit(10)).(*notionClient)
	assert.InDelta(t, 10.0, float64(c.limiter.Limit()), 0.001)
	assert.Equal(t, 10, c.limiter.Burst())

	c = NewClient("test-token", WithRateLimit(0)).(*notionClient)
	assert.Nil(t, c.limiter)
}

func TestClient_CancelledContextStopsBeforeRequest(t *testing.T) {
	c := NewClient("test-token")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.QueryDatabase(ctx, "db-1", &notionapi.DatabaseQueryRequest{})
	assert.ErrorContains(t, err, "notion: rate limit")

	_, err = c.CreateRow(ctx, "db-1", notionapi.Properties{})
	assert.ErrorContains(t, err, "notion: rate limit")

	err = c.UpdateRow(ctx, "page-1", notionapi.Properties{})
	assert.ErrorContains(t, err, "notion: rate limit")
}
