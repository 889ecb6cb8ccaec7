package pipeline

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/leadify-flow/internal/model"
	"github.com/sells-group/leadify-flow/pkg/backend"
)

// --- Backend Mock ---

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) ExtractKeywords(ctx context.Context, event model.EventData) (json.RawMessage, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *mockBackend) GenerateQueries(ctx context.Context, event model.EventData, keywords json.RawMessage) ([]string, error) {
	args := m.Called(ctx, event, keywords)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockBackend) SearchProfiles(ctx context.Context, queries []string) ([]json.RawMessage, error) {
	args := m.Called(ctx, queries)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]json.RawMessage), args.Error(1)
}

func (m *mockBackend) RankProfiles(ctx context.Context, profiles []json.RawMessage, event model.EventData) ([]byte, error) {
	args := m.Called(ctx, profiles, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockBackend) GenerateOutreach(ctx context.Context, req backend.OutreachRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockBackend) Forward(ctx context.Context, path string, body []byte) (*backend.Response, error) {
	args := m.Called(ctx, path, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*backend.Response), args.Error(1)
}

// --- Drafter Mock ---

type mockDrafter struct {
	mock.Mock
}

func (m *mockDrafter) Draft(ctx context.Context, lead model.Lead, event model.EventData) (string, error) {
	args := m.Called(ctx, lead, event)
	return args.String(0), args.Error(1)
}
