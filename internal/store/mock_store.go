package store

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/taskhive/chatcache/internal/model"
)

// MockHistoryStore is a testify mock of HistoryStore for use in tests
type MockHistoryStore struct {
	mock.Mock
}

func (m *MockHistoryStore) FetchConversationHistory(ctx context.Context, userID string) ([]model.Message, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *MockHistoryStore) FetchPage(ctx context.Context, userID string, offset, limit int) ([]model.Message, error) {
	args := m.Called(ctx, userID, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *MockHistoryStore) PersistMessage(ctx context.Context, userID string, msg model.Message) error {
	args := m.Called(ctx, userID, msg)
	return args.Error(0)
}

func (m *MockHistoryStore) FetchTable(ctx context.Context, userID, table, operation string, params TableParams) (interface{}, error) {
	args := m.Called(ctx, userID, table, operation, params)
	return args.Get(0), args.Error(1)
}

func (m *MockHistoryStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockHistoryStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
