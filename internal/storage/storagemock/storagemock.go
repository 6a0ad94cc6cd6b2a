// Package storagemock has testify mocks of the storage package interfaces.
package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/storage"
)

// MockHistoryRepository is a mock of storage.HistoryRepository.
type MockHistoryRepository struct {
	mock.Mock
}

var _ storage.HistoryRepository = &MockHistoryRepository{}

func (m *MockHistoryRepository) SaveEntry(ctx context.Context, e model.HistoryEntry) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockHistoryRepository) GetEntry(ctx context.Context, taskID string) (*model.HistoryEntry, error) {
	args := m.Called(ctx, taskID)
	e, _ := args.Get(0).(*model.HistoryEntry)
	return e, args.Error(1)
}

func (m *MockHistoryRepository) ListEntries(ctx context.Context, filter model.HistoryFilter) ([]model.HistoryEntry, error) {
	args := m.Called(ctx, filter)
	es, _ := args.Get(0).([]model.HistoryEntry)
	return es, args.Error(1)
}

func (m *MockHistoryRepository) DeleteEntriesBefore(ctx context.Context, t time.Time) (int64, error) {
	args := m.Called(ctx, t)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

func (m *MockHistoryRepository) DeleteEntries(ctx context.Context, taskID string) (int64, error) {
	args := m.Called(ctx, taskID)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}
