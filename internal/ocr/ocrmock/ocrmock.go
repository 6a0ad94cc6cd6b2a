// Package ocrmock has testify mocks of the ocr package interfaces.
package ocrmock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/slok/ocrtrack/internal/model"
	"github.com/slok/ocrtrack/internal/ocr"
)

// MockBackend is a mock of ocr.Backend.
type MockBackend struct {
	mock.Mock
}

var _ ocr.Backend = &MockBackend{}

func (m *MockBackend) Upload(ctx context.Context, file model.SourceFile) (string, error) {
	args := m.Called(ctx, file)
	return args.String(0), args.Error(1)
}

func (m *MockBackend) Process(ctx context.Context, taskID string) (*model.Result, error) {
	args := m.Called(ctx, taskID)
	res, _ := args.Get(0).(*model.Result)
	return res, args.Error(1)
}

// MockResultGetter is a mock of ocr.ResultGetter.
type MockResultGetter struct {
	mock.Mock
}

var _ ocr.ResultGetter = &MockResultGetter{}

func (m *MockResultGetter) Result(ctx context.Context, taskID string) (*model.Result, error) {
	args := m.Called(ctx, taskID)
	res, _ := args.Get(0).(*model.Result)
	return res, args.Error(1)
}

// MockExporter is a mock of ocr.Exporter.
type MockExporter struct {
	mock.Mock
}

var _ ocr.Exporter = &MockExporter{}

func (m *MockExporter) Export(ctx context.Context, taskID string, format model.ExportFormat) (*model.Export, error) {
	args := m.Called(ctx, taskID, format)
	exp, _ := args.Get(0).(*model.Export)
	return exp, args.Error(1)
}

// MockHistoryClient is a mock of ocr.HistoryClient.
type MockHistoryClient struct {
	mock.Mock
}

var _ ocr.HistoryClient = &MockHistoryClient{}

func (m *MockHistoryClient) ListHistory(ctx context.Context, query model.RemoteHistoryQuery) (*model.RemoteHistory, error) {
	args := m.Called(ctx, query)
	h, _ := args.Get(0).(*model.RemoteHistory)
	return h, args.Error(1)
}

func (m *MockHistoryClient) DeleteHistory(ctx context.Context, taskID string) error {
	args := m.Called(ctx, taskID)
	return args.Error(0)
}
