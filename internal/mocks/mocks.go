// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/xkilldash9x/worklog-cli/internal/store"
	"github.com/xkilldash9x/worklog-cli/internal/worklog"
)

// -- Storage Mock --

// MockBackend mocks store.Backend.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Load(ctx context.Context, key string) (worklog.Credentials, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(worklog.Credentials), args.Error(1)
}

func (m *MockBackend) LoadAll(ctx context.Context) ([]worklog.Credentials, error) {
	args := m.Called(ctx)
	users, _ := args.Get(0).([]worklog.Credentials)
	return users, args.Error(1)
}

func (m *MockBackend) Save(ctx context.Context, creds worklog.Credentials) error {
	return m.Called(ctx, creds).Error(0)
}

func (m *MockBackend) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockBackend) Reset(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockBackend) SaveScreenshot(ctx context.Context, key, description string, png []byte) error {
	return m.Called(ctx, key, description, png).Error(0)
}

func (m *MockBackend) Recent(ctx context.Context, key string, limit int) ([]store.Screenshot, error) {
	args := m.Called(ctx, key, limit)
	shots, _ := args.Get(0).([]store.Screenshot)
	return shots, args.Error(1)
}

func (m *MockBackend) Close() error {
	return m.Called().Error(0)
}

// -- Run Mocks --

// MockBatch mocks the run surface of *worklog.Batch that the server and the
// scheduler depend on.
type MockBatch struct {
	mock.Mock
}

func (m *MockBatch) RunOne(ctx context.Context, creds worklog.Credentials) *worklog.Result {
	res, _ := m.Called(ctx, creds).Get(0).(*worklog.Result)
	return res
}

func (m *MockBatch) RunAll(ctx context.Context) (worklog.Summary, error) {
	args := m.Called(ctx)
	sum, _ := args.Get(0).(worklog.Summary)
	return sum, args.Error(1)
}

func (m *MockBatch) Busy() bool {
	return m.Called().Bool(0)
}

var _ store.Backend = (*MockBackend)(nil)
