// Package mocks 提供基于 testify/mock 的测试替身。
package mocks

import (
	"context"
	"errors"

	"github.com/stretchr/testify/mock"

	"github.com/BaSui01/agentloop/agent/persistence"
)

// MockStateStore is a testify mock of persistence.StateStore.
type MockStateStore struct {
	mock.Mock
}

var _ persistence.StateStore = (*MockStateStore)(nil)

func (m *MockStateStore) Put(ctx context.Context, key string, value []byte) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *MockStateStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockStateStore) Ping(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *MockStateStore) Close() error { return m.Called().Error(0) }

// NewBrokenStore returns a store whose every read and write fails.
func NewBrokenStore() *MockStateStore {
	m := &MockStateStore{}
	m.On("Put", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full"))
	m.On("Get", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
	m.On("Ping", mock.Anything).Return(errors.New("connection refused"))
	m.On("Close").Return(nil)
	return m
}
