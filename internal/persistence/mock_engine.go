package persistence

import (
	"context"

	"github.com/goevery/hotelsync/internal/broadcaster"
	"github.com/stretchr/testify/mock"
)

type MockEngine struct {
	mock.Mock
}

func NewMockEngine(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockEngine {
	m := &MockEngine{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockEngine) Setup(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockEngine) Save(ctx context.Context, request SaveRequest) (broadcaster.Message, error) {
	args := m.Called(ctx, request)
	return args.Get(0).(broadcaster.Message), args.Error(1)
}

func (m *MockEngine) List(ctx context.Context, channel string, lastSeenId string) ([]broadcaster.Message, error) {
	args := m.Called(ctx, channel, lastSeenId)

	messages, _ := args.Get(0).([]broadcaster.Message)
	return messages, args.Error(1)
}
