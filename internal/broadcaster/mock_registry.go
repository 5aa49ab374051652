package broadcaster

import "github.com/stretchr/testify/mock"

type MockRegistry struct {
	mock.Mock
}

func NewMockRegistry(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockRegistry {
	m := &MockRegistry{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *MockRegistry) Broadcast(message Message) int {
	args := m.Called(message)
	return args.Int(0)
}

func (m *MockRegistry) Subscribe(channel string, connection *Connection) error {
	args := m.Called(channel, connection)
	return args.Error(0)
}

func (m *MockRegistry) Unsubscribe(channel string, connectionId string) {
	m.Called(channel, connectionId)
}

func (m *MockRegistry) Disconnect(connectionId string) {
	m.Called(connectionId)
}

func (m *MockRegistry) SubscriberCount(channel string) int {
	args := m.Called(channel)
	return args.Int(0)
}
