package chathub_test

import (
	"context"
	"sanctuary/backend/internal/chathub"
	"sync"

	"github.com/stretchr/testify/mock"
)

type MockClient struct {
	participantID string
	RecvChannel   chan chathub.Event

	mu     sync.Mutex
	closed bool
}

func newMockClient(participantID string) *MockClient {
	return &MockClient{
		participantID: participantID,
		RecvChannel:   make(chan chathub.Event, 10),
	}
}

func (c *MockClient) GetParticipantID() string {
	return c.participantID
}

func (c *MockClient) GetSendChannel() chan<- chathub.Event {
	return c.RecvChannel
}

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *MockClient) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// MockNotifier records chat notifications.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Send(ctx context.Context, chatHandle, text string) error {
	args := m.Called(ctx, chatHandle, text)
	return args.Error(0)
}
