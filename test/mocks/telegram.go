package mocks

import (
	"context"
	"sync"
)

// MockNotifier records alert texts instead of sending them.
type MockNotifier struct {
	mu       sync.Mutex
	messages []string
}

// Notify implements telegram.Notifier.
func (m *MockNotifier) Notify(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, text)
	return nil
}

// Messages returns a copy of everything notified so far.
func (m *MockNotifier) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}
