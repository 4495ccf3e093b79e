package nats

import (
	"context"
	"sync"
)

// MockPublisher keeps published record events in memory so handlers can be
// exercised without a NATS server.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*RecordEvent
	publishError    error
	closed          bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*RecordEvent, 0),
	}
}

// PublishRecord stores event unless a publish error has been set.
func (m *MockPublisher) PublishRecord(ctx context.Context, event *RecordEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns a snapshot of the stored events in publish order.
func (m *MockPublisher) GetPublishedEvents() []*RecordEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*RecordEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

func (m *MockPublisher) GetPublishedEventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.publishedEvents)
}

// GetPublishedEventsForSubject filters by the subject an event would be
// published on, e.g. "txrecords.77" or "txrecords.none".
func (m *MockPublisher) GetPublishedEventsForSubject(subject string) []*RecordEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*RecordEvent, 0)
	for _, event := range m.publishedEvents {
		if event.Subject() == subject {
			events = append(events, event)
		}
	}
	return events
}

// PublishedTxHashes lists the transaction hash of every stored event.
func (m *MockPublisher) PublishedTxHashes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hashes := make([]string, 0, len(m.publishedEvents))
	for _, event := range m.publishedEvents {
		hashes = append(hashes, event.TxHash)
	}
	return hashes
}

// SetPublishError makes every later PublishRecord call fail with err.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset forgets stored events, the publish error and the closed flag.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedEvents = make([]*RecordEvent, 0)
	m.publishError = nil
	m.closed = false
}

func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
