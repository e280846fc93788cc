// Package bus is a small in-process pub/sub channel used to fan task
// lifecycle events out to the logger and the metrics layer without
// coupling them to the persistence code.
package bus

import (
	"strings"
	"sync"
)

const defaultBufferSize = 100

// Event is a message published on the bus.
type Event struct {
	Topic   string
	Payload interface{}
}

// Task lifecycle topics.
const (
	TopicTaskCreated      = "task.created"
	TopicTaskStateChanged = "task.state_changed"
	TopicTaskUpdated      = "task.updated"
	TopicTaskDeleted      = "task.deleted"
	TopicTaskPurged       = "task.purged"
)

// Store lifecycle topics.
const (
	TopicStoreOpened = "store.opened"
	TopicStoreClosed = "store.closed"
)

// StoreEvent is published when a workspace store is opened or closed.
type StoreEvent struct {
	WorkspaceKey string
}

// TaskCreatedEvent is published after a task row is committed.
type TaskCreatedEvent struct {
	WorkspaceKey string
	TaskID       int64
	Status       string
}

// TaskStateChangedEvent is published when a task's status changes.
type TaskStateChangedEvent struct {
	WorkspaceKey string
	TaskID       int64
	OldStatus    string
	NewStatus    string
}

// TaskDeletedEvent is published on soft delete.
type TaskDeletedEvent struct {
	WorkspaceKey string
	TaskID       int64
}

// TaskPurgedEvent is published after a retention purge.
type TaskPurgedEvent struct {
	WorkspaceKey string
	Purged       int64
}

// Subscription represents an active subscription.
type Subscription struct {
	id     int
	prefix string
	ch     chan Event
}

// Ch returns the channel to receive events on.
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Bus is a topic-prefix pub/sub bus. Delivery is best-effort: slow
// subscribers miss events rather than stalling a write path.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe creates a subscription for events matching the given topic
// prefix. An empty prefix matches all topics.
func (b *Bus) Subscribe(topicPrefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: topicPrefix,
		ch:     make(chan Event, defaultBufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish sends an event to all matching subscribers. Non-blocking: a
// full subscriber buffer drops the event for that subscriber only.
func (b *Bus) Publish(topic string, payload interface{}) {
	event := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.prefix == "" || strings.HasPrefix(topic, sub.prefix) {
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
