// ABOUTME: In-memory fan-out broadcaster for cross-session awareness
// ABOUTME: Publishes events to all subscribed sessions without polling

package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Broadcaster provides in-memory pub/sub for notification events.
// Sessions subscribe once and receive every event published by this
// instance. Publishing never blocks: slow subscribers drop events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Event // subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan *Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a session for events. Returns a channel that receives
// events and a subscription ID for later unsubscription. The subscription
// is automatically cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(event *Event) {
	b.mu.RLock()
	// Copy subscriber channels under read lock to avoid holding lock during sends
	targets := make([]chan *Event, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
			// Sent
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"event_id", event.ID,
				"type", event.Type)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, exists := b.subscribers[subID]
	if !exists {
		return
	}

	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}

	b.logger.Debug("broadcaster closed")
}
