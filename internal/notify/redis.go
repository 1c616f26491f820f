// ABOUTME: Redis pub/sub mirror of the notification channel
// ABOUTME: Lets other inboxd instances see events published by this one

package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const publishTimeout = 2 * time.Second

// RedisPublisher mirrors events to a redis channel so sessions attached to
// other instances stay current. Publish failures are logged, not surfaced:
// the in-process broadcaster already delivered the event locally. Each
// publisher stamps its own instance ID on outgoing events so Listen can
// skip the copies redis echoes back.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *slog.Logger
}

// NewRedisPublisher creates a publisher writing to the given channel.
func NewRedisPublisher(client *redis.Client, channel string, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		origin:  uuid.New().String(),
		logger:  logger.With("component", "redis-notify"),
	}
}

// Publish serializes the event and pushes it to the redis channel.
func (p *RedisPublisher) Publish(event *Event) {
	stamped := *event
	stamped.Origin = p.origin
	payload, err := json.Marshal(&stamped)
	if err != nil {
		p.logger.Error("failed to marshal event", "error", err, "event_id", event.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.Error("failed to publish event",
			"error", err,
			"event_id", event.ID,
			"channel", p.channel)
	}
}

// Listen subscribes to the redis channel and forwards events from other
// instances into the local broadcaster until ctx is cancelled. Events this
// instance published are dropped: the broadcaster already delivered them.
func (p *RedisPublisher) Listen(ctx context.Context, local *Broadcaster) {
	sub := p.client.Subscribe(ctx, p.channel)
	defer sub.Close()

	p.logger.Info("listening for remote events", "channel", p.channel)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			p.forwardRemote([]byte(msg.Payload), local)
		}
	}
}

// forwardRemote decodes one payload off the redis channel and republishes it
// locally unless this instance originated it.
func (p *RedisPublisher) forwardRemote(payload []byte, local *Broadcaster) bool {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		p.logger.Warn("ignoring malformed remote event", "error", err)
		return false
	}
	if event.Origin == p.origin {
		return false
	}
	local.Publish(&event)
	return true
}
