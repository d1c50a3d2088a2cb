package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/soyeahso/relay/internal/domain"
	"github.com/soyeahso/relay/internal/logging"
)

// Redis publishes events as JSON to a pub/sub channel, for external
// subscribers that consume the stream out of process.
type Redis struct {
	client  *redis.Client
	channel string
	log     *logging.Logger
}

// NewRedis creates a redis pub/sub channel. channel is the pub/sub
// topic events are published on.
func NewRedis(client *redis.Client, channel string, log *logging.Logger) *Redis {
	return &Redis{
		client:  client,
		channel: channel,
		log:     log.Sub("redis"),
	}
}

func (r *Redis) ID() string { return "redis" }

// Start verifies connectivity. Failing here surfaces a misconfigured
// address at startup instead of on the first publish.
func (r *Redis) Start(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	r.log.Info().Str("topic", r.channel).Msg("connected")
	return nil
}

func (r *Redis) Stop(ctx context.Context) error {
	return r.client.Close()
}

// Publish sends the event as a JSON payload. Subscribers are not
// tracked; an event published with no subscriber is simply gone, which
// is fine because history replay covers late joiners elsewhere.
func (r *Redis) Publish(ctx context.Context, evt domain.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}
