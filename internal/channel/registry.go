// Package channel provides the output channels events fan out to, and
// the registry that manages them.
package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/soyeahso/relay/internal/domain"
	"github.com/soyeahso/relay/internal/logging"
)

// Registry manages a set of output channels.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]domain.Channel
	log      *logging.Logger
}

// NewRegistry creates a channel registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		channels: make(map[string]domain.Channel),
		log:      log.Sub("channels"),
	}
}

// Register adds a channel to the registry.
func (r *Registry) Register(ch domain.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.ID()] = ch
	r.log.Info().Str("channel", ch.ID()).Msg("channel registered")
}

// Get returns a channel by ID.
func (r *Registry) Get(id string) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// List returns all channel IDs.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.channels))
	for id := range r.channels {
		ids = append(ids, id)
	}
	return ids
}

// Status returns the status of all registered channels.
func (r *Registry) Status() []domain.ChannelStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	statuses := make([]domain.ChannelStatus, 0, len(r.channels))
	for _, ch := range r.channels {
		if sc, ok := ch.(interface{ Status() domain.ChannelStatus }); ok {
			statuses = append(statuses, sc.Status())
		} else {
			statuses = append(statuses, domain.ChannelStatus{
				ChannelID: ch.ID(),
				Running:   true,
			})
		}
	}
	return statuses
}

// PublishAll delivers an event to every registered channel. A channel
// failure is logged and does not stop delivery to the others; the event
// is already in history, so a broken channel only affects itself.
func (r *Registry) PublishAll(ctx context.Context, evt domain.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, ch := range r.channels {
		if err := ch.Publish(ctx, evt); err != nil {
			r.log.Error().Err(err).
				Str("channel", id).
				Str("conversation", evt.ConversationID).
				Int64("seq", evt.Seq).
				Msg("publish failed")
		}
	}
}

// StartAll starts all registered channels. Start methods do quick
// initialization only, so a failure here surfaces at startup rather
// than on the first publish.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, ch := range r.channels {
		r.log.Info().Str("channel", id).Msg("starting channel")
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("starting channel %s: %w", id, err)
		}
	}
	return nil
}

// StopAll stops all registered channels.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, ch := range r.channels {
		r.log.Info().Str("channel", id).Msg("stopping channel")
		if err := ch.Stop(ctx); err != nil {
			r.log.Error().Err(err).Str("channel", id).Msg("failed to stop channel")
		}
	}
}

// Count returns the number of registered channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
