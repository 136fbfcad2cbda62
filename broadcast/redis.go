package broadcast

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBroadcaster publishes commit notices to a per-document pub/sub
// channel, so every server process holding subscribers for the document
// can relay them.
type RedisBroadcaster struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisBroadcaster wraps an existing Redis client.
func NewRedisBroadcaster(client *redis.Client, logger zerolog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, logger: logger}
}

// Channel returns the pub/sub channel name for a document.
func Channel(docID string) string {
	return "doc:" + docID
}

func (r *RedisBroadcaster) Broadcast(ctx context.Context, notice Notice) error {
	payload, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, Channel(notice.DocID), payload).Err(); err != nil {
		r.logger.Error().Err(err).Str("doc", notice.DocID).Msg("publish commit notice")
		return err
	}
	return nil
}
