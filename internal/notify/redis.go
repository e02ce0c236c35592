package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentguard/internal/models"
	"github.com/redis/go-redis/v9"
)

type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// RedisNotifier appends events to a Redis stream.
type RedisNotifier struct {
	client streamClient
	stream string
	maxLen int64
}

func NewRedisNotifier(addr, password string, db int, stream string, maxLen int64) *RedisNotifier {
	return &RedisNotifier{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		stream: stream,
		maxLen: maxLen,
	}
}

func (r *RedisNotifier) Name() string {
	return "redis"
}

func (r *RedisNotifier) Notify(ctx context.Context, event *models.AlertEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"event_id": event.EventID,
			"kind":     string(event.Kind),
			"subject":  event.Subject,
			"rule":     event.RuleName,
			"level":    string(event.Level),
			"payload":  string(data),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append to stream %s: %w", r.stream, err)
	}
	return nil
}

func (r *RedisNotifier) Close() error {
	return r.client.Close()
}
