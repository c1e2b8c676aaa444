package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultQueueKey = "consentline:notifications"

// Queue enqueues intents on a redis list for an external delivery worker.
type Queue struct {
	Client redis.Cmdable
	Key    string
}

func (q Queue) key() string {
	if q.Key != "" {
		return q.Key
	}
	return DefaultQueueKey
}

func (q Queue) NotifyStageTransition(ctx context.Context, n StageTransition) error {
	return q.enqueue(ctx, transitionIntent(n))
}

func (q Queue) NotifyClosure(ctx context.Context, n Closure) error {
	return q.enqueue(ctx, closureIntent(n))
}

func (q Queue) enqueue(ctx context.Context, intent Intent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return err
	}
	if err := q.Client.RPush(ctx, q.key(), data).Err(); err != nil {
		return fmt.Errorf("enqueue %s intent: %w", intent.Kind, err)
	}
	return nil
}
