package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/castlefun/swipewatch/internal/dedup"
	goredis "github.com/redis/go-redis/v9"
)

const defaultDedupHashKey = "swipewatch:notified"

var _ dedup.Store = (*DedupStore)(nil)

// DedupStore keeps notified event keys in a redis hash so a restart does not
// renotify events that are still offline. Field values are the notification
// timestamps, kept for operator inspection only.
type DedupStore struct {
	client  *goredis.Client
	hashKey string
}

func NewDedupStore(client *goredis.Client, hashKey string) (*DedupStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	hashKey = strings.TrimSpace(hashKey)
	if hashKey == "" {
		hashKey = defaultDedupHashKey
	}

	return &DedupStore{client: client, hashKey: hashKey}, nil
}

func (s *DedupStore) IsNew(ctx context.Context, key string) (bool, error) {
	exists, err := s.client.HExists(ctx, s.hashKey, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check dedup key: %w", err)
	}
	return !exists, nil
}

func (s *DedupStore) MarkNotified(ctx context.Context, key string, at time.Time) error {
	if err := s.client.HSet(ctx, s.hashKey, key, at.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("failed to mark dedup key: %w", err)
	}
	return nil
}

func (s *DedupStore) Reconcile(ctx context.Context, current map[string]struct{}) (int, error) {
	stored, err := s.client.HKeys(ctx, s.hashKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list dedup keys: %w", err)
	}

	stale := make([]string, 0, len(stored))
	for _, key := range stored {
		if _, ok := current[key]; !ok {
			stale = append(stale, key)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	if err := s.client.HDel(ctx, s.hashKey, stale...).Err(); err != nil {
		return 0, fmt.Errorf("failed to evict dedup keys: %w", err)
	}
	return len(stale), nil
}
