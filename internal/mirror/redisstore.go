package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore is the secondary mirror hierarchy (Store B). Each path maps to
// one key holding a JSON document; updates are read-merge-write.
type RedisStore struct {
	client *redis.Client
	clock  func() time.Time
}

// NewRedisStore constructs the Store B implementation.
func NewRedisStore(client *redis.Client, clock func() time.Time) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("mirror: redis client is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &RedisStore{client: client, clock: clock}, nil
}

// Upsert merges fields into the document at path, creating it when absent.
func (s *RedisStore) Upsert(ctx context.Context, path string, fields Fields) error {
	if strings.TrimSpace(path) == "" {
		return ErrInvalidPath
	}

	now := s.clock().UTC().Unix()
	existing := Fields{}
	raw, err := s.client.Get(ctx, path).Result()
	switch {
	case errors.Is(err, redis.Nil):
		existing[fieldCreatedAt] = now
	case err != nil:
		return err
	default:
		if unmarshalErr := json.Unmarshal([]byte(raw), &existing); unmarshalErr != nil {
			return unmarshalErr
		}
	}

	for key, value := range fields {
		existing[key] = value
	}
	existing[fieldUpdatedAt] = now

	encoded, err := json.Marshal(existing)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, path, encoded, 0).Err()
}

// Get loads the fields stored at path.
func (s *RedisStore) Get(ctx context.Context, path string) (Fields, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrInvalidPath
	}

	raw, err := s.client.Get(ctx, path).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, path)
	}
	if err != nil {
		return nil, err
	}

	fields := Fields{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
