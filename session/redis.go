package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "authgate:session:"

// RedisStore keeps sessions in Redis with a TTL matching their expiry, so
// several gateway replicas can share them.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a RedisStore using the default key prefix.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return NewRedisStoreWithPrefix(client, defaultRedisPrefix)
}

// NewRedisStoreWithPrefix returns a RedisStore with a custom key prefix.
func NewRedisStoreWithPrefix(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (r *RedisStore) Put(ctx context.Context, id string, s Session) error {
	if id == "" {
		return errors.New("session id cannot be empty")
	}
	var ttl time.Duration
	if !s.ExpiresAt.IsZero() {
		ttl = s.ExpiresAt.Sub(r.now())
		if ttl <= 0 {
			return errors.New("session is expired")
		}
	}

	data, err := encodeRecord(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return r.client.Set(ctx, r.prefix+id, data, ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	if id == "" {
		return Session{}, ErrNotFound
	}
	data, err := r.client.Get(ctx, r.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("redis get: %w", err)
	}

	s, err := decodeRecord(data)
	if err != nil {
		return Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if s.Expired(r.now()) {
		if err := r.Delete(ctx, id); err != nil {
			return Session{}, fmt.Errorf("cleanup expired session: %w", err)
		}
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return r.client.Del(ctx, r.prefix+id).Err()
}
