package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each thread's records in a Redis list, oldest first.
// Records are appended in the order the engine writes them, so the tail is
// always the latest.
type RedisStore struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration

	mu     sync.RWMutex
	closed bool
	closer func() error
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisTTL expires a thread's records after ttl without writes.
// Zero keeps records forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithRedisPrefix overrides the key prefix (default "checkpoint").
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore wraps an existing client. Close does not close rdb.
func NewRedisStore(rdb redis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{rdb: rdb, prefix: "checkpoint"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenRedisStore connects to the Redis server at url and pings it.
// Close closes the underlying client.
func OpenRedisStore(ctx context.Context, url string, opts ...RedisOption) (*RedisStore, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	s := NewRedisStore(client, opts...)
	s.closer = client.Close
	return s, nil
}

func (s *RedisStore) key(threadID string) string {
	return fmt.Sprintf("%s:%s:records", s.prefix, threadID)
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	data, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	key := s.key(rec.ThreadID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Latest implements Store.
func (s *RedisStore) Latest(ctx context.Context, threadID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	data, err := s.rdb.LIndex(ctx, s.key(threadID), -1).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	rec, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return rec, nil
}

// History implements Store.
func (s *RedisStore) History(ctx context.Context, threadID string) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.rdb.LRange(ctx, s.key(threadID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	infos := make([]Info, 0, len(rows))
	for i, row := range rows {
		rec, err := Unmarshal([]byte(row))
		if err != nil {
			return nil, fmt.Errorf("decode checkpoint at index %d: %w", i, err)
		}
		infos = append(infos, rec.Info())
	}
	return infos, nil
}

// Purge implements Store.
func (s *RedisStore) Purge(ctx context.Context, threadID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	if err := s.rdb.Del(ctx, s.key(threadID)).Err(); err != nil {
		return fmt.Errorf("purge thread checkpoints: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer()
	}
	return nil
}
