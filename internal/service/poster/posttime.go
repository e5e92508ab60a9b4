package poster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type postKey struct {
	accountID string
	website   string
}

// MemoryPostTimeStore keeps post times for the lifetime of the process.
type MemoryPostTimeStore struct {
	mu    sync.Mutex
	times map[postKey]time.Time
}

func NewMemoryPostTimeStore() *MemoryPostTimeStore {
	return &MemoryPostTimeStore{times: make(map[postKey]time.Time)}
}

func (s *MemoryPostTimeStore) LastPost(_ context.Context, accountID, website string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.times[postKey{accountID, website}]
	return at, ok, nil
}

func (s *MemoryPostTimeStore) RecordPost(_ context.Context, accountID, website string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := postKey{accountID, website}
	if current, ok := s.times[key]; ok && !at.After(current) {
		return nil
	}
	s.times[key] = at
	return nil
}

// recordNewer stores ARGV[1] only if it is newer than the stored value.
var recordNewer = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current and tonumber(current) >= tonumber(ARGV[1]) then
  return 0
end
if tonumber(ARGV[2]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
else
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// RedisPostTimeStore shares post times between restarts and instances.
// Values are unix milliseconds.
type RedisPostTimeStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisPostTimeStore(client *redis.Client, prefix string, ttl time.Duration) *RedisPostTimeStore {
	if prefix == "" {
		prefix = "crosspost:last_post"
	}
	return &RedisPostTimeStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisPostTimeStore) key(accountID, website string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, website, accountID)
}

func (s *RedisPostTimeStore) LastPost(ctx context.Context, accountID, website string) (time.Time, bool, error) {
	ms, err := s.client.Get(ctx, s.key(accountID, website)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read post time: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *RedisPostTimeStore) RecordPost(ctx context.Context, accountID, website string, at time.Time) error {
	keys := []string{s.key(accountID, website)}
	if err := recordNewer.Run(ctx, s.client, keys, at.UnixMilli(), s.ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("failed to record post time: %w", err)
	}
	return nil
}
