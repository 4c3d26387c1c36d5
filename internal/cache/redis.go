package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/amaumene/scrobblarr/internal/metrics"
)

// redisEntry is the encoding of one hash field
type redisEntry struct {
	Value     json.RawMessage `json:"v"`
	UpdatedAt int64           `json:"t"`
}

// RedisStore keeps every cache table in its own Redis hash
type RedisStore struct {
	client *redis.Client
	prefix string
	ttls   map[string]time.Duration
}

// NewRedisStore creates a Redis-backed cache store
func NewRedisStore(redisURL string, ttls map[string]time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttls), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttls map[string]time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "cache:",
		ttls:   ttls,
	}
}

func (s *RedisStore) key(table string) string {
	return s.prefix + table
}

// Get hydrates the named tables
func (s *RedisStore) Get(ctx context.Context, names ...string) (*Tables, error) {
	cmds := make([]*redis.MapStringStringCmd, len(names))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, name := range names {
			cmds[i] = pipe.HGetAll(ctx, s.key(name))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read cache tables: %w", err)
	}

	now := time.Now()
	tables := NewTables()
	for i, name := range names {
		fields := cmds[i].Val()
		values := make(map[string]Entry, len(fields))
		for field, raw := range fields {
			var entry redisEntry
			if err := json.Unmarshal([]byte(raw), &entry); err != nil {
				continue
			}
			values[field] = Entry{Value: entry.Value, UpdatedAt: time.Unix(entry.UpdatedAt, 0)}
		}
		tables.add(newTable(name, values, ttlFor(s.ttls, name), now))
	}
	return tables, nil
}

// Set persists every pending change of tables in one MULTI/EXEC transaction
func (s *RedisStore) Set(ctx context.Context, tables *Tables) error {
	changes := tables.changes()
	if len(changes) == 0 {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, c := range changes {
			if c.deleted {
				pipe.HDel(ctx, s.key(c.table), c.key)
				continue
			}
			raw, err := json.Marshal(redisEntry{Value: c.value, UpdatedAt: c.updatedAt.Unix()})
			if err != nil {
				return err
			}
			pipe.HSet(ctx, s.key(c.table), c.key, raw)
		}
		return nil
	})
	if err != nil {
		metrics.CacheFlushes.WithLabelValues("redis", "failure").Inc()
		return fmt.Errorf("flush cache tables: %w", err)
	}
	metrics.CacheFlushes.WithLabelValues("redis", "success").Inc()
	tables.markClean()
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
