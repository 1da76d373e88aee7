package repository

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"sdb_service/internal/domain/model"
)

// ErrRunNotFound - сводка запуска отсутствует в кеше.
var ErrRunNotFound = errors.New("run not found")

// RunCache хранит сводки последних запусков.
type RunCache interface {
	SetRunSummary(ctx context.Context, s model.RunSummary) error
	GetRunSummary(ctx context.Context, runID string) (*model.RunSummary, error)
}

const runKeyPrefix = "run:"

type RedisRunCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRunCache(addr, password string, db int, ttl time.Duration) *RedisRunCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisRunCache{client: client, ttl: ttl}
}

func (c *RedisRunCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisRunCache) GetRunSummary(ctx context.Context, runID string) (*model.RunSummary, error) {
	data, err := c.client.Get(ctx, runKeyPrefix+runID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.Wrap(ErrRunNotFound, runID)
		}
		return nil, errors.Wrap(err, "failed to read run summary")
	}

	var s model.RunSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "failed to decode run summary %s", runID)
	}
	return &s, nil
}

func (c *RedisRunCache) SetRunSummary(ctx context.Context, s model.RunSummary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, runKeyPrefix+s.RunID, data, c.ttl).Err()
}

func (c *RedisRunCache) Close() error {
	return c.client.Close()
}

// MemoryRunCache - кеш в памяти процесса для режима без Redis.
type MemoryRunCache struct {
	mu   sync.RWMutex
	runs map[string]model.RunSummary
}

func NewMemoryRunCache() *MemoryRunCache {
	return &MemoryRunCache{runs: make(map[string]model.RunSummary)}
}

func (c *MemoryRunCache) SetRunSummary(_ context.Context, s model.RunSummary) error {
	c.mu.Lock()
	c.runs[s.RunID] = s
	c.mu.Unlock()
	return nil
}

func (c *MemoryRunCache) GetRunSummary(_ context.Context, runID string) (*model.RunSummary, error) {
	c.mu.RLock()
	s, ok := c.runs[runID]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.Wrap(ErrRunNotFound, runID)
	}
	return &s, nil
}
