package cron

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 10

// RedisStore keeps the job list as one JSON value under a key, so several
// processes can share it. Updates use WATCH/MULTI and retry when another
// writer got there first.
type RedisStore struct {
	rdb *redis.Client
	key string
}

// NewRedisStore connects to addr and checks the server answers.
func NewRedisStore(ctx context.Context, addr, key string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return NewRedisStoreFromClient(rdb, key), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client, key string) *RedisStore {
	return &RedisStore{rdb: rdb, key: key}
}

func (s *RedisStore) Load(ctx context.Context) ([]Job, error) {
	return s.get(ctx, s.rdb)
}

func (s *RedisStore) Save(ctx context.Context, jobs []Job) error {
	data, err := json.Marshal(jobs)
	if err != nil {
		return fmt.Errorf("encode jobs: %w", err)
	}
	return s.rdb.Set(ctx, s.key, data, 0).Err()
}

func (s *RedisStore) Update(ctx context.Context, fn func([]Job) ([]Job, error)) error {
	txf := func(tx *redis.Tx) error {
		jobs, err := s.get(ctx, tx)
		if err != nil {
			return err
		}
		jobs, err = fn(jobs)
		if err != nil {
			return err
		}
		data, err := json.Marshal(jobs)
		if err != nil {
			return fmt.Errorf("encode jobs: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, s.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: too much contention", s.key)
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) get(ctx context.Context, c getter) ([]Job, error) {
	data, err := c.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read jobs: %w", err)
	}
	var jobs []Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}
	return jobs, nil
}
