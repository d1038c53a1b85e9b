// Package balance tracks the administrative send budget. A positive balance
// lets dispatch run in bigger batches and lifts the schedule throttle.
package balance

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// Counter stores the balance value.
type Counter interface {
	Get(ctx context.Context) (int64, error)
	Add(ctx context.Context, delta int64) (int64, error)
}

// Service exposes the balance operations used by dispatch and the monitor
// endpoint.
type Service struct {
	counter Counter
}

func New(counter Counter) *Service {
	if counter == nil {
		counter = NewAtomicCounter()
	}
	return &Service{counter: counter}
}

func (s *Service) Get(ctx context.Context) (int64, error) {
	return s.counter.Get(ctx)
}

func (s *Service) IsPositive(ctx context.Context) (bool, error) {
	v, err := s.counter.Get(ctx)
	if err != nil {
		return false, err
	}
	return v > 0, nil
}

func (s *Service) IncrementBy(ctx context.Context, delta int64) (int64, error) {
	return s.counter.Add(ctx, delta)
}

func (s *Service) Decrement(ctx context.Context) (int64, error) {
	return s.counter.Add(ctx, -1)
}

// AtomicCounter is the single-process counter.
type AtomicCounter struct {
	value atomic.Int64
}

func NewAtomicCounter() *AtomicCounter {
	return &AtomicCounter{}
}

func (c *AtomicCounter) Get(context.Context) (int64, error) {
	return c.value.Load(), nil
}

func (c *AtomicCounter) Add(_ context.Context, delta int64) (int64, error) {
	return c.value.Add(delta), nil
}

// RedisCounter shares the balance between replicas.
type RedisCounter struct {
	client redis.Cmdable
	key    string
}

func NewRedisCounter(client redis.Cmdable, key string) *RedisCounter {
	if key == "" {
		key = "peppolrelay:balance"
	}
	return &RedisCounter{client: client, key: key}
}

func (c *RedisCounter) Get(ctx context.Context) (int64, error) {
	v, err := c.client.Get(ctx, c.key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return v, nil
}

func (c *RedisCounter) Add(ctx context.Context, delta int64) (int64, error) {
	v, err := c.client.IncrBy(ctx, c.key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}
	return v, nil
}
