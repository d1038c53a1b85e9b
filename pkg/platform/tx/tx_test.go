package tx

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "peppolrelay/pkg/domain-errors"
)

func TestLockRunnerSerializes(t *testing.T) {
	r := NewLockRunner(0)
	var inside, maxInside atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.RunInTx(context.Background(), func(ctx context.Context) error {
				n := inside.Add(1)
				if n > maxInside.Load() {
					maxInside.Store(n)
				}
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside.Load())
}

func TestLockRunnerIsReentrant(t *testing.T) {
	r := NewLockRunner(0)
	calls := 0
	err := r.RunInTx(context.Background(), func(ctx context.Context) error {
		return r.RunInTx(ctx, func(context.Context) error {
			calls++
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestLockRunnerPropagatesError(t *testing.T) {
	r := NewLockRunner(0)
	boom := errors.New("boom")
	err := r.RunInTx(context.Background(), func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestLockRunnerCancelledContext(t *testing.T) {
	r := NewLockRunner(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.RunInTx(ctx, func(context.Context) error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
}

func TestFromEmptyContext(t *testing.T) {
	_, ok := From(context.Background())
	assert.False(t, ok)
	_, ok = PgxFrom(context.Background())
	assert.False(t, ok)
	assert.Equal(t, context.Background(), WithTx(context.Background(), nil))
}

func TestSavepointWithoutTransaction(t *testing.T) {
	boom := errors.New("boom")
	err := Savepoint(context.Background(), func(ctx context.Context) error {
		_, ok := PgxFrom(ctx)
		assert.False(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)
}
