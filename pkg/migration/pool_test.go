package migration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewPoolClampsSize(t *testing.T) {
	assert.Equal(t, 1, NewPool(0).Size())
	assert.Equal(t, 1, NewPool(-3).Size())
	assert.Equal(t, DefaultConcurrency, NewPool(DefaultConcurrency).Size())
}

func TestPoolRunsEveryIndexOnce(t *testing.T) {
	p := NewPool(4)

	var mu sync.Mutex
	seen := make(map[int]int)
	p.Run(context.Background(), 50, func(ctx context.Context, i int) {
		mu.Lock()
		defer mu.Unlock()
		seen[i]++
	})

	assert.Len(t, seen, 50)
	for i := 0; i < 50; i++ {
		assert.Equal(t, 1, seen[i], "index %d", i)
	}
}

func TestPoolNoTasks(t *testing.T) {
	p := NewPool(3)
	called := false
	p.Run(context.Background(), 0, func(ctx context.Context, i int) { called = true })

	assert.False(t, called)
	assert.Zero(t, p.Peak())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(3)

	var inFlight, maxInFlight atomic.Int64
	p.Run(context.Background(), 12, func(ctx context.Context, i int) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			peak := maxInFlight.Load()
			if cur <= peak || maxInFlight.CompareAndSwap(peak, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
	})

	assert.LessOrEqual(t, maxInFlight.Load(), int64(3))
	assert.LessOrEqual(t, p.Peak(), 3)
	assert.GreaterOrEqual(t, p.Peak(), 1)
}

func TestPoolDispatchesAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls, cancelled atomic.Int64
	NewPool(2).Run(ctx, 7, func(ctx context.Context, i int) {
		calls.Add(1)
		if ctx.Err() != nil {
			cancelled.Add(1)
		}
	})

	assert.Equal(t, int64(7), calls.Load())
	assert.Equal(t, int64(7), cancelled.Load())
}
