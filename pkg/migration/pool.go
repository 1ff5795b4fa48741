package migration

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultConcurrency is the number of templates migrated at the same time
// unless configured otherwise.
const DefaultConcurrency = 5

// Pool runs indexed tasks on a fixed number of workers.
type Pool struct {
	size    int
	running atomic.Int64
	peak    atomic.Int64
}

// NewPool creates a pool with size workers. Sizes below one are treated as one.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{size: size}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Peak returns the highest number of tasks that ran at the same time.
func (p *Pool) Peak() int {
	return int(p.peak.Load())
}

// Run calls fn once for every index in [0, n) and returns when all calls have
// returned. Every index is dispatched even after ctx is done; fn is expected
// to observe ctx itself.
func (p *Pool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int)) {
	if n <= 0 {
		return
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < min(p.size, n); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				p.enter()
				fn(ctx, i)
				p.running.Add(-1)
			}
		}()
	}

	for i := 0; i < n; i++ {
		indexes <- i
	}
	close(indexes)
	wg.Wait()
}

func (p *Pool) enter() {
	cur := p.running.Add(1)
	for {
		peak := p.peak.Load()
		if cur <= peak || p.peak.CompareAndSwap(peak, cur) {
			return
		}
	}
}
