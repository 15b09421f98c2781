// Package workpool bounds how many blocking tasks run at once.
package workpool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool is a fixed-size pool of execution slots.
type Pool struct {
	name string
	size int
	sem  *semaphore.Weighted
	wg   sync.WaitGroup
}

// New returns a pool with size slots; size below 1 is treated as 1.
func New(name string, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{name: name, size: size, sem: semaphore.NewWeighted(int64(size))}
}

func (p *Pool) Size() int {
	return p.size
}

// Run waits for a free slot and executes fn on the calling goroutine.
// It returns ctx.Err() if the context ends before a slot frees up.
func (p *Pool) Run(ctx context.Context, fn func(context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("workpool %s: acquire slot: %w", p.name, err)
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

// Go runs fn in the background once a slot frees up. Wait blocks until every
// task started with Go has returned.
func (p *Pool) Go(ctx context.Context, fn func(context.Context) error, onErr func(error)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.Run(ctx, fn); err != nil && onErr != nil {
			onErr(err)
		}
	}()
}

// Wait blocks until all background tasks have finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}
