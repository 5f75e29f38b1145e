package utils

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// WorkerPool runs jobs on at most maxWorkers goroutines, optionally pacing
// dispatch to one job per interval.
type WorkerPool struct {
	semaphore chan struct{}
	limiter   *rate.Limiter
	wg        sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool. An interval of zero disables pacing.
func NewWorkerPool(maxWorkers int, interval time.Duration) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	wp := &WorkerPool{semaphore: make(chan struct{}, maxWorkers)}
	if interval > 0 {
		wp.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return wp
}

// Submit blocks until a worker slot is free and then runs job in its own
// goroutine. Once ctx is done it returns false and job is not started; jobs
// already running are left to finish.
func (wp *WorkerPool) Submit(ctx context.Context, job func()) bool {
	select {
	case <-ctx.Done():
		return false
	case wp.semaphore <- struct{}{}:
	}

	// select picks at random when both cases are ready
	if ctx.Err() != nil {
		<-wp.semaphore
		return false
	}
	if wp.limiter != nil {
		if err := wp.limiter.Wait(ctx); err != nil {
			<-wp.semaphore
			return false
		}
	}

	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		defer func() { <-wp.semaphore }()
		job()
	}()
	return true
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Set is a thread-safe set, used to drop duplicate listing URLs across search pages.
type Set[T comparable] struct {
	mu   sync.RWMutex
	seen map[T]struct{}
}

// NewSet creates an empty Set.
func NewSet[T comparable]() *Set[T] {
	return &Set[T]{seen: make(map[T]struct{})}
}

// Add returns true if v was newly added, false if already present.
func (s *Set[T]) Add(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[v]; exists {
		return false
	}
	s.seen[v] = struct{}{}
	return true
}

// Contains reports whether v has been added.
func (s *Set[T]) Contains(v T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[v]
	return exists
}

// Size returns the number of unique values tracked.
func (s *Set[T]) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
