package utils

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPoolRateLimit(t *testing.T) {
	rateLimitMs := 100
	pool := NewWorkerPool(1, rateLimitMs)

	var timestamps []time.Time
	mu := make(chan struct{}, 1)
	mu <- struct{}{}

	for i := 0; i < 3; i++ {
		pool.Submit(func() {
			<-mu
			timestamps = append(timestamps, time.Now())
			mu <- struct{}{}
		})
	}
	pool.Wait()

	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		min := time.Duration(rateLimitMs) * time.Millisecond
		if gap < min {
			t.Errorf("gap between job %d and %d: %v < minimum %v", i-1, i, gap, min)
		}
	}
}

func TestWorkerPoolBoundedConcurrency(t *testing.T) {
	pool := NewWorkerPool(2, 0)

	var active, peak int64
	for i := 0; i < 20; i++ {
		pool.Submit(func() {
			cur := atomic.AddInt64(&active, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if cur <= p || atomic.CompareAndSwapInt64(&peak, p, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&active, -1)
		})
	}
	pool.Wait()

	if peak > 2 {
		t.Errorf("peak concurrency: got %d, want at most 2", peak)
	}
}

func TestWorkerPoolZeroWorkers(t *testing.T) {
	pool := NewWorkerPool(0, 0)

	var ran int64
	pool.Submit(func() { atomic.AddInt64(&ran, 1) })
	pool.Wait()

	if ran != 1 {
		t.Error("job should still run when maxWorkers is clamped to 1")
	}
}
