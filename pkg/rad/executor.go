package rad

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// progressInterval is how often the orchestrating goroutine samples progress.
const progressInterval = time.Second / 30

// Executor fans per-patch work out over a fixed number of worker goroutines.
// Indices are handed out dynamically in chunks, so uneven rows balance out.
type Executor struct {
	workers int
}

// NewExecutor creates an executor. workers <= 0 means one per CPU.
func NewExecutor(workers int) *Executor {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Executor{workers: workers}
}

// Workers returns the number of worker goroutines.
func (e *Executor) Workers() int { return e.workers }

// ForEachIndex calls fn for every index in [0, n) and blocks until all
// calls returned. While waiting it reports finished/n to progress from the
// calling goroutine only. A panic in fn is re-raised in the caller.
func (e *Executor) ForEachIndex(ctx context.Context, n, chunk int, fn func(i int), progress ProgressFunc) error {
	if n <= 0 {
		return ctx.Err()
	}
	if chunk <= 0 {
		chunk = 1
	}

	var (
		next     atomic.Int64
		finished atomic.Int64
		wg       sync.WaitGroup
		panicMu  sync.Mutex
		panicVal any
	)

	workers := min(e.workers, (n+chunk-1)/chunk)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panicMu.Lock()
					if panicVal == nil {
						panicVal = r
					}
					panicMu.Unlock()
					// Drain the cursor so the other workers stop early
					next.Store(int64(n))
				}
			}()

			for ctx.Err() == nil {
				start := int(next.Add(int64(chunk))) - chunk
				if start >= n {
					return
				}
				end := min(start+chunk, n)
				for i := start; i < end; i++ {
					fn(i)
				}
				finished.Add(int64(end - start))
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-done:
			break wait
		case <-ticker.C:
			progress.Report(float64(finished.Load()) / float64(n))
		}
	}

	if panicVal != nil {
		panic(panicVal)
	}
	return ctx.Err()
}
