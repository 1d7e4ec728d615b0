package listing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/stagepass/internal/clock"
)

const (
	DefaultBatchSize  = 5
	DefaultBatchDelay = 100 * time.Millisecond
)

// Scheduler splits [0, n) into fixed-size batches. Calls within a batch run
// concurrently; batches run one after another with a pacing delay between
// them, so at most one batch is in flight.
type Scheduler struct {
	batchSize int
	delay     time.Duration
	clock     clock.Clock
}

// NewScheduler creates a Scheduler. Non-positive values fall back to the
// defaults (5 indices, 100ms).
func NewScheduler(batchSize int, delay time.Duration, clk clock.Clock) *Scheduler {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if delay < 0 {
		delay = DefaultBatchDelay
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Scheduler{batchSize: batchSize, delay: delay, clock: clk}
}

// Batches returns the index batches for n items.
func (s *Scheduler) Batches(n uint64) [][]uint64 {
	var out [][]uint64
	for start := uint64(0); start < n; start += uint64(s.batchSize) {
		end := min(start+uint64(s.batchSize), n)
		batch := make([]uint64, 0, end-start)
		for i := start; i < end; i++ {
			batch = append(batch, i)
		}
		out = append(out, batch)
	}
	return out
}

// Run calls fn once for every index in [0, n). A failing index is logged and
// reported in failed; it never aborts the other indices. The only error
// returned is ctx's.
func (s *Scheduler) Run(ctx context.Context, n uint64, fn func(ctx context.Context, index uint64) error) (failed []uint64, err error) {
	var mu sync.Mutex
	for i, batch := range s.Batches(n) {
		if i > 0 {
			if err := s.clock.Sleep(ctx, s.delay); err != nil {
				return failed, err
			}
		}
		if err := ctx.Err(); err != nil {
			return failed, err
		}

		var g errgroup.Group
		for _, index := range batch {
			g.Go(func() error {
				if err := fn(ctx, index); err != nil {
					slog.Warn("skipping index after read failure", "index", index, "error", err)
					mu.Lock()
					failed = append(failed, index)
					mu.Unlock()
				}
				return nil
			})
		}
		g.Wait()
	}
	return failed, nil
}
