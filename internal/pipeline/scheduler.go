package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/bernsmp/zed-seo-tool/internal/integrations/llm"
)

type Batch[T any] struct {
	Index int
	Total int
	Items []T
}

// Scheduler drives contiguous batches through a worker one at a time.
type Scheduler[T, R any] struct {
	BatchSize int
	// Worker must return exactly one result per batch item, in batch order.
	// prior holds every result produced before this batch.
	Worker func(ctx context.Context, b Batch[T], prior []R) ([]R, error)
	// Degrade builds stand-in results for a batch whose worker failed.
	Degrade func(items []T, err error) []R
	// Checkpoint receives the cumulative results after every batch.
	Checkpoint func(ctx context.Context, batchesDone, batchesTotal int, cumulative []R) error
	Progress   func(done, total int)
	// Outcome is told whether each batch succeeded, degraded or aborted.
	Outcome func(b Batch[T], outcome string, err error)
	Delay   time.Duration
}

// Resume seeds a run with the results of batches already completed.
type Resume[R any] struct {
	BatchesDone int
	Results     []R
}

const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeFatal    = "fatal"
)

func BatchCount(items, batchSize int) int {
	if items == 0 {
		return 0
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return (items + batchSize - 1) / batchSize
}

// Run processes items in batches and returns the cumulative results. With a
// non-nil resume the completed batches are skipped. A fatal gateway error
// aborts the run and a cancelled ctx stops it between batches; either way the
// results so far come back with the error.
func (s *Scheduler[T, R]) Run(ctx context.Context, items []T, resume *Resume[R]) ([]R, error) {
	size := s.BatchSize
	if size < 1 {
		size = 1
	}
	total := BatchCount(len(items), size)
	cumulative := make([]R, 0, len(items))
	startBatch := 0
	if resume != nil {
		startBatch = resume.BatchesDone
		cumulative = append(cumulative, resume.Results...)
	}

	if startBatch < 0 || startBatch > total {
		return cumulative, fmt.Errorf("resume batch %d out of range (total %d)", startBatch, total)
	}

	for idx := startBatch; idx < total; idx++ {
		if err := ctx.Err(); err != nil {
			return cumulative, err
		}
		if idx > startBatch && s.Delay > 0 {
			if err := llm.SleepContext(ctx, s.Delay); err != nil {
				return cumulative, err
			}
		}

		start := idx * size
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batch := Batch[T]{Index: idx, Total: total, Items: items[start:end]}

		results, err := s.Worker(ctx, batch, cumulative)
		if err == nil && len(results) != len(batch.Items) {
			err = fmt.Errorf("worker returned %d results for %d items", len(results), len(batch.Items))
		}
		switch {
		case err == nil:
			s.outcome(batch, OutcomeOK, nil)
		case llm.IsFatal(err):
			s.outcome(batch, OutcomeFatal, err)
			return cumulative, err
		case ctx.Err() != nil:
			// Interrupted mid-retry: leave the batch for a resumed run.
			return cumulative, ctx.Err()
		default:
			s.outcome(batch, OutcomeDegraded, err)
			results = s.Degrade(batch.Items, err)
		}

		cumulative = append(cumulative, results...)
		if s.Checkpoint != nil {
			if err := s.Checkpoint(ctx, idx+1, total, cumulative); err != nil {
				return cumulative, fmt.Errorf("checkpoint after batch %d: %w", idx+1, err)
			}
		}
		if s.Progress != nil {
			s.Progress(idx+1, total)
		}
	}
	return cumulative, nil
}

func (s *Scheduler[T, R]) outcome(b Batch[T], outcome string, err error) {
	if s.Outcome != nil {
		s.Outcome(b, outcome, err)
	}
}
