package pipeline

import (
	"context"
	"sync"
	"time"

	"krisha-scraper/models"
	"krisha-scraper/utils"
)

// Processor is the per-target work a Runner schedules.
type Processor interface {
	Process(ctx context.Context, target models.Target) Outcome
}

// Result gathers the outcomes of a run. Slice order follows completion, not
// input order.
type Result struct {
	Emitted     []*models.ListingRecord
	Rejected    []models.RejectionReport
	Interrupted bool
}

// Runner fans targets out to a fixed number of workers.
type Runner struct {
	proc     Processor
	interval time.Duration
	logger   *utils.Logger
}

// NewRunner creates a Runner. A non-zero interval paces dispatch to one target
// per interval across all workers.
func NewRunner(proc Processor, interval time.Duration, logger *utils.Logger) *Runner {
	return &Runner{proc: proc, interval: interval, logger: logger}
}

// Run processes targets with at most concurrency in flight. When ctx is done
// no further targets are dispatched; running ones finish and their outcomes
// are included in the partial result.
func (r *Runner) Run(ctx context.Context, targets []models.Target, concurrency int) *Result {
	res := &Result{}
	var mu sync.Mutex

	pool := utils.NewWorkerPool(concurrency, r.interval)
	dispatched := 0
	for _, target := range targets {
		target := target
		ok := pool.Submit(ctx, func() {
			out := r.proc.Process(ctx, target)

			mu.Lock()
			defer mu.Unlock()
			if out.Emitted() {
				res.Emitted = append(res.Emitted, out.Record)
			} else if out.Rejection != nil {
				res.Rejected = append(res.Rejected, *out.Rejection)
			}
		})
		if !ok {
			res.Interrupted = true
			break
		}
		dispatched++
	}
	pool.Wait()

	if res.Interrupted {
		r.logger.Warn("[pipeline] Interrupted: dispatched %d of %d targets", dispatched, len(targets))
	}
	r.logger.Info("[pipeline] Done: %d emitted, %d rejected", len(res.Emitted), len(res.Rejected))
	return res
}

// AllRejected reports whether every target in the run carrying the given tags
// was rejected. Tags with no targets report false.
func (res *Result) AllRejected(deal models.DealType, property models.PropertyType) bool {
	rejected := 0
	for _, r := range res.Rejected {
		if r.DealType == deal && r.PropertyType == property {
			rejected++
		}
	}
	if rejected == 0 {
		return false
	}
	for _, rec := range res.Emitted {
		if rec.DealType == deal && rec.PropertyType == property {
			return false
		}
	}
	return true
}
