package main

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// maxRequestAttempts is the number of times a single AI request is sent
// before it counts as failed. It is one: the only retry the map stage makes
// is the split-and-retry step (§4.F), which re-issues each commit of a failed
// multi-commit batch as a request of its own.
const maxRequestAttempts = 1

// ProgressEventKind distinguishes success from failure for a completed
// commit (§4.F, §9 Design Notes: observer callback over global logging).
type ProgressEventKind int

const (
	ProgressCommitSucceeded ProgressEventKind = iota
	ProgressCommitFailed
)

// ProgressEvent reports exactly one commit's completion.
type ProgressEvent struct {
	Kind      ProgressEventKind
	Completed int
	Total     int
}

// ProgressObserver receives one ProgressEvent per completed commit.
type ProgressObserver func(ProgressEvent)

// ResolvedItem carries one commit's outcome out of a request attempt: its
// original index and the caller-defined result payload (an Amendment or a
// CommitCheckResult), so the only place that ever writes the aggregate
// result map is RunMapStage itself, after a batch's goroutine returns —
// never the concurrently-running req closures (§5).
type ResolvedItem struct {
	Index   int
	Payload any
}

// RequestFn issues one AI request for a batch of commit indices and returns
// the per-commit results it resolved, paired with their original indices, or
// an error. Command drivers supply closures over their own prompt builders
// and response parsers so the map stage stays agnostic to twiddle vs check;
// those closures must only return data, never write to a map shared across
// goroutines themselves.
type RequestFn func(ctx context.Context, batchIndices []int) ([]ResolvedItem, error)

// sendWithRetry sends a single request up to maxRequestAttempts times in
// total, returning the last error if every attempt fails. Context
// cancellation aborts immediately without consuming further attempts.
func sendWithRetry(ctx context.Context, indices []int, req RequestFn) ([]ResolvedItem, error) {
	var lastErr error
	for attempt := 0; attempt < maxRequestAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resolved, err := req(ctx, indices)
		if err == nil {
			return resolved, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// MapStageResult aggregates the outcome of dispatching a batch plan.
type MapStageResult struct {
	// Succeeded lists the resolved items in the order their batch
	// completed (callers re-sort by original index afterward).
	Succeeded     []ResolvedItem
	FailedIndices []int
	// Cancelled is set to ctx.Err() when the run was aborted by context
	// cancellation rather than by every batch genuinely failing (§4.F):
	// callers must surface it instead of mistaking a cancelled run for an
	// AllCommitsFailedError.
	Cancelled error
}

// RunMapStage dispatches plan's batches under bounded concurrency, sending
// each request maxRequestAttempts times at most and falling back to
// split-and-retry on a multi-commit batch failure (§4.F). req is called once per batch attempt
// and, on split, once per individual commit; it is responsible for building
// the request view, calling the AiClient, and parsing the response — it
// returns the subset of the given indices that succeeded.
//
// The engine MUST NOT retry beyond the split-and-retry step: a commit that
// fails its individual retry after a split is final for this invocation.
func RunMapStage(ctx context.Context, plan BatchPlan, concurrency int, observe ProgressObserver, req RequestFn) MapStageResult {
	total := 0
	for _, b := range plan.Batches {
		total += len(b.CommitIndices)
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	var completed atomic.Int64
	var mu sync.Mutex
	var succeeded []ResolvedItem
	var failed []int

	report := func(kind ProgressEventKind, n int) {
		if observe == nil {
			return
		}
		for i := 0; i < n; i++ {
			done := int(completed.Add(1))
			observe(ProgressEvent{Kind: kind, Completed: done, Total: total})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, batch := range plan.Batches {
		batch := batch
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				mu.Lock()
				failed = append(failed, batch.CommitIndices...)
				mu.Unlock()
				report(ProgressCommitFailed, len(batch.CommitIndices))
				return nil
			}
			defer sem.Release(1)

			resolved, err := sendWithRetry(gctx, batch.CommitIndices, req)

			switch {
			case err == nil:
				mu.Lock()
				succeeded = append(succeeded, resolved...)
				mu.Unlock()
				report(ProgressCommitSucceeded, len(batch.CommitIndices))

			case len(batch.CommitIndices) == 1:
				mu.Lock()
				failed = append(failed, batch.CommitIndices[0])
				mu.Unlock()
				report(ProgressCommitFailed, 1)

			default:
				// Split-and-retry: re-issue each commit in the batch
				// independently, each as a request of its own.
				for _, idx := range batch.CommitIndices {
					single, serr := sendWithRetry(gctx, []int{idx}, req)
					if serr == nil && len(single) == 1 {
						mu.Lock()
						succeeded = append(succeeded, single...)
						mu.Unlock()
						report(ProgressCommitSucceeded, 1)
					} else {
						mu.Lock()
						failed = append(failed, idx)
						mu.Unlock()
						report(ProgressCommitFailed, 1)
					}
				}
			}

			return nil
		})
	}
	_ = g.Wait()

	var cancelled error
	if err := ctx.Err(); err != nil {
		cancelled = err
	}
	return MapStageResult{Succeeded: succeeded, FailedIndices: failed, Cancelled: cancelled}
}
