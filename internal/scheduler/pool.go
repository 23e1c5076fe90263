package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/nilakash-hq/nilakash-thread-harvester/internal/domain"
	"github.com/nilakash-hq/nilakash-thread-harvester/internal/logger"
)

// FetchFunc runs one comment-tree fetch for one post stub.
type FetchFunc func(ctx context.Context, stub domain.PostStub) (*domain.PostRecord, error)

// Pool dispatches fetch tasks with a fixed concurrency ceiling. Each worker
// runs one task to completion before pulling the next; a failing task is
// reported in its result and never disturbs sibling tasks.
type Pool struct {
	fetch       FetchFunc
	concurrency int
	log         logger.Logger
}

// NewPool builds a pool running at most concurrency fetches at once.
func NewPool(fetch FetchFunc, concurrency int, log logger.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	return &Pool{fetch: fetch, concurrency: concurrency, log: log}
}

// RunBatch fetches every stub and returns exactly one result per input, in
// completion order. Cancellation stops new dispatch immediately; stubs that
// never started are reported with the context error, and in-flight tasks
// drain bounded by the per-call request timeout.
func (p *Pool) RunBatch(ctx context.Context, stubs []domain.PostStub) []domain.TaskResult {
	if len(stubs) == 0 {
		return nil
	}

	// The task queue is bounded so a huge batch cannot buffer itself into
	// memory ahead of the workers; submission blocks instead.
	tasks := make(chan domain.PostStub, p.concurrency)
	results := make(chan domain.TaskResult, len(stubs))

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for stub := range tasks {
				results <- p.runTask(ctx, stub)
			}
		}()
	}

	go func() {
		defer close(tasks)
		for i, stub := range stubs {
			select {
			case tasks <- stub:
			case <-ctx.Done():
				for _, skipped := range stubs[i:] {
					results <- domain.TaskResult{Stub: skipped, Err: ctx.Err()}
				}
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]domain.TaskResult, 0, len(stubs))
	for res := range results {
		if res.Err != nil {
			p.log.WarnObj("fetch task failed", "task_failure", map[string]any{
				"post_uri": res.Stub.URI,
				"error":    res.Err.Error(),
			})
		}
		out = append(out, res)
	}
	return out
}

// runTask executes one fetch, converting a cancelled dispatch or a panicking
// fetch into a per-task failure so the worker survives.
func (p *Pool) runTask(ctx context.Context, stub domain.PostStub) (res domain.TaskResult) {
	res = domain.TaskResult{Stub: stub}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()

	record, err := p.fetch(ctx, stub)
	res.Record = record
	res.Err = err
	return res
}

// SortByInput reorders completion-ordered results to match the input stubs.
// Results for stubs absent from the input keep their relative order at the end.
func SortByInput(stubs []domain.PostStub, results []domain.TaskResult) []domain.TaskResult {
	index := make(map[string]int, len(stubs))
	for i, stub := range stubs {
		index[stub.URI] = i
	}

	ordered := make([]domain.TaskResult, len(stubs))
	filled := make([]bool, len(stubs))
	var extra []domain.TaskResult
	for _, res := range results {
		if i, ok := index[res.Stub.URI]; ok && !filled[i] {
			ordered[i] = res
			filled[i] = true
			continue
		}
		extra = append(extra, res)
	}

	out := make([]domain.TaskResult, 0, len(results))
	for i, ok := range filled {
		if ok {
			out = append(out, ordered[i])
		}
	}
	return append(out, extra...)
}
