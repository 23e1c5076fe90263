package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nilakash-hq/nilakash-thread-harvester/internal/domain"
	"github.com/nilakash-hq/nilakash-thread-harvester/pkg/bsky"
)

func makeStubs(n int) []domain.PostStub {
	stubs := make([]domain.PostStub, n)
	for i := range stubs {
		stubs[i] = domain.PostStub{URI: fmt.Sprintf("at://did:plc:op/app.bsky.feed.post/p%d", i)}
	}
	return stubs
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	stubs := makeStubs(5)
	unavailable := stubs[2].URI

	fetch := func(_ context.Context, stub domain.PostStub) (*domain.PostRecord, error) {
		if stub.URI == unavailable {
			return nil, &bsky.Error{Kind: bsky.KindPostUnavailable, Endpoint: bsky.EndpointGetPostThread, StatusCode: 404}
		}
		return &domain.PostRecord{Stub: stub}, nil
	}

	results := NewPool(fetch, 3, nil).RunBatch(context.Background(), stubs)
	if len(results) != len(stubs) {
		t.Fatalf("expected %d results, got %d", len(stubs), len(results))
	}

	var ok, failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
			if !bsky.IsPostUnavailable(res.Err) {
				t.Fatalf("unexpected failure kind: %v", res.Err)
			}
			if res.Stub.URI != unavailable {
				t.Fatalf("failure attributed to wrong stub %q", res.Stub.URI)
			}
			continue
		}
		ok++
		if res.Record == nil {
			t.Fatalf("successful result for %q missing record", res.Stub.URI)
		}
	}
	if ok != 4 || failed != 1 {
		t.Fatalf("expected 4 successes and 1 failure, got %d/%d", ok, failed)
	}
}

func TestRunBatchHonorsConcurrencyCeiling(t *testing.T) {
	const ceiling = 3
	var inFlight, peak int64

	fetch := func(_ context.Context, stub domain.PostStub) (*domain.PostRecord, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return &domain.PostRecord{Stub: stub}, nil
	}

	results := NewPool(fetch, ceiling, nil).RunBatch(context.Background(), makeStubs(20))
	if len(results) != 20 {
		t.Fatalf("expected 20 results, got %d", len(results))
	}
	if got := atomic.LoadInt64(&peak); got > ceiling {
		t.Fatalf("observed %d concurrent fetches, ceiling is %d", got, ceiling)
	}
}

func TestRunBatchReportsEveryStubOnCancellation(t *testing.T) {
	stubs := makeStubs(12)
	ctx, cancel := context.WithCancel(context.Background())

	var started sync.Once
	fetch := func(ctx context.Context, stub domain.PostStub) (*domain.PostRecord, error) {
		started.Do(cancel)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &domain.PostRecord{Stub: stub}, nil
	}

	results := NewPool(fetch, 2, nil).RunBatch(ctx, stubs)
	if len(results) != len(stubs) {
		t.Fatalf("expected one result per stub after cancellation, got %d of %d", len(results), len(stubs))
	}

	seen := make(map[string]bool, len(results))
	for _, res := range results {
		if seen[res.Stub.URI] {
			t.Fatalf("duplicate result for %q", res.Stub.URI)
		}
		seen[res.Stub.URI] = true
	}
	for _, stub := range stubs {
		if !seen[stub.URI] {
			t.Fatalf("missing result for %q", stub.URI)
		}
	}

	var cancelled int
	for _, res := range results {
		if errors.Is(res.Err, context.Canceled) {
			cancelled++
		}
	}
	if cancelled == 0 {
		t.Fatalf("expected undispatched stubs to report the context error")
	}
}

func TestRunBatchSurvivesPanickingFetch(t *testing.T) {
	stubs := makeStubs(3)
	fetch := func(_ context.Context, stub domain.PostStub) (*domain.PostRecord, error) {
		if stub.URI == stubs[1].URI {
			panic("bad thread payload")
		}
		return &domain.PostRecord{Stub: stub}, nil
	}

	results := NewPool(fetch, 2, nil).RunBatch(context.Background(), stubs)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	var panicked int
	for _, res := range results {
		if res.Err != nil {
			panicked++
			if !strings.Contains(res.Err.Error(), "panicked") {
				t.Fatalf("unexpected error: %v", res.Err)
			}
		}
	}
	if panicked != 1 {
		t.Fatalf("expected exactly one panic failure, got %d", panicked)
	}
}

func TestRunBatchEmptyInput(t *testing.T) {
	fetch := func(_ context.Context, stub domain.PostStub) (*domain.PostRecord, error) {
		t.Fatalf("fetch called for empty batch")
		return nil, nil
	}
	if results := NewPool(fetch, 4, nil).RunBatch(context.Background(), nil); results != nil {
		t.Fatalf("expected nil results for empty batch, got %v", results)
	}
}

func TestSortByInputRestoresSubmissionOrder(t *testing.T) {
	stubs := makeStubs(4)
	completion := []domain.TaskResult{
		{Stub: stubs[2]},
		{Stub: stubs[0]},
		{Stub: stubs[3], Err: errors.New("boom")},
		{Stub: stubs[1]},
	}

	ordered := SortByInput(stubs, completion)
	if len(ordered) != len(stubs) {
		t.Fatalf("expected %d results, got %d", len(stubs), len(ordered))
	}
	for i, res := range ordered {
		if res.Stub.URI != stubs[i].URI {
			t.Fatalf("position %d holds %q, want %q", i, res.Stub.URI, stubs[i].URI)
		}
	}
	if ordered[3].Err == nil {
		t.Fatalf("failure lost its error during reordering")
	}
}

func TestSortByInputKeepsUnknownResultsAtEnd(t *testing.T) {
	stubs := makeStubs(2)
	stray := domain.TaskResult{Stub: domain.PostStub{URI: "at://elsewhere/post/x"}}
	completion := []domain.TaskResult{stray, {Stub: stubs[1]}, {Stub: stubs[0]}}

	ordered := SortByInput(stubs, completion)
	if len(ordered) != 3 {
		t.Fatalf("expected 3 results, got %d", len(ordered))
	}
	if ordered[0].Stub.URI != stubs[0].URI || ordered[1].Stub.URI != stubs[1].URI {
		t.Fatalf("known results out of order: %v", ordered)
	}
	if ordered[2].Stub.URI != stray.Stub.URI {
		t.Fatalf("stray result should trail the known ones")
	}
}
