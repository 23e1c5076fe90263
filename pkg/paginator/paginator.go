package paginator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/nilakash-hq/nilakash-thread-harvester/pkg/bsky"
)

// ErrExhausted is returned by Next once the sequence has ended.
var ErrExhausted = errors.New("paginator: sequence exhausted")

// Page is one server response: items in server order plus the cursor for the
// next page. An empty cursor means the sequence is complete.
type Page[T any] struct {
	Items  []T
	Cursor string
}

// PageFunc fetches one page for the given cursor. The cursor is opaque: it is
// passed to the server verbatim and never inspected here.
type PageFunc[T any] func(ctx context.Context, cursor string) (Page[T], error)

// Backoff controls retry pacing for rate-limited and transient failures.
type Backoff struct {
	BaseDelay  time.Duration
	MaxRetries int
	Jitter     bool
}

// DefaultBackoff matches the configuration defaults.
var DefaultBackoff = Backoff{BaseDelay: 500 * time.Millisecond, MaxRetries: 4, Jitter: true}

// Paginator lazily walks a cursor-paginated endpoint. A fresh paginator always
// starts from the initial cursor state; after a hard failure the sequence is
// aborted rather than resumed, so no page gap can be introduced silently.
type Paginator[T any] struct {
	fetch     PageFunc[T]
	backoff   Backoff
	pageLimit int

	buffer    []T
	bufferIdx int
	cursor    string
	pages     int
	hasMore   bool
	err       error
}

// New builds a paginator over the given page fetcher.
func New[T any](fetch PageFunc[T]) *Paginator[T] {
	return &Paginator[T]{
		fetch:   fetch,
		backoff: DefaultBackoff,
		hasMore: true,
	}
}

// WithBackoff overrides the retry pacing.
func (p *Paginator[T]) WithBackoff(b Backoff) *Paginator[T] {
	if b.BaseDelay > 0 {
		p.backoff = b
	}
	return p
}

// WithPageLimit caps the number of pages fetched. Zero means no page cap.
func (p *Paginator[T]) WithPageLimit(limit int) *Paginator[T] {
	if limit >= 0 {
		p.pageLimit = limit
	}
	return p
}

// HasNext reports whether another item may be available.
func (p *Paginator[T]) HasNext() bool {
	if p.err != nil {
		return false
	}
	return p.bufferIdx < len(p.buffer) || p.hasMore
}

// Err returns the hard failure that aborted the sequence, if any.
func (p *Paginator[T]) Err() error { return p.err }

// Next returns the next item in server order, fetching the following page
// when the buffer runs out. Returns ErrExhausted once the server reports no
// further cursor or the page limit is reached.
func (p *Paginator[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if p.err != nil {
		return zero, p.err
	}

	// An empty page mid-stream is not exhaustion: keep following cursors
	// until the server stops handing one out.
	for p.bufferIdx >= len(p.buffer) {
		if !p.hasMore {
			return zero, ErrExhausted
		}
		if err := p.advance(ctx); err != nil {
			return zero, err
		}
	}

	item := p.buffer[p.bufferIdx]
	p.bufferIdx++
	return item, nil
}

// Collect drains up to maxItems items (non-positive means all). The items
// gathered before a hard failure are returned alongside the error.
func (p *Paginator[T]) Collect(ctx context.Context, maxItems int) ([]T, error) {
	var items []T
	for p.HasNext() && (maxItems <= 0 || len(items) < maxItems) {
		item, err := p.Next(ctx)
		if errors.Is(err, ErrExhausted) {
			break
		}
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

// advance fetches the next page into the buffer, retrying rate-limited and
// transient failures with exponential backoff. The cursor is not advanced
// while backing off, so a retry re-requests the same page.
func (p *Paginator[T]) advance(ctx context.Context) error {
	if p.pageLimit > 0 && p.pages >= p.pageLimit {
		p.hasMore = false
		p.buffer = nil
		p.bufferIdx = 0
		return nil
	}

	sent := p.cursor
	page, err := p.fetchWithRetry(ctx)
	if err != nil {
		p.err = err
		return err
	}

	p.buffer = page.Items
	p.bufferIdx = 0
	p.cursor = page.Cursor
	p.pages++

	// An absent cursor is the server's exhaustion signal. A cursor echoed
	// back unchanged would request the same page forever, so it ends the
	// sequence too.
	if page.Cursor == "" || page.Cursor == sent {
		p.hasMore = false
	}
	return nil
}

func (p *Paginator[T]) fetchWithRetry(ctx context.Context) (Page[T], error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		page, err := p.fetch(ctx, p.cursor)
		if err == nil {
			return page, nil
		}
		// AuthRequired and CursorRejected must surface untouched: retrying
		// with the same cursor cannot succeed, and the escalation decision
		// belongs to the caller.
		if !bsky.Retryable(err) {
			return Page[T]{}, err
		}
		lastErr = err
		if attempt >= p.backoff.MaxRetries {
			break
		}
		if err := p.sleep(ctx, attempt); err != nil {
			return Page[T]{}, err
		}
	}
	return Page[T]{}, fmt.Errorf("retries exhausted after %d attempts: %w", p.backoff.MaxRetries+1, lastErr)
}

// sleep waits out one backoff interval, doubling per attempt with optional
// jitter, and aborts early on context cancellation.
func (p *Paginator[T]) sleep(ctx context.Context, attempt int) error {
	delay := p.backoff.BaseDelay << attempt
	if p.backoff.Jitter {
		// Spread between 50% and 150% of the nominal delay.
		delay = delay/2 + time.Duration(rand.Int64N(int64(delay)))
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
