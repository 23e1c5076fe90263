package thread

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nilakash-hq/nilakash-thread-harvester/internal/domain"
	"github.com/nilakash-hq/nilakash-thread-harvester/internal/logger"
	"github.com/nilakash-hq/nilakash-thread-harvester/pkg/bsky"
	"github.com/nilakash-hq/nilakash-thread-harvester/pkg/paginator"
)

// Options bounds how much of a post's discussion one fetch may collect.
type Options struct {
	MaxTopLevel int
	MaxDepth    int
	MaxReplies  int
	PageLimit   int
	Backoff     paginator.Backoff
}

// DefaultOptions mirror the configuration defaults.
func DefaultOptions() Options {
	return Options{
		MaxTopLevel: 150,
		MaxDepth:    2,
		MaxReplies:  50,
		Backoff:     paginator.DefaultBackoff,
	}
}

// Fetcher assembles one PostRecord per post: the bounded list of top-level
// comments plus each retained comment's reply subtree down to MaxDepth.
type Fetcher struct {
	tr   bsky.Transport
	opts Options
	log  logger.Logger
}

// NewFetcher builds a comment-tree fetcher over the given transport.
func NewFetcher(tr bsky.Transport, opts Options, log logger.Logger) *Fetcher {
	if opts.MaxTopLevel <= 0 {
		opts.MaxTopLevel = 150
	}
	if opts.MaxReplies <= 0 {
		opts.MaxReplies = 50
	}
	if opts.MaxDepth < 0 {
		opts.MaxDepth = 0
	}
	if opts.Backoff.BaseDelay <= 0 {
		opts.Backoff = paginator.DefaultBackoff
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	return &Fetcher{tr: tr, opts: opts, log: log}
}

// Fetch hydrates the post behind the stub into a PostRecord. A post that
// cannot be confirmed to exist fails the whole fetch; a failing reply branch
// only truncates that branch.
func (f *Fetcher) Fetch(ctx context.Context, stub domain.PostStub) (*domain.PostRecord, error) {
	roots, rootsTruncated, err := f.fetchChildren(ctx, stub.URI, 0, f.opts.MaxTopLevel)
	if err != nil {
		if len(roots) == 0 || bsky.IsPostUnavailable(err) || bsky.IsAuthRequired(err) {
			return nil, fmt.Errorf("fetch comments for %s: %w", stub.URI, err)
		}
		// The listing broke partway (e.g. the accumulated cursor outgrew the
		// anonymous endpoint). Keep what was collected and flag truncation.
		f.log.WarnObj("comment listing truncated", "thread_truncation", map[string]any{
			"post_uri": stub.URI,
			"error":    err.Error(),
		})
		rootsTruncated = true
	}

	truncated := rootsTruncated
	total := 0
	for i := range roots {
		total += countNodes(&roots[i])
		if subtreeTruncated(&roots[i]) {
			truncated = true
		}
	}

	return &domain.PostRecord{
		Stub:     stub,
		PostURL:  bsky.PostWebURL(stub.Author.Handle, stub.URI),
		Comments: roots,
		Meta: domain.FetchMeta{
			TopLevelCount: len(roots),
			TotalNodes:    total,
			Truncated:     truncated,
			FetchedAt:     time.Now().UTC(),
		},
	}, nil
}

// fetchChildren collects the direct replies of parentURI as nodes at the
// given depth, capped at maxChildren, each page requested through its own
// paginator. Truncation is reported when the server had more than the cap.
func (f *Fetcher) fetchChildren(ctx context.Context, parentURI string, depth, maxChildren int) ([]domain.CommentNode, bool, error) {
	pg := paginator.New(f.pageFunc(parentURI)).
		WithBackoff(f.opts.Backoff).
		WithPageLimit(f.opts.PageLimit)

	// Collect one past the cap so truncation can be detected without trusting
	// server-side counts.
	views, err := pg.Collect(ctx, maxChildren+1)

	truncated := len(views) > maxChildren
	if truncated {
		views = views[:maxChildren]
	}

	nodes := make([]domain.CommentNode, 0, len(views))
	for _, view := range views {
		if view.Post == nil {
			continue
		}
		node := toNode(view, depth)
		// No listing call for comments the server already reports as leaf.
		if depth < f.opts.MaxDepth && node.ReplyCount > 0 {
			children, childTruncated, childErr := f.fetchChildren(ctx, node.URI, depth+1, f.opts.MaxReplies)
			if childErr != nil {
				// Graceful degradation: the parent survives with whatever
				// part of the branch was assembled.
				f.log.WarnObj("reply branch truncated", "thread_truncation", map[string]any{
					"comment_uri": node.URI,
					"depth":       depth + 1,
					"error":       childErr.Error(),
				})
				node.Truncated = true
			}
			node.Children = children
			if childTruncated {
				node.Truncated = true
			}
		} else if node.ReplyCount > 0 {
			node.Truncated = true
		}
		nodes = append(nodes, node)
	}

	return nodes, truncated, err
}

// pageFunc builds the paginator page fetcher for one thread node's replies.
func (f *Fetcher) pageFunc(uri string) paginator.PageFunc[threadView] {
	return func(ctx context.Context, cursor string) (paginator.Page[threadView], error) {
		body, err := f.tr.Send(ctx, bsky.Request{
			Endpoint: bsky.EndpointGetPostThread,
			Params: map[string]string{
				"uri":   uri,
				"depth": "1",
			},
			Cursor: cursor,
		})
		if err != nil {
			return paginator.Page[threadView]{}, err
		}

		var resp threadResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return paginator.Page[threadView]{}, &bsky.Error{
				Kind:     bsky.KindTransient,
				Endpoint: bsky.EndpointGetPostThread,
				Err:      fmt.Errorf("decode thread: %w", err),
			}
		}
		if resp.Thread.NotFound || resp.Thread.Blocked || resp.Thread.Post == nil {
			return paginator.Page[threadView]{}, &bsky.Error{
				Kind:     bsky.KindPostUnavailable,
				Endpoint: bsky.EndpointGetPostThread,
				Message:  "thread not found or blocked",
			}
		}

		return paginator.Page[threadView]{Items: resp.Thread.Replies, Cursor: resp.Cursor}, nil
	}
}

// countNodes returns the size of the subtree rooted at node, inclusive.
func countNodes(node *domain.CommentNode) int {
	total := 1
	for i := range node.Children {
		total += countNodes(&node.Children[i])
	}
	return total
}

// subtreeTruncated reports whether any node under (or at) node is truncated.
func subtreeTruncated(node *domain.CommentNode) bool {
	if node.Truncated {
		return true
	}
	for i := range node.Children {
		if subtreeTruncated(&node.Children[i]) {
			return true
		}
	}
	return false
}
