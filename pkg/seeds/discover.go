package seeds

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nilakash-hq/nilakash-thread-harvester/internal/domain"
	"github.com/nilakash-hq/nilakash-thread-harvester/pkg/bsky"
	"github.com/nilakash-hq/nilakash-thread-harvester/pkg/paginator"
)

// Options tunes how discoverers drive their paginators.
type Options struct {
	PerPage   int
	PageLimit int
	Backoff   paginator.Backoff
}

const defaultPerPage = 100

// NewRegistry wires the discovery implementations for every supported seed
// type over one shared transport.
func NewRegistry(tr bsky.Transport, opts Options) DiscovererRegistry {
	if opts.PerPage <= 0 || opts.PerPage > defaultPerPage {
		opts.PerPage = defaultPerPage
	}
	if opts.Backoff.BaseDelay <= 0 {
		opts.Backoff = paginator.DefaultBackoff
	}

	byType := map[string]Discoverer{
		TypeSearch:   &searchDiscoverer{tr: tr, opts: opts},
		TypeUser:     &userDiscoverer{tr: tr, opts: opts},
		TypeFeed:     &feedDiscoverer{tr: tr, opts: opts, typ: TypeFeed},
		TypeTrending: &feedDiscoverer{tr: tr, opts: opts, typ: TypeTrending},
	}
	return &discovererRegistry{byType: byType}
}

type discovererRegistry struct {
	byType map[string]Discoverer
}

func (r *discovererRegistry) DiscovererFor(cfg Seed) (Discoverer, error) {
	typ := strings.ToLower(strings.TrimSpace(cfg.Type))
	if d, ok := r.byType[typ]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("no discoverer registered for seed %q (type %q)", cfg.ID, cfg.Type)
}

// listEnvelope covers both list response styles: searchPosts returns bare
// post views under "posts", feed endpoints return wrapped items under "feed".
type listEnvelope struct {
	Posts  []json.RawMessage `json:"posts"`
	Feed   []json.RawMessage `json:"feed"`
	Cursor string            `json:"cursor"`
}

// stubView is the minimal slice of a post view a stub needs.
type stubView struct {
	URI    string `json:"uri"`
	CID    string `json:"cid"`
	Author struct {
		DID         string `json:"did"`
		Handle      string `json:"handle"`
		DisplayName string `json:"displayName"`
	} `json:"author"`
	Record struct {
		CreatedAt time.Time `json:"createdAt"`
	} `json:"record"`
}

// feedItem wraps a post view inside feed responses.
type feedItem struct {
	Post json.RawMessage `json:"post"`
}

// discoverStubs drives one paginator over a list endpoint and converts items
// into stubs. wrapped selects the feed item style over the bare post style.
func discoverStubs(ctx context.Context, tr bsky.Transport, opts Options, cfg Seed, endpoint string, params map[string]string, wrapped bool) ([]domain.PostStub, error) {
	params["limit"] = strconv.Itoa(opts.PerPage)

	pg := paginator.New(func(ctx context.Context, cursor string) (paginator.Page[json.RawMessage], error) {
		body, err := tr.Send(ctx, bsky.Request{Endpoint: endpoint, Params: params, Cursor: cursor})
		if err != nil {
			return paginator.Page[json.RawMessage]{}, err
		}
		var envelope listEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return paginator.Page[json.RawMessage]{}, &bsky.Error{
				Kind:     bsky.KindTransient,
				Endpoint: endpoint,
				Err:      fmt.Errorf("decode listing: %w", err),
			}
		}
		items := envelope.Posts
		if wrapped {
			items = envelope.Feed
		}
		return paginator.Page[json.RawMessage]{Items: items, Cursor: envelope.Cursor}, nil
	}).WithBackoff(opts.Backoff).WithPageLimit(opts.PageLimit)

	raws, err := pg.Collect(ctx, cfg.MaxPosts)
	if err != nil {
		return nil, fmt.Errorf("discover seed %q: %w", cfg.ID, err)
	}

	stubs := make([]domain.PostStub, 0, len(raws))
	for _, raw := range raws {
		stub, err := stubFromRaw(raw, wrapped)
		if err != nil {
			continue
		}
		if !cfg.InWindow(stub.CreatedAt) {
			continue
		}
		stubs = append(stubs, stub)
	}
	return stubs, nil
}

// stubFromRaw parses a discovery item into a stub, keeping the item's raw
// payload exactly as the server returned it.
func stubFromRaw(raw json.RawMessage, wrapped bool) (domain.PostStub, error) {
	postRaw := raw
	if wrapped {
		var item feedItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return domain.PostStub{}, err
		}
		postRaw = item.Post
	}

	var view stubView
	if err := json.Unmarshal(postRaw, &view); err != nil {
		return domain.PostStub{}, err
	}
	if view.URI == "" {
		return domain.PostStub{}, fmt.Errorf("discovery item missing post uri")
	}

	return domain.PostStub{
		URI: view.URI,
		CID: view.CID,
		Author: domain.Author{
			DID:         view.Author.DID,
			Handle:      view.Author.Handle,
			DisplayName: view.Author.DisplayName,
		},
		CreatedAt: view.Record.CreatedAt,
		Raw:       append([]byte(nil), raw...),
	}, nil
}

// searchDiscoverer seeds from app.bsky.feed.searchPosts.
type searchDiscoverer struct {
	tr   bsky.Transport
	opts Options
}

func (d *searchDiscoverer) Type() string { return TypeSearch }

func (d *searchDiscoverer) Discover(ctx context.Context, cfg Seed) ([]domain.PostStub, error) {
	params := map[string]string{"q": cfg.Query}
	return discoverStubs(ctx, d.tr, d.opts, cfg, bsky.EndpointSearchPosts, params, false)
}

// userDiscoverer seeds from one or more author timelines.
type userDiscoverer struct {
	tr   bsky.Transport
	opts Options
}

func (d *userDiscoverer) Type() string { return TypeUser }

func (d *userDiscoverer) Discover(ctx context.Context, cfg Seed) ([]domain.PostStub, error) {
	var stubs []domain.PostStub
	for _, actor := range cfg.AllActors() {
		params := map[string]string{"actor": actor}
		actorStubs, err := discoverStubs(ctx, d.tr, d.opts, cfg, bsky.EndpointGetAuthorFeed, params, true)
		if err != nil {
			return stubs, fmt.Errorf("actor %q: %w", actor, err)
		}
		stubs = append(stubs, actorStubs...)
	}
	return stubs, nil
}

// feedDiscoverer seeds from a feed generator; the trending variant pins the
// what's-hot generator when the config names no feed.
type feedDiscoverer struct {
	tr   bsky.Transport
	opts Options
	typ  string
}

func (d *feedDiscoverer) Type() string { return d.typ }

func (d *feedDiscoverer) Discover(ctx context.Context, cfg Seed) ([]domain.PostStub, error) {
	feedURI := cfg.FeedURI
	if feedURI == "" && d.typ == TypeTrending {
		feedURI = bsky.WhatsHotFeedURI
	}
	if extracted := bsky.ExtractATURI(feedURI); extracted != "" {
		feedURI = extracted
	}
	if feedURI == "" {
		return nil, fmt.Errorf("seed %q has no feed uri", cfg.ID)
	}

	params := map[string]string{"feed": feedURI}
	return discoverStubs(ctx, d.tr, d.opts, cfg, bsky.EndpointGetFeed, params, true)
}
