package seeds

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nilakash-hq/nilakash-thread-harvester/pkg/bsky"
	"github.com/nilakash-hq/nilakash-thread-harvester/pkg/paginator"
)

// listTransport serves canned list pages keyed by endpoint plus the
// distinguishing query param. Cursors are page indexes baked into the bodies.
type listTransport struct {
	pages map[string][]string
	reqs  []bsky.Request
}

func (f *listTransport) Mode() bsky.AuthMode { return bsky.ModeAnonymous }

func (f *listTransport) Send(_ context.Context, req bsky.Request) ([]byte, error) {
	f.reqs = append(f.reqs, req)

	key := req.Endpoint
	for _, p := range []string{"q", "actor", "feed"} {
		if v := req.Params[p]; v != "" {
			key += "|" + v
			break
		}
	}

	seq := f.pages[key]
	idx := 0
	if req.Cursor != "" {
		idx, _ = strconv.Atoi(req.Cursor)
	}
	if idx >= len(seq) {
		return []byte(`{}`), nil
	}
	return []byte(seq[idx]), nil
}

func postItem(uri, createdAt string) string {
	return fmt.Sprintf(`{"uri":%q,"cid":"cid-1","author":{"did":"did:plc:a","handle":"a.test","displayName":"A"},"record":{"createdAt":%q,"text":"hi"}}`, uri, createdAt)
}

func searchPage(cursor string, items ...string) string {
	body := `{"posts":[` + strings.Join(items, ",") + `]`
	if cursor != "" {
		body += `,"cursor":` + strconv.Quote(cursor)
	}
	return body + `}`
}

func feedPage(cursor string, items ...string) string {
	wrapped := make([]string, len(items))
	for i, item := range items {
		wrapped[i] = `{"post":` + item + `}`
	}
	body := `{"feed":[` + strings.Join(wrapped, ",") + `]`
	if cursor != "" {
		body += `,"cursor":` + strconv.Quote(cursor)
	}
	return body + `}`
}

func testDiscoverOptions() Options {
	return Options{PerPage: 100, Backoff: paginator.Backoff{BaseDelay: time.Millisecond, MaxRetries: 1}}
}

const testCreatedAt = "2026-03-10T12:00:00Z"

func TestSearchDiscoverCollectsAcrossPages(t *testing.T) {
	items := []string{
		postItem("at://did:plc:a/app.bsky.feed.post/1", testCreatedAt),
		postItem("at://did:plc:a/app.bsky.feed.post/2", testCreatedAt),
		postItem("at://did:plc:a/app.bsky.feed.post/3", testCreatedAt),
	}
	tr := &listTransport{pages: map[string][]string{
		bsky.EndpointSearchPosts + "|golang": {
			searchPage("1", items[0], items[1]),
			searchPage("", items[2]),
		},
	}}

	reg := NewRegistry(tr, testDiscoverOptions())
	d, err := reg.DiscovererFor(Seed{ID: "s", Type: TypeSearch})
	if err != nil {
		t.Fatalf("DiscovererFor: %v", err)
	}

	stubs, err := d.Discover(context.Background(), Seed{ID: "s", Type: TypeSearch, Query: "golang", MaxPosts: 50})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(stubs) != 3 {
		t.Fatalf("expected 3 stubs, got %d", len(stubs))
	}
	for i, stub := range stubs {
		want := fmt.Sprintf("at://did:plc:a/app.bsky.feed.post/%d", i+1)
		if stub.URI != want {
			t.Fatalf("stub %d uri = %q, want %q", i, stub.URI, want)
		}
	}

	// The raw payload is the item exactly as the server returned it.
	if string(stubs[0].Raw) != items[0] {
		t.Fatalf("raw payload altered:\n got %s\nwant %s", stubs[0].Raw, items[0])
	}
	if stubs[0].Author.Handle != "a.test" || stubs[0].CID != "cid-1" {
		t.Fatalf("stub fields not extracted: %+v", stubs[0])
	}

	first := tr.reqs[0]
	if first.Params["q"] != "golang" {
		t.Fatalf("query param missing: %v", first.Params)
	}
	if first.Params["limit"] != "100" {
		t.Fatalf("limit param missing: %v", first.Params)
	}
}

func TestUserDiscoverWalksAllActors(t *testing.T) {
	tr := &listTransport{pages: map[string][]string{
		bsky.EndpointGetAuthorFeed + "|bsky.app": {
			feedPage("", postItem("at://did:plc:a/app.bsky.feed.post/a1", testCreatedAt)),
		},
		bsky.EndpointGetAuthorFeed + "|atproto.com": {
			feedPage("", postItem("at://did:plc:b/app.bsky.feed.post/b1", testCreatedAt)),
		},
	}}

	d := &userDiscoverer{tr: tr, opts: testDiscoverOptions()}
	seed := Seed{ID: "team", Type: TypeUser, Actors: []string{"@bsky.app", "atproto.com"}, MaxPosts: 10}

	stubs, err := d.Discover(context.Background(), seed)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(stubs) != 2 {
		t.Fatalf("expected one stub per actor, got %d", len(stubs))
	}
	if !strings.HasSuffix(stubs[0].URI, "/a1") || !strings.HasSuffix(stubs[1].URI, "/b1") {
		t.Fatalf("stubs out of actor order: %v, %v", stubs[0].URI, stubs[1].URI)
	}

	if len(tr.reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(tr.reqs))
	}
	if tr.reqs[0].Params["actor"] != "bsky.app" || tr.reqs[1].Params["actor"] != "atproto.com" {
		t.Fatalf("actor params wrong: %v, %v", tr.reqs[0].Params, tr.reqs[1].Params)
	}
}

func TestTrendingDefaultsToWhatsHotFeed(t *testing.T) {
	tr := &listTransport{pages: map[string][]string{
		bsky.EndpointGetFeed + "|" + bsky.WhatsHotFeedURI: {
			feedPage("", postItem("at://did:plc:c/app.bsky.feed.post/hot1", testCreatedAt)),
		},
	}}

	reg := NewRegistry(tr, testDiscoverOptions())
	d, err := reg.DiscovererFor(Seed{ID: "hot", Type: TypeTrending})
	if err != nil {
		t.Fatalf("DiscovererFor: %v", err)
	}

	stubs, err := d.Discover(context.Background(), Seed{ID: "hot", Type: TypeTrending, MaxPosts: 10})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(stubs) != 1 {
		t.Fatalf("expected 1 stub, got %d", len(stubs))
	}
	if tr.reqs[0].Params["feed"] != bsky.WhatsHotFeedURI {
		t.Fatalf("feed param = %q", tr.reqs[0].Params["feed"])
	}
}

func TestFeedDiscoverExtractsATURIFromPastedText(t *testing.T) {
	feedURI := "at://did:plc:gen/app.bsky.feed.generator/cool-feed"
	tr := &listTransport{pages: map[string][]string{
		bsky.EndpointGetFeed + "|" + feedURI: {
			feedPage("", postItem("at://did:plc:c/app.bsky.feed.post/f1", testCreatedAt)),
		},
	}}

	d := &feedDiscoverer{tr: tr, opts: testDiscoverOptions(), typ: TypeFeed}
	seed := Seed{ID: "f", Type: TypeFeed, FeedURI: "check this one " + feedURI + "/ out", MaxPosts: 10}

	if _, err := d.Discover(context.Background(), seed); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if tr.reqs[0].Params["feed"] != feedURI {
		t.Fatalf("feed uri not extracted: %q", tr.reqs[0].Params["feed"])
	}
}

func TestDiscoverStopsAtMaxPosts(t *testing.T) {
	page := func(cursor string, n int) string {
		items := make([]string, n)
		for i := range items {
			items[i] = postItem(fmt.Sprintf("at://did:plc:a/app.bsky.feed.post/%s%d", cursor, i), testCreatedAt)
		}
		return searchPage(cursor, items...)
	}
	tr := &listTransport{pages: map[string][]string{
		bsky.EndpointSearchPosts + "|x": {page("1", 2), page("2", 2), page("3", 2)},
	}}

	d := &searchDiscoverer{tr: tr, opts: testDiscoverOptions()}
	stubs, err := d.Discover(context.Background(), Seed{ID: "s", Type: TypeSearch, Query: "x", MaxPosts: 3})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(stubs) != 3 {
		t.Fatalf("expected 3 stubs, got %d", len(stubs))
	}
	if len(tr.reqs) != 2 {
		t.Fatalf("expected 2 page fetches for 3 posts, got %d", len(tr.reqs))
	}
}

func TestDiscoverAppliesWindowFilter(t *testing.T) {
	tr := &listTransport{pages: map[string][]string{
		bsky.EndpointSearchPosts + "|x": {searchPage("",
			postItem("at://did:plc:a/app.bsky.feed.post/old", "2025-06-01T00:00:00Z"),
			postItem("at://did:plc:a/app.bsky.feed.post/in", "2026-01-15T00:00:00Z"),
			postItem("at://did:plc:a/app.bsky.feed.post/new", "2026-06-01T00:00:00Z"),
		)},
	}}

	seed, err := sanitizeSeed(Seed{ID: "s", Type: TypeSearch, Query: "x", Since: "2026-01-01", Until: "2026-02-01"})
	if err != nil {
		t.Fatalf("sanitizeSeed: %v", err)
	}

	d := &searchDiscoverer{tr: tr, opts: testDiscoverOptions()}
	stubs, err := d.Discover(context.Background(), seed)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(stubs) != 1 || !strings.HasSuffix(stubs[0].URI, "/in") {
		t.Fatalf("window filter wrong: %v", stubs)
	}
}

func TestDiscoverSkipsItemsWithoutURI(t *testing.T) {
	tr := &listTransport{pages: map[string][]string{
		bsky.EndpointSearchPosts + "|x": {searchPage("",
			`{"cid":"no-uri"}`,
			postItem("at://did:plc:a/app.bsky.feed.post/ok", testCreatedAt),
		)},
	}}

	d := &searchDiscoverer{tr: tr, opts: testDiscoverOptions()}
	stubs, err := d.Discover(context.Background(), Seed{ID: "s", Type: TypeSearch, Query: "x", MaxPosts: 10})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(stubs) != 1 || !strings.HasSuffix(stubs[0].URI, "/ok") {
		t.Fatalf("malformed item handling wrong: %v", stubs)
	}
}

func TestDiscovererForRejectsUnknownType(t *testing.T) {
	reg := NewRegistry(&listTransport{}, testDiscoverOptions())
	if _, err := reg.DiscovererFor(Seed{ID: "x", Type: "likes"}); err == nil {
		t.Fatalf("expected error for unknown seed type")
	}
}
