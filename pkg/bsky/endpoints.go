package bsky

import "strings"

// XRPC endpoint NSIDs used by the harvester.
const (
	EndpointSearchPosts    = "app.bsky.feed.searchPosts"
	EndpointGetAuthorFeed  = "app.bsky.feed.getAuthorFeed"
	EndpointGetFeed        = "app.bsky.feed.getFeed"
	EndpointGetPostThread  = "app.bsky.feed.getPostThread"
	EndpointCreateSession  = "com.atproto.server.createSession"
	EndpointRefreshSession = "com.atproto.server.refreshSession"
)

// API hosts for the two transport variants.
const (
	PublicHost = "https://public.api.bsky.app"
	AuthHost   = "https://bsky.social"
)

// WhatsHotFeedURI is the stable feed generator behind the trending seed.
const WhatsHotFeedURI = "at://did:plc:z72i7hdynmk6r22z27h6tvur/app.bsky.feed.generator/whats-hot"

// PostWebURL derives the clickable bsky.app URL for a post from its author
// handle and at:// URI. Purely local; no network call involved.
func PostWebURL(handle, atURI string) string {
	handle = strings.TrimSpace(handle)
	rkey := recordKey(atURI)
	if handle == "" || rkey == "" {
		return ""
	}
	return "https://bsky.app/profile/" + handle + "/post/" + rkey
}

// recordKey returns the final path segment of an at:// URI.
func recordKey(atURI string) string {
	atURI = strings.TrimSpace(strings.TrimSuffix(atURI, "/"))
	if atURI == "" {
		return ""
	}
	idx := strings.LastIndex(atURI, "/")
	if idx < 0 || idx == len(atURI)-1 {
		return ""
	}
	return atURI[idx+1:]
}

// ExtractATURI finds the first at:// URI embedded in free-form text, such as a
// pasted feed link. Returns empty when none is present.
func ExtractATURI(text string) string {
	idx := strings.Index(text, "at://")
	if idx < 0 {
		return ""
	}
	uri := text[idx:]
	if cut := strings.IndexAny(uri, " \t\r\n"); cut >= 0 {
		uri = uri[:cut]
	}
	return strings.TrimSuffix(uri, "/")
}
