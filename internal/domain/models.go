package domain

import "time"

// Domain contains the core models shared by the fetch/assemble engine.

// Author identifies the account behind a post or comment.
type Author struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
}

// PostStub is the minimal reference to a post as produced by seed discovery.
// Immutable once emitted by a seed provider.
type PostStub struct {
	URI       string    `json:"uri"`
	CID       string    `json:"cid,omitempty"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	Raw       []byte    `json:"raw,omitempty"`
}

// CommentNode is one comment in a post's reply tree. Root nodes have depth 0,
// children of a node at depth d have depth d+1.
type CommentNode struct {
	URI         string        `json:"uri"`
	CID         string        `json:"cid,omitempty"`
	Author      Author        `json:"author"`
	Text        string        `json:"text"`
	CreatedAt   time.Time     `json:"created_at,omitempty"`
	Depth       int           `json:"depth"`
	LikeCount   int           `json:"like_count,omitempty"`
	ReplyCount  int           `json:"reply_count,omitempty"`
	RepostCount int           `json:"repost_count,omitempty"`
	Children    []CommentNode `json:"children,omitempty"`
	Truncated   bool          `json:"truncated,omitempty"`
}

// FetchMeta summarizes what the comment-tree fetch collected for one post.
type FetchMeta struct {
	TopLevelCount int       `json:"top_level_count"`
	TotalNodes    int       `json:"total_nodes"`
	Truncated     bool      `json:"truncated"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// PostRecord is the assembled output for one post: the stub it was discovered
// as, a clickable web URL, and the bounded comment tree. The engine never
// mutates a PostRecord after the fetcher emits it.
type PostRecord struct {
	Stub     PostStub      `json:"post"`
	PostURL  string        `json:"post_url"`
	Comments []CommentNode `json:"comments"`
	Meta     FetchMeta     `json:"meta"`
}

// TaskResult pairs one input stub with its fetch outcome. Exactly one
// TaskResult is produced per submitted stub, whether the fetch succeeded
// or failed.
type TaskResult struct {
	Stub   PostStub
	Record *PostRecord
	Err    error
}
