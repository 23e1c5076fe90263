package thread

import (
	"time"

	"github.com/nilakash-hq/nilakash-thread-harvester/internal/domain"
)

// Wire shapes for app.bsky.feed.getPostThread responses. Only the fields the
// assembler reads are declared.

type threadResponse struct {
	Thread threadView `json:"thread"`
	Cursor string     `json:"cursor"`
}

type threadView struct {
	Post     *postView    `json:"post"`
	Replies  []threadView `json:"replies"`
	NotFound bool         `json:"notFound"`
	Blocked  bool         `json:"blocked"`
}

type postView struct {
	URI         string     `json:"uri"`
	CID         string     `json:"cid"`
	Author      authorView `json:"author"`
	Record      recordView `json:"record"`
	LikeCount   int        `json:"likeCount"`
	ReplyCount  int        `json:"replyCount"`
	RepostCount int        `json:"repostCount"`
}

type authorView struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
}

type recordView struct {
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// toNode converts one thread view into a CommentNode at the given depth.
// Children are attached by the fetcher, not here.
func toNode(view threadView, depth int) domain.CommentNode {
	post := view.Post
	return domain.CommentNode{
		URI: post.URI,
		CID: post.CID,
		Author: domain.Author{
			DID:         post.Author.DID,
			Handle:      post.Author.Handle,
			DisplayName: post.Author.DisplayName,
		},
		Text:        post.Record.Text,
		CreatedAt:   post.Record.CreatedAt,
		Depth:       depth,
		LikeCount:   post.LikeCount,
		ReplyCount:  post.ReplyCount,
		RepostCount: post.RepostCount,
	}
}
