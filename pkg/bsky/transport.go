package bsky

import (
	"context"
	"time"

	"github.com/nilakash-hq/nilakash-thread-harvester/pkg/httpclient"
	"golang.org/x/time/rate"
)

// AuthMode selects which transport variant a run uses. Chosen once per run,
// not per request.
type AuthMode string

const (
	ModeAnonymous     AuthMode = "anonymous"
	ModeAuthenticated AuthMode = "authenticated"
)

// Request describes one XRPC list or lookup call. The cursor, when present,
// is passed back to the server verbatim and never interpreted locally.
type Request struct {
	Endpoint string
	Params   map[string]string
	Cursor   string
}

// Transport sends one signed (or unsigned) request and returns the raw
// response body. Implementations handle identity headers and token refresh;
// retries belong to the paginator, not here.
type Transport interface {
	Send(ctx context.Context, req Request) ([]byte, error)
	Mode() AuthMode
}

// queryParams merges the request params and cursor into one query map.
func queryParams(req Request) map[string]string {
	params := make(map[string]string, len(req.Params)+1)
	for k, v := range req.Params {
		params[k] = v
	}
	if req.Cursor != "" {
		params["cursor"] = req.Cursor
	}
	return params
}

// AnonymousTransport calls the public API host with no identity header.
type AnonymousTransport struct {
	host    string
	client  httpclient.Client
	limiter *rate.Limiter
}

// NewAnonymousTransport builds the unauthenticated variant against the public
// API host. The limiter keeps polite spacing between requests across all
// callers sharing the transport.
func NewAnonymousTransport(client httpclient.Client, timeout time.Duration) *AnonymousTransport {
	if client == nil {
		client = httpclient.NewRestyClient(timeout)
	}
	return &AnonymousTransport{
		host:    PublicHost,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
}

// WithHost overrides the API host. Used by tests pointing at a local server.
func (t *AnonymousTransport) WithHost(host string) *AnonymousTransport {
	t.host = host
	return t
}

func (t *AnonymousTransport) Mode() AuthMode { return ModeAnonymous }

// Send performs one GET against the public host.
func (t *AnonymousTransport) Send(ctx context.Context, req Request) ([]byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, transientError(req.Endpoint, err)
	}

	resp, err := t.client.Get(ctx, t.host+"/xrpc/"+req.Endpoint, queryParams(req), nil)
	if err != nil {
		return nil, transientError(req.Endpoint, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, classifyStatus(req.Endpoint, resp.StatusCode(), resp.Body(), true)
	}
	return resp.Body(), nil
}
