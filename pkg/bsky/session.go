package bsky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nilakash-hq/nilakash-thread-harvester/pkg/httpclient"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrAuthUnavailable signals that the credential source cannot produce a
// usable identifier/app-password pair. Fatal at startup for authenticated runs.
var ErrAuthUnavailable = errors.New("bsky: credentials unavailable")

// CredentialSource supplies the account identity used to open a session.
// Storage and renewal of the underlying secret live outside the transport.
type CredentialSource interface {
	Credentials(ctx context.Context) (identifier, appPassword string, err error)
}

// StaticCredentials is a CredentialSource over fixed values, typically loaded
// from the environment at startup.
type StaticCredentials struct {
	Identifier  string
	AppPassword string
}

func (s StaticCredentials) Credentials(context.Context) (string, string, error) {
	id := strings.TrimSpace(s.Identifier)
	pw := strings.TrimSpace(s.AppPassword)
	if id == "" || pw == "" {
		return "", "", ErrAuthUnavailable
	}
	return id, pw, nil
}

// sessionPayload is the response shape of createSession and refreshSession.
type sessionPayload struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	DID        string `json:"did"`
	Handle     string `json:"handle"`
}

// SessionTransport is the authenticated variant: it opens a session against
// the PDS host, attaches the access token to every call, and refreshes it
// transparently when the server reports expiry. Token state is shared
// read-mostly across workers; refresh is the only mutation and is guarded by
// a single-flight group so concurrent expiries trigger exactly one refresh.
type SessionTransport struct {
	host    string
	client  httpclient.Client
	creds   CredentialSource
	limiter *rate.Limiter

	mu         sync.RWMutex
	accessJwt  string
	refreshJwt string
	did        string

	refreshGroup singleflight.Group
}

// NewSessionTransport builds the authenticated variant. No network call is
// made until the first Send (or an explicit Connect).
func NewSessionTransport(client httpclient.Client, creds CredentialSource, timeout time.Duration) *SessionTransport {
	if client == nil {
		client = httpclient.NewRestyClient(timeout)
	}
	return &SessionTransport{
		host:    AuthHost,
		client:  client,
		creds:   creds,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
}

// WithHost overrides the PDS host. Used by tests pointing at a local server.
func (t *SessionTransport) WithHost(host string) *SessionTransport {
	t.host = host
	return t
}

func (t *SessionTransport) Mode() AuthMode { return ModeAuthenticated }

// DID returns the session account DID, empty before the first session.
func (t *SessionTransport) DID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.did
}

// Connect eagerly opens the session so credential problems surface at startup
// instead of inside the first worker.
func (t *SessionTransport) Connect(ctx context.Context) error {
	_, err := t.ensureToken(ctx)
	return err
}

// Send performs one GET with the session bearer token, refreshing the session
// once when the server reports an expired token.
func (t *SessionTransport) Send(ctx context.Context, req Request) ([]byte, error) {
	token, err := t.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	body, sendErr := t.send(ctx, req, token)
	if sendErr == nil {
		return body, nil
	}
	if !isExpiredToken(sendErr) {
		return nil, sendErr
	}

	token, err = t.refreshToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return t.send(ctx, req, token)
}

func (t *SessionTransport) send(ctx context.Context, req Request, token string) ([]byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, transientError(req.Endpoint, err)
	}

	headers := map[string]string{"Authorization": "Bearer " + token}
	resp, err := t.client.Get(ctx, t.host+"/xrpc/"+req.Endpoint, queryParams(req), headers)
	if err != nil {
		return nil, transientError(req.Endpoint, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, classifyStatus(req.Endpoint, resp.StatusCode(), resp.Body(), false)
	}
	return resp.Body(), nil
}

// ensureToken returns the current access token, opening a session when none
// exists yet.
func (t *SessionTransport) ensureToken(ctx context.Context) (string, error) {
	t.mu.RLock()
	token := t.accessJwt
	t.mu.RUnlock()
	if token != "" {
		return token, nil
	}
	return t.refreshToken(ctx, "")
}

// refreshToken replaces the session whose access token is staleToken. When a
// concurrent caller already replaced it, the fresh token is returned without
// another round-trip. All concurrent callers share one in-flight refresh.
func (t *SessionTransport) refreshToken(ctx context.Context, staleToken string) (string, error) {
	v, err, _ := t.refreshGroup.Do("refresh", func() (any, error) {
		t.mu.RLock()
		current := t.accessJwt
		refresh := t.refreshJwt
		t.mu.RUnlock()

		if current != "" && current != staleToken {
			return current, nil
		}

		var payload *sessionPayload
		var refreshErr error
		if refresh != "" {
			payload, refreshErr = t.refreshSession(ctx, refresh)
			if refreshErr != nil {
				// A transport-level failure is retryable by the caller; only
				// an outright rejection of the refresh token (nil payload,
				// nil error) falls through to a fresh login.
				return "", refreshErr
			}
		}
		if payload == nil {
			payload, refreshErr = t.createSession(ctx)
		}
		if refreshErr != nil {
			return "", refreshErr
		}

		t.mu.Lock()
		t.accessJwt = payload.AccessJwt
		t.refreshJwt = payload.RefreshJwt
		t.did = payload.DID
		t.mu.Unlock()

		return payload.AccessJwt, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// createSession opens a fresh session from the credential source.
func (t *SessionTransport) createSession(ctx context.Context) (*sessionPayload, error) {
	identifier, password, err := t.creds.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]string{"identifier": identifier, "password": password}
	resp, err := t.client.PostJSON(ctx, t.host+"/xrpc/"+EndpointCreateSession, body, nil)
	if err != nil {
		return nil, transientError(EndpointCreateSession, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, classifyStatus(EndpointCreateSession, resp.StatusCode(), resp.Body(), false)
	}
	return decodeSessionPayload(EndpointCreateSession, resp.Body())
}

// refreshSession exchanges the refresh token for a new access token. A nil
// payload with nil error means the refresh token was rejected and the caller
// should fall back to createSession.
func (t *SessionTransport) refreshSession(ctx context.Context, refreshJwt string) (*sessionPayload, error) {
	headers := map[string]string{"Authorization": "Bearer " + refreshJwt}
	resp, err := t.client.PostJSON(ctx, t.host+"/xrpc/"+EndpointRefreshSession, nil, headers)
	if err != nil {
		return nil, transientError(EndpointRefreshSession, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, nil
	}
	return decodeSessionPayload(EndpointRefreshSession, resp.Body())
}

func decodeSessionPayload(endpoint string, body []byte) (*sessionPayload, error) {
	var payload sessionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &Error{Kind: KindTransient, Endpoint: endpoint, Err: fmt.Errorf("decode session: %w", err)}
	}
	if payload.AccessJwt == "" {
		return nil, &Error{Kind: KindTransient, Endpoint: endpoint, Message: "session response missing accessJwt"}
	}
	return &payload, nil
}

// isExpiredToken reports whether the failure is the server telling us the
// access token aged out, as opposed to any other auth-class rejection.
func isExpiredToken(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusUnauthorized {
		return true
	}
	return apiErr.StatusCode == http.StatusBadRequest && strings.Contains(apiErr.Message, "ExpiredToken")
}
