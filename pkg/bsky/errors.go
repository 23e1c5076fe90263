package bsky

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies API failures so callers can pick the right policy:
// retry, switch transport variant, or give up on the one post.
type Kind int

const (
	// KindTransient covers network failures and 5xx responses. Retried by the paginator.
	KindTransient Kind = iota
	// KindRateLimited maps HTTP 429. Retried with backoff up to a ceiling.
	KindRateLimited
	// KindAuthRequired maps authorization-class rejections (401/403) on the
	// anonymous variant. Never retried as-is; the caller may escalate to the
	// authenticated transport.
	KindAuthRequired
	// KindCursorRejected maps URI-too-long-class rejections (414) when an
	// accumulated cursor outgrows the anonymous endpoint's tolerance. Never
	// retried with the same cursor.
	KindCursorRejected
	// KindPostUnavailable marks a post that cannot be confirmed to exist
	// (deleted or blocked thread). Terminal for that one task.
	KindPostUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAuthRequired:
		return "auth_required"
	case KindCursorRejected:
		return "cursor_rejected"
	case KindPostUnavailable:
		return "post_unavailable"
	default:
		return "transient"
	}
}

// Error is a classified API failure.
type Error struct {
	Kind       Kind
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("bsky %s: %s (status %d): %s", e.Endpoint, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("bsky %s: %s: %s", e.Endpoint, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from an error chain. The second return is
// false when the error did not originate from the transport.
func KindOf(err error) (Kind, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return KindTransient, false
}

func isKind(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}

func IsTransient(err error) bool       { return isKind(err, KindTransient) }
func IsRateLimited(err error) bool     { return isKind(err, KindRateLimited) }
func IsAuthRequired(err error) bool    { return isKind(err, KindAuthRequired) }
func IsCursorRejected(err error) bool  { return isKind(err, KindCursorRejected) }
func IsPostUnavailable(err error) bool { return isKind(err, KindPostUnavailable) }

// Retryable reports whether the paginator may retry the same request.
func Retryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		// Plain network errors from the HTTP client count as transient.
		return true
	}
	return kind == KindTransient || kind == KindRateLimited
}

// xrpcErrorBody is the JSON error envelope XRPC endpoints return.
type xrpcErrorBody struct {
	ErrorName string `json:"error"`
	Message   string `json:"message"`
}

// classifyStatus turns a non-2xx response into a typed Error.
func classifyStatus(endpoint string, status int, body []byte, anonymous bool) error {
	var xerr xrpcErrorBody
	_ = json.Unmarshal(body, &xerr)
	msg := strings.TrimSpace(xerr.Message)
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if xerr.ErrorName != "" && !strings.Contains(msg, xerr.ErrorName) {
		msg = xerr.ErrorName + ": " + msg
	}

	kind := KindTransient
	switch {
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusRequestURITooLong:
		kind = KindCursorRejected
	case status == http.StatusNotFound:
		kind = KindPostUnavailable
	case (status == http.StatusUnauthorized || status == http.StatusForbidden) && anonymous:
		kind = KindAuthRequired
	case status >= 500:
		kind = KindTransient
	}

	// Some thread lookups come back 400 with a typed XRPC error instead of 404.
	if xerr.ErrorName == "NotFound" || xerr.ErrorName == "BlockedByActor" || xerr.ErrorName == "BlockedActor" {
		kind = KindPostUnavailable
	}

	return &Error{Kind: kind, Endpoint: endpoint, StatusCode: status, Message: msg}
}

// transientError wraps a client-level failure (DNS, timeout, connection reset).
func transientError(endpoint string, err error) error {
	return &Error{Kind: KindTransient, Endpoint: endpoint, Err: err}
}
