package sinks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPSinkPostsEvent(t *testing.T) {
	var gotMethod, gotContentType, gotToken string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotToken = r.Header.Get("X-Token")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sink, err := newHTTPSink(context.Background(), SinkConfig{
		ID:   "webhook",
		Type: TypeHTTP,
		HTTP: &HTTPSinkConfig{
			URL:            server.URL,
			Method:         "POST",
			Headers:        map[string]string{"X-Token": "secret"},
			TimeoutSeconds: 2,
		},
	}, nil)
	if err != nil {
		t.Fatalf("newHTTPSink: %v", err)
	}

	if err := sink.Write(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Fatalf("method = %q", gotMethod)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type = %q", gotContentType)
	}
	if gotToken != "secret" {
		t.Fatalf("custom header lost: %q", gotToken)
	}

	var evt RecordEvent
	if err := json.Unmarshal(gotBody, &evt); err != nil {
		t.Fatalf("body not valid JSON: %v", err)
	}
	if evt.RunID != "run-1" || evt.SeedID != "seed-1" {
		t.Fatalf("event fields lost: %+v", evt)
	}
}

func TestHTTPSinkReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	sink, err := newHTTPSink(context.Background(), SinkConfig{
		ID:   "webhook",
		Type: TypeHTTP,
		HTTP: &HTTPSinkConfig{URL: server.URL, Method: "POST", TimeoutSeconds: 2},
	}, nil)
	if err != nil {
		t.Fatalf("newHTTPSink: %v", err)
	}

	if err := sink.Write(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected error for 5xx response")
	}
}
