package storage

import (
	"testing"
	"time"
)

func TestBoltStoreMarksAndExpiresPosts(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		PostTTL:         1 * time.Second,
		CleanupInterval: 1 * time.Second,
	}

	storeRaw, err := openBolt(dir+"/seen.db", opts)
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}
	store := storeRaw.(*boltStore)
	defer store.Close()

	uri := "at://did:plc:op/app.bsky.feed.post/r1"

	seen, err := store.SeenPost(uri)
	if err != nil || seen {
		t.Fatalf("expected unseen post, seen=%v err=%v", seen, err)
	}

	if err := store.MarkPost(uri); err != nil {
		t.Fatalf("MarkPost: %v", err)
	}

	seen, err = store.SeenPost(uri)
	if err != nil || !seen {
		t.Fatalf("expected post marked as seen, got seen=%v err=%v", seen, err)
	}

	// Fast-forward cleanup cadence and trigger expiry.
	store.lastCleanup.Store(time.Now().Add(-2 * time.Second).Unix())
	time.Sleep(1100 * time.Millisecond)

	seen, err = store.SeenPost(uri)
	if err != nil {
		t.Fatalf("SeenPost after expiry: %v", err)
	}
	if seen {
		t.Fatalf("expected entry to expire and be removed")
	}
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/seen.db"
	opts := Options{PostTTL: time.Hour, CleanupInterval: time.Hour}

	store, err := openBolt(path, opts)
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}
	if err := store.MarkPost("at://did:plc:a/app.bsky.feed.post/1"); err != nil {
		t.Fatalf("MarkPost: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store, err = openBolt(path, opts)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	seen, err := store.SeenPost("at://did:plc:a/app.bsky.feed.post/1")
	if err != nil || !seen {
		t.Fatalf("expected mark to persist across reopen, seen=%v err=%v", seen, err)
	}
}

func TestNewStoreSupportsNoop(t *testing.T) {
	store, err := NewStore("none", "", Options{})
	if err != nil {
		t.Fatalf("NewStore none: %v", err)
	}
	if err := store.MarkPost("x"); err != nil {
		t.Fatalf("noop store MarkPost: %v", err)
	}
	seen, err := store.SeenPost("x")
	if err != nil || seen {
		t.Fatalf("noop store must never report seen, got seen=%v err=%v", seen, err)
	}
}

func TestNewStoreRejectsUnknownType(t *testing.T) {
	if _, err := NewStore("redis", "", Options{}); err == nil {
		t.Fatalf("expected error for unsupported storage type")
	}
}

func TestNewStoreRequiresPathForBolt(t *testing.T) {
	if _, err := NewStore("bbolt", "  ", Options{}); err == nil {
		t.Fatalf("expected error for missing bbolt path")
	}
}
