package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJSONIndexLastWriteWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "meeting_database.json")
	idx := NewJSONIndex(path)
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	idx.now = func() time.Time { return clock }
	ctx := context.Background()

	url := "https://meet.google.com/abc-defg-hij"
	if err := idx.Index(ctx, url, map[string]string{"transcript": "s3://b/t1.json"}, map[string]any{"title": "Sync"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	clock = clock.Add(time.Hour)
	if err := idx.Index(ctx, url, map[string]string{"transcript": "s3://b/t2.json"}, nil); err != nil {
		t.Fatalf("Index: %v", err)
	}

	got, err := idx.Get(ctx, url)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ArtifactRefs["transcript"] != "s3://b/t2.json" {
		t.Fatalf("expected latest ref, got %v", got.ArtifactRefs)
	}
	if !got.AddedAt.Equal(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("added_at should keep first insert time, got %s", got.AddedAt)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{"created_at", "last_updated", "meetings"} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("missing %q in %s", key, raw)
		}
	}
}

func TestJSONIndexMissingEntry(t *testing.T) {
	idx := NewJSONIndex(filepath.Join(t.TempDir(), "db.json"))
	ctx := context.Background()

	if _, err := idx.Get(ctx, "https://zoom.us/j/1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	ok, err := idx.Exists(ctx, "https://zoom.us/j/1")
	if err != nil || ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	if err := idx.Index(ctx, "https://zoom.us/j/1", map[string]string{"speaking": "s3://b/s.json"}, nil); err != nil {
		t.Fatalf("Index: %v", err)
	}
	ok, err = idx.Exists(ctx, "https://zoom.us/j/1")
	if err != nil || !ok {
		t.Fatalf("Exists after index = %v, %v", ok, err)
	}
}
