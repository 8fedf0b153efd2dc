package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "feeds/alice/abc.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://feeds/alice/abc.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	stored, ok := store.Object("feeds/alice/abc.json")
	if !ok || string(stored) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	stored[0] = 'X'
	again, _ := store.Object("feeds/alice/abc.json")
	if string(again) != "content" {
		t.Fatalf("Object() must return a copy, got %q", again)
	}
}

func TestBlobStorePaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, path := range []string{"b", "a", "b"} {
		if _, err := store.PutObject(context.Background(), path, "", bytes.NewReader([]byte(path))); err != nil {
			t.Fatalf("PutObject() error = %v", err)
		}
	}
	paths := store.Paths()
	if len(paths) != 2 || paths[0] != "a" || paths[1] != "b" {
		t.Fatalf("unexpected paths %v", paths)
	}
	if _, ok := store.Object("missing"); ok {
		t.Fatal("expected missing object")
	}
}
