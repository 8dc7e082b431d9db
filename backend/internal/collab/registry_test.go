package collab

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestRegistry_ConcurrentGetOrCreateReturnsOneRoom(t *testing.T) {
	reg := NewRegistry(Options{Logger: zerolog.Nop()})

	const n = 64
	rooms := make([]*Room, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rooms[i] = reg.GetOrCreate(context.Background(), "doc-x")
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if rooms[i] != rooms[0] {
			t.Fatalf("GetOrCreate returned different rooms")
		}
	}
	if reg.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", reg.Len())
	}
	if v, content := rooms[0].Snapshot(); v != 1 || content != "" {
		t.Fatalf("new room = %d %q, want 1 \"\"", v, content)
	}
}

func TestRegistry_SeedsFromLatestSnapshot(t *testing.T) {
	snaps := newMemSnapshots()
	_ = snaps.SaveDocumentSnapshot(context.Background(), "doc-s", 5, "old")
	_ = snaps.SaveDocumentSnapshot(context.Background(), "doc-s", 9, "newest")

	reg := NewRegistry(Options{Snapshots: snaps, Logger: zerolog.Nop()})
	room := reg.GetOrCreate(context.Background(), "doc-s")
	v, content := room.Snapshot()
	if v != 9 || content != "newest" {
		t.Fatalf("seeded = %d %q, want 9 newest", v, content)
	}
}

func TestRegistry_SeedFailureStartsEmpty(t *testing.T) {
	snaps := newMemSnapshots()
	snaps.err = errors.New("db down")

	reg := NewRegistry(Options{Snapshots: snaps, Logger: zerolog.Nop()})
	room := reg.GetOrCreate(context.Background(), "doc-e")
	if v, content := room.Snapshot(); v != 1 || content != "" {
		t.Fatalf("room = %d %q, want empty v1", v, content)
	}
}

func TestRegistry_LookupDoesNotCreate(t *testing.T) {
	reg := NewRegistry(Options{Logger: zerolog.Nop()})
	if reg.Lookup("nope") != nil {
		t.Fatalf("Lookup() created a room")
	}
	if reg.Len() != 0 {
		t.Fatalf("Len() = %d", reg.Len())
	}
}
