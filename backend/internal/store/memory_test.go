package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"collabdoc/backend/internal/entity"
	"collabdoc/backend/internal/repo"
)

func TestMemory_AcquireLockIsExclusive(t *testing.T) {
	m := NewMemory()
	m.PutDocument(entity.Document{ID: "d1", OwnerID: "1"})
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	doc, err := m.AcquireLock(ctx, "d1", "2", now)
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	if !doc.IsLocked || *doc.LockedBy != "2" {
		t.Fatalf("doc = %+v", doc)
	}
	if _, err := m.AcquireLock(ctx, "d1", "3", now); !errors.Is(err, repo.ErrLockHeld) {
		t.Fatalf("AcquireLock() by other = %v, want ErrLockHeld", err)
	}
	later := now.Add(time.Minute)
	doc, err = m.AcquireLock(ctx, "d1", "2", later)
	if err != nil || !doc.LockedAt.Equal(later) {
		t.Fatalf("re-acquire = %+v, %v; want refreshed lock", doc, err)
	}
	if _, err := m.AcquireLock(ctx, "missing", "2", now); !errors.Is(err, repo.ErrDocumentNotFound) {
		t.Fatalf("AcquireLock() missing = %v", err)
	}
}

func TestMemory_ReleaseExpiredLocks(t *testing.T) {
	m := NewMemory()
	m.PutDocument(entity.Document{ID: "old"})
	m.PutDocument(entity.Document{ID: "fresh"})
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	_, _ = m.AcquireLock(ctx, "old", "1", now.Add(-31*time.Minute))
	_, _ = m.AcquireLock(ctx, "fresh", "1", now.Add(-5*time.Minute))

	n, err := m.ReleaseExpiredLocks(ctx, now.Add(-30*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("ReleaseExpiredLocks() = %d, %v; want 1", n, err)
	}
	old, _ := m.GetDocument(ctx, "old")
	fresh, _ := m.GetDocument(ctx, "fresh")
	if old.IsLocked || old.LockedBy != nil || old.LockedAt != nil {
		t.Fatalf("old lock not cleared: %+v", old)
	}
	if !fresh.IsLocked {
		t.Fatalf("fresh lock was cleared")
	}
}

func TestMemory_SaveContentRespectsLock(t *testing.T) {
	m := NewMemory()
	m.PutDocument(entity.Document{ID: "d1", Content: "a"})
	ctx := context.Background()
	now := time.Now()

	v, err := m.SaveContent(ctx, "d1", "b", entity.DocumentEditHistory{UserID: "1", UserName: "alice"}, now)
	if err != nil || v != 2 {
		t.Fatalf("SaveContent() = %d, %v; want 2", v, err)
	}
	_, _ = m.AcquireLock(ctx, "d1", "2", now)
	if _, err := m.SaveContent(ctx, "d1", "c", entity.DocumentEditHistory{UserID: "1"}, now); !errors.Is(err, repo.ErrLockHeld) {
		t.Fatalf("SaveContent() under foreign lock = %v", err)
	}
	v, err = m.SaveContent(ctx, "d1", "c", entity.DocumentEditHistory{UserID: "2"}, now)
	if err != nil || v != 3 {
		t.Fatalf("SaveContent() by holder = %d, %v", v, err)
	}

	doc, _ := m.GetDocument(ctx, "d1")
	if doc.Content != "c" || doc.EditCount != 2 {
		t.Fatalf("doc = %+v", doc)
	}
	if h := m.History("d1"); len(h) != 2 || h[1].Version != 3 || h[1].Action != entity.ActionEdit {
		t.Fatalf("history = %+v", h)
	}
}

func TestMemory_UpsertHeartbeatKeepsOneRowPerUser(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	_ = m.UpsertHeartbeat(ctx, &entity.CollaborationSession{DocumentID: "d1", UserID: "1", UserName: "a", LastHeartbeat: t0})
	_ = m.UpsertHeartbeat(ctx, &entity.CollaborationSession{DocumentID: "d1", UserID: "1", UserName: "a2", LastHeartbeat: t0.Add(10 * time.Second)})
	_ = m.UpsertHeartbeat(ctx, &entity.CollaborationSession{DocumentID: "d1", UserID: "2", UserName: "b", LastHeartbeat: t0.Add(-time.Minute)})

	got, err := m.ListSince(ctx, "d1", t0)
	if err != nil {
		t.Fatalf("ListSince() error = %v", err)
	}
	if len(got) != 1 || got[0].UserName != "a2" {
		t.Fatalf("ListSince() = %+v", got)
	}
}

func TestMemory_SnapshotsAreIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_ = m.SaveDocumentSnapshot(ctx, "d1", 3, "three")
	_ = m.SaveDocumentSnapshot(ctx, "d1", 3, "dup")
	_ = m.SaveDocumentSnapshot(ctx, "d1", 7, "seven")

	s, err := m.LatestSnapshot(ctx, "d1")
	if err != nil || s.Revision != 7 || s.Content != "seven" {
		t.Fatalf("LatestSnapshot() = %+v, %v", s, err)
	}
	if s, _ := m.LatestSnapshot(ctx, "none"); s != nil {
		t.Fatalf("LatestSnapshot() on empty = %+v", s)
	}
}

func TestMemory_ReleaseLockChecksHolder(t *testing.T) {
	m := NewMemory()
	m.PutDocument(entity.Document{ID: "d1", OwnerID: "1"})
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if _, err := m.AcquireLock(ctx, "d1", "2", now); err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}

	stale := "3"
	if ok, err := m.ReleaseLock(ctx, "d1", &stale); ok || err != nil {
		t.Fatalf("ReleaseLock(other holder) = %v, %v; want no-op", ok, err)
	}
	if ok, _ := m.ReleaseLock(ctx, "d1", nil); ok {
		t.Fatalf("ReleaseLock(nil) cleared a held lock")
	}
	doc, _ := m.GetDocument(ctx, "d1")
	if !doc.IsLocked || *doc.LockedBy != "2" {
		t.Fatalf("doc = %+v, want still held by 2", doc)
	}

	holder := "2"
	if ok, err := m.ReleaseLock(ctx, "d1", &holder); !ok || err != nil {
		t.Fatalf("ReleaseLock(holder) = %v, %v", ok, err)
	}
	doc, _ = m.GetDocument(ctx, "d1")
	if doc.IsLocked || doc.LockedBy != nil {
		t.Fatalf("doc = %+v, want unlocked", doc)
	}
}
