package repo

import (
	"context"
	"errors"
	"time"

	"collabdoc/backend/internal/entity"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	// ErrLockHeld means another user holds the exclusive lock.
	ErrLockHeld           = errors.New("document is locked by another user")
	ErrCollaboratorExists = errors.New("user is already a collaborator")
)

// DocumentRepo is the durable side of documents, collaborators and locks.
// Lookups return nil, nil when the row does not exist.
type DocumentRepo interface {
	GetDocument(ctx context.Context, docID string) (*entity.Document, error)
	GetCollaborator(ctx context.Context, docID, userID string) (*entity.DocumentCollaborator, error)
	CreateDocument(ctx context.Context, doc *entity.Document) error
	// AddCollaborator returns ErrCollaboratorExists if the user is already one.
	AddCollaborator(ctx context.Context, c *entity.DocumentCollaborator) error

	// AcquireLock takes the lock iff the document is unlocked or already
	// held by userID. It returns the lock row on success and ErrLockHeld
	// when somebody else holds it.
	AcquireLock(ctx context.Context, docID, userID string, now time.Time) (*entity.Document, error)
	// ReleaseLock clears the lock only while locked_by still equals holder
	// (nil matches an empty holder) and reports whether it did.
	ReleaseLock(ctx context.Context, docID string, holder *string) (bool, error)
	// ReleaseExpiredLocks clears every lock taken before cutoff in one
	// statement and returns how many were cleared.
	ReleaseExpiredLocks(ctx context.Context, cutoff time.Time) (int64, error)

	// SaveContent replaces the content unless another user holds the lock,
	// bumps version and edit count, and records an edit history row.
	SaveContent(ctx context.Context, docID, content string, editor entity.DocumentEditHistory, now time.Time) (int, error)
	AppendHistory(ctx context.Context, h *entity.DocumentEditHistory) error
	// ListHistory returns the newest limit rows first.
	ListHistory(ctx context.Context, docID string, limit int) ([]entity.DocumentEditHistory, error)
}

type SessionRepo interface {
	// UpsertHeartbeat creates or refreshes the (document, user) session row.
	UpsertHeartbeat(ctx context.Context, s *entity.CollaborationSession) error
	ListSince(ctx context.Context, docID string, since time.Time) ([]entity.CollaborationSession, error)
}

type SnapshotRepo interface {
	SaveDocumentSnapshot(ctx context.Context, docID string, rev int, content string) error
	LatestSnapshot(ctx context.Context, docID string) (*entity.DocumentSnapshot, error)
}
