package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"collabdoc/backend/internal/entity"
	"collabdoc/backend/internal/repo"
)

const DefaultTimeout = 30 * time.Minute

var (
	ErrDocumentNotFound = repo.ErrDocumentNotFound
	ErrLockHeld         = repo.ErrLockHeld
	// ErrNotPermitted is returned when someone other than the holder, the
	// owner or an admin tries to release a lock.
	ErrNotPermitted = errors.New("only the lock holder may unlock")
)

// Lock is the state handed back to a successful acquirer.
type Lock struct {
	DocumentID string
	HolderID   string
	AcquiredAt time.Time
}

// HeldError carries the current holder alongside ErrLockHeld.
type HeldError struct {
	HolderID string
}

func (e *HeldError) Error() string { return fmt.Sprintf("document is locked by %s", e.HolderID) }
func (e *HeldError) Unwrap() error { return ErrLockHeld }

// Manager owns the exclusive edit lock of documents and every durable write
// the lock guards.
type Manager struct {
	docs    repo.DocumentRepo
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

type Option func(*Manager)

func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(docs repo.DocumentRepo, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		docs:    docs,
		timeout: DefaultTimeout,
		now:     time.Now,
		logger:  logger.With().Str("component", "lock").Logger(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Sweep releases every lock older than the timeout.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	n, err := m.docs.ReleaseExpiredLocks(ctx, m.now().Add(-m.timeout))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info().Int64("released", n).Msg("released stale locks")
	}
	return n, nil
}

// StartSweeper runs Sweep every interval until ctx is done.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
					m.logger.Error().Err(err).Msg("lock sweep failed")
				}
			}
		}
	}()
}

// Authorize loads the document and checks that actor may perform action.
func (m *Manager) Authorize(ctx context.Context, docID string, actor Actor, action Action) (*entity.Document, error) {
	doc, err := m.docs.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	ok, err := Can(ctx, m.docs, doc, actor, action)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	return doc, nil
}

// Acquire takes or refreshes the lock for actor. A stale lock is reclaimed
// first, so it never blocks a new acquirer.
func (m *Manager) Acquire(ctx context.Context, docID string, actor Actor) (Lock, error) {
	if _, err := m.Sweep(ctx); err != nil {
		m.logger.Error().Err(err).Msg("lock sweep failed")
	}
	if _, err := m.Authorize(ctx, docID, actor, ActionEdit); err != nil {
		return Lock{}, err
	}

	now := m.now()
	doc, err := m.docs.AcquireLock(ctx, docID, actor.UserID, now)
	if errors.Is(err, repo.ErrLockHeld) {
		return Lock{}, m.heldError(ctx, docID)
	}
	if err != nil {
		return Lock{}, err
	}

	m.history(ctx, docID, actor, entity.ActionLock, doc.Version)
	l := Lock{DocumentID: docID, HolderID: actor.UserID, AcquiredAt: now}
	if doc.LockedAt != nil {
		l.AcquiredAt = *doc.LockedAt
	}
	return l, nil
}

// Release clears the lock. Releasing an unlocked document succeeds.
func (m *Manager) Release(ctx context.Context, docID string, actor Actor) error {
	if _, err := m.Sweep(ctx); err != nil {
		m.logger.Error().Err(err).Msg("lock sweep failed")
	}
	doc, err := m.docs.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrDocumentNotFound
	}
	held := doc.IsLocked && doc.LockedBy != nil && *doc.LockedBy != actor.UserID
	if held && !actor.IsAdmin() && doc.OwnerID != actor.UserID {
		return ErrNotPermitted
	}
	if doc.IsLocked || doc.LockedBy != nil {
		released, err := m.docs.ReleaseLock(ctx, docID, doc.LockedBy)
		if err != nil {
			return err
		}
		if !released {
			// the lock changed hands after it was read
			cur, err := m.docs.GetDocument(ctx, docID)
			if err != nil {
				return err
			}
			if cur != nil && cur.IsLocked && cur.LockedBy != nil {
				return &HeldError{HolderID: *cur.LockedBy}
			}
		}
	}
	m.history(ctx, docID, actor, entity.ActionUnlock, doc.Version)
	return nil
}

// SaveContent persists content unless another user holds the lock. It
// returns the new document version.
func (m *Manager) SaveContent(ctx context.Context, docID, content string, actor Actor) (int, error) {
	if _, err := m.Authorize(ctx, docID, actor, ActionEdit); err != nil {
		return 0, err
	}
	v, err := m.docs.SaveContent(ctx, docID, content, entity.DocumentEditHistory{
		UserID:   actor.UserID,
		UserName: actor.UserName,
	}, m.now())
	if errors.Is(err, repo.ErrLockHeld) {
		return 0, m.heldError(ctx, docID)
	}
	return v, err
}

// Content returns the durable document for a caller allowed to view it.
func (m *Manager) Content(ctx context.Context, docID string, actor Actor) (*entity.Document, error) {
	return m.Authorize(ctx, docID, actor, ActionView)
}

func (m *Manager) heldError(ctx context.Context, docID string) error {
	doc, err := m.docs.GetDocument(ctx, docID)
	if err != nil || doc == nil || doc.LockedBy == nil {
		return ErrLockHeld
	}
	return &HeldError{HolderID: *doc.LockedBy}
}

func (m *Manager) history(ctx context.Context, docID string, actor Actor, action string, version int) {
	err := m.docs.AppendHistory(ctx, &entity.DocumentEditHistory{
		DocumentID: docID,
		UserID:     actor.UserID,
		UserName:   actor.UserName,
		Action:     action,
		Version:    version,
		CreatedAt:  m.now(),
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("doc", docID).Str("action", action).Msg("history write failed")
	}
}
