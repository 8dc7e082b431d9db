package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"collabdoc/backend/internal/entity"
	"collabdoc/backend/internal/repo"
)

// Memory implements every repo on in-process maps. It backs the server when
// no MySQL DSN is configured and the handler tests.
type Memory struct {
	mu            sync.Mutex
	docs          map[string]*entity.Document
	collaborators map[string]map[string]string
	history       []entity.DocumentEditHistory
	sessions      map[string]map[string]entity.CollaborationSession
	snapshots     map[string][]entity.DocumentSnapshot
}

var (
	_ repo.DocumentRepo = (*Memory)(nil)
	_ repo.SessionRepo  = (*Memory)(nil)
	_ repo.SnapshotRepo = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		docs:          make(map[string]*entity.Document),
		collaborators: make(map[string]map[string]string),
		sessions:      make(map[string]map[string]entity.CollaborationSession),
		snapshots:     make(map[string][]entity.DocumentSnapshot),
	}
}

// PutDocument inserts or replaces a document row.
func (m *Memory) PutDocument(doc entity.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.Version == 0 {
		doc.Version = 1
	}
	m.docs[doc.ID] = &doc
}

func (m *Memory) PutCollaborator(docID, userID, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collaborators[docID] == nil {
		m.collaborators[docID] = make(map[string]string)
	}
	m.collaborators[docID][userID] = role
}

func (m *Memory) History(docID string) []entity.DocumentEditHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.DocumentEditHistory
	for _, h := range m.history {
		if h.DocumentID == docID {
			out = append(out, h)
		}
	}
	return out
}

func (m *Memory) GetDocument(_ context.Context, docID string) (*entity.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[docID]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (m *Memory) GetCollaborator(_ context.Context, docID, userID string) (*entity.DocumentCollaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	role, ok := m.collaborators[docID][userID]
	if !ok {
		return nil, nil
	}
	return &entity.DocumentCollaborator{DocumentID: docID, UserID: userID, Role: role}, nil
}

func (m *Memory) CreateDocument(_ context.Context, doc *entity.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.Version == 0 {
		doc.Version = 1
	}
	cp := *doc
	m.docs[doc.ID] = &cp
	return nil
}

func (m *Memory) AddCollaborator(_ context.Context, c *entity.DocumentCollaborator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collaborators[c.DocumentID][c.UserID]; ok {
		return repo.ErrCollaboratorExists
	}
	if m.collaborators[c.DocumentID] == nil {
		m.collaborators[c.DocumentID] = make(map[string]string)
	}
	m.collaborators[c.DocumentID][c.UserID] = c.Role
	return nil
}

func (m *Memory) AcquireLock(_ context.Context, docID, userID string, now time.Time) (*entity.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[docID]
	if !ok {
		return nil, repo.ErrDocumentNotFound
	}
	if heldByOther(doc, userID) {
		return nil, repo.ErrLockHeld
	}
	holder, at := userID, now
	doc.IsLocked, doc.LockedBy, doc.LockedAt = true, &holder, &at
	cp := *doc
	return &cp, nil
}

func (m *Memory) ReleaseLock(_ context.Context, docID string, holder *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[docID]
	if !ok || !sameHolder(doc.LockedBy, holder) {
		return false, nil
	}
	doc.IsLocked, doc.LockedBy, doc.LockedAt = false, nil, nil
	return true, nil
}

func sameHolder(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (m *Memory) ReleaseExpiredLocks(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, doc := range m.docs {
		if doc.IsLocked && doc.LockedAt != nil && doc.LockedAt.Before(cutoff) {
			doc.IsLocked, doc.LockedBy, doc.LockedAt = false, nil, nil
			n++
		}
	}
	return n, nil
}

func (m *Memory) SaveContent(_ context.Context, docID, content string, editor entity.DocumentEditHistory, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[docID]
	if !ok {
		return 0, repo.ErrDocumentNotFound
	}
	if heldByOther(doc, editor.UserID) {
		return 0, repo.ErrLockHeld
	}
	editorID, at := editor.UserID, now
	doc.Content = content
	doc.Version++
	doc.EditCount++
	doc.LastEditedBy, doc.LastEditedAt = &editorID, &at

	h := editor
	h.ID = uuid.NewString()
	h.DocumentID = docID
	h.Action = entity.ActionEdit
	h.Version = doc.Version
	h.CreatedAt = now
	m.history = append(m.history, h)
	return doc.Version, nil
}

func (m *Memory) AppendHistory(_ context.Context, h *entity.DocumentEditHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	m.history = append(m.history, *h)
	return nil
}

func (m *Memory) ListHistory(_ context.Context, docID string, limit int) ([]entity.DocumentEditHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.DocumentEditHistory
	for i := len(m.history) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.history[i].DocumentID == docID {
			out = append(out, m.history[i])
		}
	}
	return out, nil
}

func (m *Memory) UpsertHeartbeat(_ context.Context, s *entity.CollaborationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser := m.sessions[s.DocumentID]
	if byUser == nil {
		byUser = make(map[string]entity.CollaborationSession)
		m.sessions[s.DocumentID] = byUser
	}
	row := *s
	if prev, ok := byUser[s.UserID]; ok {
		row.ID, row.CreatedAt = prev.ID, prev.CreatedAt
		if row.CursorPosition == nil {
			row.CursorPosition = prev.CursorPosition
		}
		if row.SelectionStart == nil {
			row.SelectionStart = prev.SelectionStart
		}
		if row.SelectionEnd == nil {
			row.SelectionEnd = prev.SelectionEnd
		}
	} else {
		row.ID = uint(len(byUser) + 1)
		row.CreatedAt = s.LastHeartbeat
	}
	row.UpdatedAt = s.LastHeartbeat
	byUser[s.UserID] = row
	return nil
}

func (m *Memory) ListSince(_ context.Context, docID string, since time.Time) ([]entity.CollaborationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.CollaborationSession
	for _, s := range m.sessions[docID] {
		if !s.LastHeartbeat.Before(since) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastHeartbeat.After(out[j].LastHeartbeat) })
	return out, nil
}

func (m *Memory) SaveDocumentSnapshot(_ context.Context, docID string, rev int, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.snapshots[docID] {
		if s.Revision == rev {
			return nil
		}
	}
	m.snapshots[docID] = append(m.snapshots[docID], entity.DocumentSnapshot{
		DocumentID: docID,
		Revision:   rev,
		Content:    content,
		CreatedAt:  time.Now(),
	})
	return nil
}

func (m *Memory) LatestSnapshot(_ context.Context, docID string) (*entity.DocumentSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *entity.DocumentSnapshot
	for i := range m.snapshots[docID] {
		s := m.snapshots[docID][i]
		if latest == nil || s.Revision > latest.Revision {
			latest = &s
		}
	}
	return latest, nil
}
