// Package presence tracks who is currently looking at a document. Heartbeats
// land in a durable session table and, best effort, in a Redis fast tier;
// listings merge both so either tier alone still answers.
package presence

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"collabdoc/backend/internal/cache"
	"collabdoc/backend/internal/entity"
	"collabdoc/backend/internal/repo"
)

const DefaultTTL = 20 * time.Second

type Heartbeat struct {
	DocumentID     string
	UserID         string
	UserName       string
	CursorPosition *int
	SelectionStart *int
	SelectionEnd   *int
}

type OnlineUser struct {
	UserID        string     `json:"user_id"`
	UserName      string     `json:"user_name"`
	IsOnline      bool       `json:"is_online"`
	LastHeartbeat *time.Time `json:"last_heartbeat"`
	cursorState
}

// cursorState is embedded in OnlineUser and is also the JSON stored under the
// fast tier's cursor key.
type cursorState struct {
	CursorPosition *int `json:"cursor_position,omitempty"`
	SelectionStart *int `json:"selection_start,omitempty"`
	SelectionEnd   *int `json:"selection_end,omitempty"`
}

type Tracker struct {
	sessions repo.SessionRepo
	fast     cache.PresenceCache // nil runs durable-only
	ttl      time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

func NewTracker(sessions repo.SessionRepo, fast cache.PresenceCache, ttl time.Duration, now func() time.Time, logger zerolog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		sessions: sessions,
		fast:     fast,
		ttl:      ttl,
		now:      now,
		logger:   logger.With().Str("component", "presence").Logger(),
	}
}

// Heartbeat records that hb.UserID is active on the document. Only a durable
// failure is returned; the fast tier may be down.
func (t *Tracker) Heartbeat(ctx context.Context, hb Heartbeat) error {
	now := t.now()
	if err := t.sessions.UpsertHeartbeat(ctx, &entity.CollaborationSession{
		DocumentID:     hb.DocumentID,
		UserID:         hb.UserID,
		UserName:       hb.UserName,
		CursorPosition: hb.CursorPosition,
		SelectionStart: hb.SelectionStart,
		SelectionEnd:   hb.SelectionEnd,
		LastHeartbeat:  now,
		UpdatedAt:      now,
	}); err != nil {
		return err
	}

	if t.fast == nil {
		return nil
	}
	if err := t.fast.Touch(ctx, hb.DocumentID, hb.UserID, hb.UserName, now, t.ttl); err != nil {
		t.logger.Warn().Err(err).Str("doc", hb.DocumentID).Msg("fast presence write failed")
		return nil
	}
	if hb.CursorPosition != nil || hb.SelectionStart != nil || hb.SelectionEnd != nil {
		b, _ := json.Marshal(cursorState{hb.CursorPosition, hb.SelectionStart, hb.SelectionEnd})
		if err := t.fast.SetCursor(ctx, hb.DocumentID, hb.UserID, b, t.ttl); err != nil {
			t.logger.Warn().Err(err).Str("doc", hb.DocumentID).Msg("fast cursor write failed")
		}
	}
	return nil
}

// ListOnline returns users seen within the TTL by either tier, online first
// then by name.
func (t *Tracker) ListOnline(ctx context.Context, docID string) ([]OnlineUser, error) {
	cutoff := t.now().Add(-t.ttl)

	fast := map[string]cache.PresenceMember{}
	if t.fast != nil {
		members, err := t.fast.Members(ctx, docID, cutoff)
		if err != nil {
			t.logger.Warn().Err(err).Str("doc", docID).Msg("fast presence read failed")
		}
		for _, m := range members {
			fast[m.UserID] = m
		}
	}

	sessions, err := t.sessions.ListSince(ctx, docID, cutoff)
	if err != nil {
		return nil, err
	}

	users := make([]OnlineUser, 0, len(sessions)+len(fast))
	seen := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		last := s.LastHeartbeat
		if m, ok := fast[s.UserID]; ok && m.LastSeen.After(last) {
			last = m.LastSeen
		}
		seen[s.UserID] = struct{}{}
		durable := cursorState{s.CursorPosition, s.SelectionStart, s.SelectionEnd}
		users = append(users, OnlineUser{
			UserID:        s.UserID,
			UserName:      s.UserName,
			IsOnline:      true,
			LastHeartbeat: &last,
			cursorState:   t.cursorOf(ctx, docID, s.UserID, durable),
		})
	}
	for id, m := range fast {
		if _, ok := seen[id]; ok {
			continue
		}
		name := m.Username
		if name == "" {
			name = id
		}
		last := m.LastSeen
		users = append(users, OnlineUser{
			UserID:        id,
			UserName:      name,
			IsOnline:      true,
			LastHeartbeat: &last,
			cursorState:   t.cursorOf(ctx, docID, id, cursorState{}),
		})
	}

	sort.Slice(users, func(i, j int) bool {
		if users[i].IsOnline != users[j].IsOnline {
			return users[i].IsOnline
		}
		if users[i].UserName != users[j].UserName {
			return users[i].UserName < users[j].UserName
		}
		return users[i].UserID < users[j].UserID
	})
	return users, nil
}

// cursorOf prefers the fast tier's cursor, which expires with the presence
// TTL, and falls back to what the session row last recorded.
func (t *Tracker) cursorOf(ctx context.Context, docID, userID string, fallback cursorState) cursorState {
	if t.fast == nil {
		return fallback
	}
	b, err := t.fast.GetCursor(ctx, docID, userID)
	if err != nil {
		t.logger.Debug().Err(err).Str("doc", docID).Str("user", userID).Msg("fast cursor read failed")
		return fallback
	}
	if b == nil {
		return fallback
	}
	var cs cursorState
	if err := json.Unmarshal(b, &cs); err != nil {
		return fallback
	}
	return cs
}
