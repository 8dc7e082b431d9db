package collab

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"collabdoc/backend/internal/ot/delta"
	"collabdoc/backend/internal/textop"
)

const (
	TypeInit = "init"
	TypeOp   = "op"

	DefaultOpsLogLimit = 500
)

// Peer is one bound connection. Enqueue must not block; returning false
// counts as a failed send and gets the peer dropped from the room.
type Peer interface {
	Enqueue(msg any) bool
	Close()
}

type Origin struct {
	UserID   string
	UserName string
}

// AppliedOp is both the ops log entry and the frame broadcast to every peer.
// Pos and Del are the transformed, clamped values that were actually applied.
type AppliedOp struct {
	Type     string `json:"type"`
	Version  int    `json:"version"`
	Pos      int    `json:"pos"`
	Del      int    `json:"del"`
	Ins      string `json:"ins"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

func (a AppliedOp) Op() textop.Op { return textop.Op{Pos: a.Pos, Del: a.Del, Ins: a.Ins} }

type InitMessage struct {
	Type    string `json:"type"`
	Version int    `json:"version"`
	Content string `json:"content"`
}

// Room is the live state of one document. All mutation happens under mu, and
// broadcast only enqueues, so "decide version, log, fan out" is one step.
type Room struct {
	docID string

	mu           sync.Mutex
	buf          Buffer
	version      int
	opsLog       []AppliedOp
	logLimit     int
	clients      map[Peer]struct{}
	checkpointed int

	hooks *roomHooks
	// outbox holds events in version order until publish hands them to the
	// sink; pubMu keeps concurrent publishers from reordering them.
	outbox []DocOpEvent
	pubMu  sync.Mutex

	logger zerolog.Logger
}

type roomHooks struct {
	events          EventSink
	snapshots       SnapshotStore
	checkpointEvery int
	sem             *SemaphoreControl
}

type snapshot struct {
	version int
	content string
}

func newRoom(docID, content string, version, logLimit int, hooks *roomHooks, logger zerolog.Logger) *Room {
	if version < 1 {
		version = 1
	}
	if logLimit <= 0 {
		logLimit = DefaultOpsLogLimit
	}
	return &Room{
		docID:        docID,
		buf:          NewPieceTable(content),
		version:      version,
		opsLog:       make([]AppliedOp, 0, logLimit),
		logLimit:     logLimit,
		clients:      make(map[Peer]struct{}),
		checkpointed: version,
		hooks:        hooks,
		logger:       logger.With().Str("doc", docID).Logger(),
	}
}

func (r *Room) DocID() string { return r.docID }

// Join binds p and hands it the current snapshot before any later broadcast
// can reach it. It reports false if the init frame could not be queued.
func (r *Room) Join(p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !p.Enqueue(InitMessage{Type: TypeInit, Version: r.version, Content: r.buf.String()}) {
		p.Close()
		return false
	}
	r.clients[p] = struct{}{}
	return true
}

func (r *Room) Leave(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, p)
}

// Submit re-bases op from baseVersion onto the current version, applies it,
// logs it and fans it out to every peer including the sender.
func (r *Room) Submit(op textop.Op, baseVersion int, origin Origin) AppliedOp {
	r.mu.Lock()

	pos := op.Pos
	if baseVersion < r.version {
		pos = textop.TransformPosition(pos, r.opsSinceLocked(baseVersion))
	}
	cpos, cdel := textop.Clamp(r.buf.Len(), pos, op.Del)
	if cpos != pos || cdel != op.Del {
		r.logger.Debug().Int("pos", pos).Int("del", op.Del).Int("clamped_pos", cpos).Int("clamped_del", cdel).Msg("op clamped")
	}
	if err := r.buf.Apply(delta.Splice(cpos, cdel, op.Ins)); err != nil {
		// clamped against the buffer length, so this means the buffer is corrupt
		r.logger.Error().Err(err).Int("pos", cpos).Int("del", cdel).Int("version", r.version).Msg("buffer rejected clamped op")
	}

	r.version++
	applied := AppliedOp{
		Type:     TypeOp,
		Version:  r.version,
		Pos:      cpos,
		Del:      cdel,
		Ins:      op.Ins,
		UserID:   origin.UserID,
		UserName: origin.UserName,
	}
	if len(r.opsLog) == r.logLimit {
		copy(r.opsLog[0:], r.opsLog[1:])
		r.opsLog = r.opsLog[:len(r.opsLog)-1]
	}
	r.opsLog = append(r.opsLog, applied)

	r.dropLocked(r.broadcastLocked(applied, nil))

	if r.hooks != nil && r.hooks.events != nil {
		r.outbox = append(r.outbox, r.eventFor(applied, baseVersion))
	}
	var snap *snapshot
	if r.hooks != nil && r.hooks.checkpointEvery > 0 && r.version%r.hooks.checkpointEvery == 0 {
		snap = &snapshot{version: r.version, content: r.buf.String()}
	}
	r.mu.Unlock()

	r.afterApply(snap)
	return applied
}

// Relay fans msg out to every peer except from.
func (r *Room) Relay(from Peer, msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(r.broadcastLocked(msg, from))
}

// broadcastLocked never mutates clients while ranging over it; failed peers
// are returned and dropped after the pass.
func (r *Room) broadcastLocked(msg any, except Peer) []Peer {
	var dead []Peer
	for p := range r.clients {
		if except != nil && p == except {
			continue
		}
		if !p.Enqueue(msg) {
			dead = append(dead, p)
		}
	}
	return dead
}

func (r *Room) dropLocked(dead []Peer) {
	for _, p := range dead {
		delete(r.clients, p)
		p.Close()
		r.logger.Debug().Msg("dropped peer after failed send")
	}
}

// opsSinceLocked returns the logged ops the client at baseVersion has not
// seen. If baseVersion predates the retained window, the whole window is used.
func (r *Room) opsSinceLocked(baseVersion int) []textop.Op {
	i := sort.Search(len(r.opsLog), func(i int) bool { return r.opsLog[i].Version > baseVersion })
	out := make([]textop.Op, 0, len(r.opsLog)-i)
	for _, a := range r.opsLog[i:] {
		out = append(out, a.Op())
	}
	return out
}

func (r *Room) Snapshot() (version int, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version, r.buf.String()
}

func (r *Room) Version() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// OpsLog returns a copy of the retained ops, oldest first.
func (r *Room) OpsLog() []AppliedOp {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AppliedOp, len(r.opsLog))
	copy(out, r.opsLog)
	return out
}

func (r *Room) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Checkpoint synchronously writes the current state if it changed since the
// last checkpoint.
func (r *Room) Checkpoint(ctx context.Context) error {
	if r.hooks == nil || r.hooks.snapshots == nil {
		return nil
	}
	r.mu.Lock()
	if r.version == r.checkpointed {
		r.mu.Unlock()
		return nil
	}
	version, content := r.version, r.buf.String()
	r.mu.Unlock()

	if err := r.hooks.snapshots.SaveDocumentSnapshot(ctx, r.docID, version, content); err != nil {
		return err
	}
	r.markCheckpointed(version)
	return nil
}

func (r *Room) markCheckpointed(version int) {
	r.mu.Lock()
	if version > r.checkpointed {
		r.checkpointed = version
	}
	r.mu.Unlock()
}

func (r *Room) eventFor(applied AppliedOp, baseVersion int) DocOpEvent {
	return DocOpEvent{
		EventType:    EventOpApplied,
		DocID:        r.docID,
		OperationID:  uuid.NewString(),
		Revision:     applied.Version,
		BaseRevision: baseVersion,
		AuthorID:     applied.UserID,
		AuthorName:   applied.UserName,
		Pos:          applied.Pos,
		Del:          applied.Del,
		Ins:          applied.Ins,
		Ops:          delta.Splice(applied.Pos, applied.Del, applied.Ins),
		AppliedAt:    time.Now().UTC(),
	}
}

func (r *Room) afterApply(snap *snapshot) {
	if r.hooks == nil {
		return
	}
	if r.hooks.events != nil {
		r.publish()
	}
	if snap != nil && r.hooks.snapshots != nil {
		go r.saveSnapshot(*snap)
	}
}

// publish drains the outbox into the event sink in revision order. Whoever
// holds pubMu sends everything queued so far, so a caller returns only after
// its own event was handed over.
func (r *Room) publish() {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.mu.Lock()
	pending := r.outbox
	r.outbox = nil
	r.mu.Unlock()

	for _, evt := range pending {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if err := r.hooks.events.Enqueue(ctx, evt); err != nil {
			r.logger.Warn().Err(err).Int("rev", evt.Revision).Msg("op event dropped")
		}
		cancel()
	}
}

func (r *Room) saveSnapshot(s snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if r.hooks.sem != nil {
		if err := r.hooks.sem.Acquire(ctx); err != nil {
			r.logger.Warn().Err(err).Int("rev", s.version).Msg("checkpoint skipped")
			return
		}
		defer r.hooks.sem.Release()
	}
	if err := r.hooks.snapshots.SaveDocumentSnapshot(ctx, r.docID, s.version, s.content); err != nil {
		r.logger.Error().Err(err).Int("rev", s.version).Msg("checkpoint failed")
		return
	}
	r.markCheckpointed(s.version)
}
