package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"collabdoc/backend/internal/entity"
)

type SnapshotStore interface {
	SaveDocumentSnapshot(ctx context.Context, docID string, rev int, content string) error
	// LatestSnapshot returns nil, nil when the document has none.
	LatestSnapshot(ctx context.Context, docID string) (*entity.DocumentSnapshot, error)
}

type EventSink interface {
	Enqueue(ctx context.Context, evt DocOpEvent) error
}

type Options struct {
	OpsLogLimit     int
	CheckpointEvery int
	Snapshots       SnapshotStore
	Events          EventSink
	Semaphore       *SemaphoreControl
	Logger          zerolog.Logger
}

// Registry maps document ids to live rooms. Rooms are created lazily and
// kept for the life of the process.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	sf    singleflight.Group
	opt   Options
	hooks *roomHooks
}

func NewRegistry(opt Options) *Registry {
	if opt.OpsLogLimit <= 0 {
		opt.OpsLogLimit = DefaultOpsLogLimit
	}
	r := &Registry{
		rooms: make(map[string]*Room),
		opt:   opt,
	}
	if opt.Events != nil || opt.Snapshots != nil {
		r.hooks = &roomHooks{
			events:          opt.Events,
			snapshots:       opt.Snapshots,
			checkpointEvery: opt.CheckpointEvery,
			sem:             opt.Semaphore,
		}
	}
	return r
}

// GetOrCreate returns the one room for docID. Concurrent first callers share
// a single creation, and a room found in the map is never replaced.
func (r *Registry) GetOrCreate(ctx context.Context, docID string) *Room {
	if room := r.Lookup(docID); room != nil {
		return room
	}
	v, _, _ := r.sf.Do(docID, func() (any, error) {
		if room := r.Lookup(docID); room != nil {
			return room, nil
		}
		content, version := r.seed(ctx, docID)
		room := newRoom(docID, content, version, r.opt.OpsLogLimit, r.hooks, r.opt.Logger)

		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.rooms[docID]; ok {
			return existing, nil
		}
		r.rooms[docID] = room
		return room, nil
	})
	return v.(*Room)
}

// seed loads the latest checkpoint. Any failure starts the room empty at
// version 1 so a database outage never blocks editing.
func (r *Registry) seed(ctx context.Context, docID string) (string, int) {
	if r.opt.Snapshots == nil {
		return "", 1
	}
	// creation is shared by every waiter; one caller leaving must not abort it
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	snap, err := r.opt.Snapshots.LatestSnapshot(ctx, docID)
	if err != nil {
		r.opt.Logger.Warn().Err(err).Str("doc", docID).Msg("load snapshot failed, starting empty")
		return "", 1
	}
	if snap == nil {
		return "", 1
	}
	return snap.Content, snap.Revision
}

func (r *Registry) Lookup(docID string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[docID]
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// CheckpointAll writes every room that changed since its last checkpoint.
func (r *Registry) CheckpointAll(ctx context.Context) error {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	var errs []error
	for _, room := range rooms {
		if err := room.Checkpoint(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
