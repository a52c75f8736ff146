package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/panelforge/panelforge/api/v1alpha1"
)

const saveTimeout = 10 * time.Second

// Persister is the external persistence hook. Saves are best effort; a
// failed save is logged and the in-memory state remains authoritative.
type Persister interface {
	Save(ctx context.Context, job *api.Job) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Flusher debounces persistence writes: marking a job dirty (re)arms a
// cancellable timer, and only the last state within the debounce window is
// written out. Terminal transitions bypass the window via Flush.
type Flusher struct {
	mu        sync.Mutex
	persister Persister
	registry  *Registry
	delay     time.Duration
	timers    map[uuid.UUID]*time.Timer
	closed    bool
}

func NewFlusher(persister Persister, registry *Registry, delay time.Duration) *Flusher {
	return &Flusher{
		persister: persister,
		registry:  registry,
		delay:     delay,
		timers:    make(map[uuid.UUID]*time.Timer),
	}
}

// MarkDirty schedules a save of the job after the debounce delay. Repeated
// calls within the window coalesce into a single write of the latest state.
func (f *Flusher) MarkDirty(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	if timer, ok := f.timers[id]; ok {
		timer.Reset(f.delay)
		return
	}
	f.timers[id] = time.AfterFunc(f.delay, func() {
		f.mu.Lock()
		delete(f.timers, id)
		f.mu.Unlock()
		f.save(id)
	})
}

// Flush cancels any pending timer for the job and saves it immediately.
func (f *Flusher) Flush(id uuid.UUID) {
	f.mu.Lock()
	if timer, ok := f.timers[id]; ok {
		timer.Stop()
		delete(f.timers, id)
	}
	f.mu.Unlock()
	f.save(id)
}

// Drop cancels any pending save for the job and removes its persisted row.
func (f *Flusher) Drop(id uuid.UUID) {
	f.mu.Lock()
	if timer, ok := f.timers[id]; ok {
		timer.Stop()
		delete(f.timers, id)
	}
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := f.persister.Delete(ctx, id); err != nil {
		zap.S().Named("flusher").Warnw("failed to delete persisted job", "job_id", id, "error", err)
	}
}

// Close flushes every pending job and stops accepting new marks.
func (f *Flusher) Close() {
	f.mu.Lock()
	f.closed = true
	pending := make([]uuid.UUID, 0, len(f.timers))
	for id, timer := range f.timers {
		timer.Stop()
		pending = append(pending, id)
	}
	f.timers = make(map[uuid.UUID]*time.Timer)
	f.mu.Unlock()

	for _, id := range pending {
		f.save(id)
	}
}

func (f *Flusher) save(id uuid.UUID) {
	job, err := f.registry.Get(id)
	if err != nil {
		// job evicted between mark and flush
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := f.persister.Save(ctx, job); err != nil {
		zap.S().Named("flusher").Warnw("failed to persist job", "job_id", id, "error", err)
	}
}
