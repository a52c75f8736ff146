package orchestrator

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	api "github.com/panelforge/panelforge/api/v1alpha1"
)

var ErrJobNotFound = errors.New("job not found")

// Registry is the in-memory job table. It is the single ownership boundary
// for job state: every mutation goes through Update under the registry lock,
// and reads hand out deep copies only.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[uuid.UUID]*api.Job
	loops map[uuid.UUID]bool
}

func NewRegistry() *Registry {
	return &Registry{
		jobs:  make(map[uuid.UUID]*api.Job),
		loops: make(map[uuid.UUID]bool),
	}
}

// Put registers a job. The registry takes ownership of the value.
func (r *Registry) Put(job *api.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
}

// Restore seeds the registry with persisted jobs at startup. Jobs that were
// interrupted mid-run are demoted to paused so the user can resume them;
// there is no automatic re-execution across restarts.
func (r *Registry) Restore(jobs []*api.Job) {
	for _, job := range jobs {
		if job.State == api.JobStateRunning || job.State == api.JobStateQueued {
			job.State = api.JobStatePaused
		}
		r.Put(job)
	}
}

// Get returns a deep copy of the job.
func (r *Registry) Get(id uuid.UUID) (*api.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns deep copies of all registered jobs, newest first.
func (r *Registry) List() []*api.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*api.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Update applies fn to the job under the registry lock and bumps UpdatedAt.
// If fn returns an error the job is left as fn left it; fn must not mutate
// on error paths.
func (r *Registry) Update(id uuid.UUID, fn func(job *api.Job) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if err := fn(job); err != nil {
		return err
	}
	job.UpdatedAt = nowFunc()
	return nil
}

// Delete removes the job from the registry. A run loop still holding the job
// observes the removal at its next read and exits.
func (r *Registry) Delete(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(r.jobs, id)
	return nil
}

// State returns the job's current lifecycle state.
func (r *Registry) State(id uuid.UUID) (api.JobState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return "", ErrJobNotFound
	}
	return job.State, nil
}

// ClaimLoop marks the job's run loop as active. It returns false when a loop
// already owns the job, guaranteeing a single run loop per job even when a
// resume races with an in-flight loop.
func (r *Registry) ClaimLoop(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loops[id] {
		return false
	}
	if _, ok := r.jobs[id]; !ok {
		return false
	}
	r.loops[id] = true
	return true
}

// ReleaseLoop marks the job's run loop as finished.
func (r *Registry) ReleaseLoop(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.loops, id)
}
