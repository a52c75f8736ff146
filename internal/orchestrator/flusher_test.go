package orchestrator_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "github.com/panelforge/panelforge/api/v1alpha1"
	"github.com/panelforge/panelforge/internal/orchestrator"
)

func TestFlusherCoalescesRapidMarks(t *testing.T) {
	registry := orchestrator.NewRegistry()
	persister := newMemPersister()
	flusher := orchestrator.NewFlusher(persister, registry, 20*time.Millisecond)
	defer flusher.Close()

	job := newTestJob(testInput(1))
	registry.Put(job)

	for i := 0; i < 10; i++ {
		flusher.MarkDirty(job.ID)
		time.Sleep(time.Millisecond)
	}

	assert.Equal(t, 0, persister.saveCount(), "nothing is written inside the window")

	assert.Eventually(t, func() bool {
		return persister.saveCount() == 1
	}, time.Second, 5*time.Millisecond, "the burst collapses into one write")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, persister.saveCount())
}

func TestFlusherWritesLatestState(t *testing.T) {
	registry := orchestrator.NewRegistry()
	persister := newMemPersister()
	flusher := orchestrator.NewFlusher(persister, registry, 10*time.Millisecond)
	defer flusher.Close()

	job := newTestJob(testInput(1))
	registry.Put(job)

	flusher.MarkDirty(job.ID)
	require.NoError(t, registry.Update(job.ID, func(j *api.Job) error {
		j.State = api.JobStateRunning
		return nil
	}))
	flusher.MarkDirty(job.ID)

	assert.Eventually(t, func() bool {
		return persister.saveCount() == 1
	}, time.Second, 5*time.Millisecond)

	persister.mu.Lock()
	saved := persister.jobs[job.ID]
	persister.mu.Unlock()
	require.NotNil(t, saved)
	assert.Equal(t, api.JobStateRunning, saved.State)
}

func TestFlusherFlushBypassesWindow(t *testing.T) {
	registry := orchestrator.NewRegistry()
	persister := newMemPersister()
	flusher := orchestrator.NewFlusher(persister, registry, time.Hour)
	defer flusher.Close()

	job := newTestJob(testInput(1))
	registry.Put(job)

	flusher.MarkDirty(job.ID)
	flusher.Flush(job.ID)
	assert.Equal(t, 1, persister.saveCount())

	// the pending timer was cancelled, not left to fire a second write
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, persister.saveCount())
}

func TestFlusherCloseFlushesPending(t *testing.T) {
	registry := orchestrator.NewRegistry()
	persister := newMemPersister()
	flusher := orchestrator.NewFlusher(persister, registry, time.Hour)

	first := newTestJob(testInput(1))
	second := newTestJob(testInput(2))
	registry.Put(first)
	registry.Put(second)

	flusher.MarkDirty(first.ID)
	flusher.MarkDirty(second.ID)
	flusher.Close()

	assert.Equal(t, 2, persister.saveCount())

	flusher.MarkDirty(first.ID)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 2, persister.saveCount(), "marks after close are dropped")
}

func TestFlusherDropRemovesRowAndPendingTimer(t *testing.T) {
	registry := orchestrator.NewRegistry()
	persister := newMemPersister()
	flusher := orchestrator.NewFlusher(persister, registry, time.Hour)
	defer flusher.Close()

	job := newTestJob(testInput(1))
	registry.Put(job)
	flusher.Flush(job.ID)
	require.NotNil(t, persister.jobs[job.ID])

	flusher.MarkDirty(job.ID)
	flusher.Drop(job.ID)

	persister.mu.Lock()
	_, ok := persister.jobs[job.ID]
	persister.mu.Unlock()
	assert.False(t, ok)
}

func TestFlusherIgnoresEvictedJobs(t *testing.T) {
	registry := orchestrator.NewRegistry()
	persister := newMemPersister()
	flusher := orchestrator.NewFlusher(persister, registry, time.Hour)
	defer flusher.Close()

	flusher.Flush(uuid.New())
	assert.Equal(t, 0, persister.saveCount())
}

var _ orchestrator.Persister = (*memPersister)(nil)
