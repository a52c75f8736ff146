package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/panelforge/panelforge/api/v1alpha1"
	"github.com/panelforge/panelforge/internal/lint"
	"github.com/panelforge/panelforge/internal/orchestrator"
	"github.com/panelforge/panelforge/pkg/metrics"
)

// JobService is the control surface over the orchestrator and the job
// registry. All operations apply their state transition synchronously but
// never wait for the run loop to reach a new terminal state.
type JobService struct {
	registry *orchestrator.Registry
	orch     *orchestrator.Orchestrator
	flusher  *orchestrator.Flusher
	log      *zap.SugaredLogger
}

func NewJobService(registry *orchestrator.Registry, orch *orchestrator.Orchestrator, flusher *orchestrator.Flusher) *JobService {
	return &JobService{
		registry: registry,
		orch:     orch,
		flusher:  flusher,
		log:      zap.S().Named("job_service"),
	}
}

// Start creates a job with one pending slot per requested panel, persists it
// and kicks off the run loop without blocking the caller.
func (s *JobService) Start(ctx context.Context, input api.UserInput) (*api.Job, error) {
	count := input.PanelCount
	if count == 0 {
		count = len(input.Topics)
	}
	if count < 1 {
		return nil, NewErrInvalidInput("at least one panel must be requested")
	}
	if strings.TrimSpace(input.Description) == "" && strings.TrimSpace(input.BusinessName) == "" && len(input.Topics) == 0 {
		return nil, NewErrInvalidInput("a business description, name or explicit topics are required")
	}
	input.PanelCount = count

	now := time.Now()
	job := &api.Job{
		ID:          uuid.New(),
		State:       api.JobStateQueued,
		Progress:    0,
		CurrentStep: api.Step{Kind: api.StepKindProfiling, Description: "queued"},
		Panels:      make([]api.PanelResult, count),
		Input:       input.Clone(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i := range job.Panels {
		job.Panels[i] = api.PanelResult{Index: i, Status: api.PanelStatusPending}
	}

	s.registry.Put(job)
	s.flusher.Flush(job.ID)

	// snapshot the response before the run loop starts mutating the job
	resp := s.decorate(job.Clone())
	s.orch.Launch(job.ID)

	s.log.Infow("job started", "job_id", job.ID, "panels", count)
	return resp, nil
}

// GetStatus returns a deep copy of the job's current state.
func (s *JobService) GetStatus(ctx context.Context, id uuid.UUID) (*api.Job, error) {
	job, err := s.registry.Get(id)
	if err != nil {
		return nil, s.mapErr(id, err)
	}
	return s.decorate(job), nil
}

// List returns deep copies of all known jobs, newest first.
func (s *JobService) List(ctx context.Context) []*api.Job {
	jobs := s.registry.List()
	for _, job := range jobs {
		s.decorate(job)
	}
	return jobs
}

// Pause stops the run loop before its next panel. Valid only from running;
// a no-op in every other state.
func (s *JobService) Pause(ctx context.Context, id uuid.UUID) error {
	err := s.registry.Update(id, func(job *api.Job) error {
		if job.State != api.JobStateRunning {
			return nil
		}
		job.State = api.JobStatePaused
		return nil
	})
	if err != nil {
		return s.mapErr(id, err)
	}
	s.flusher.MarkDirty(id)
	s.log.Infow("job paused", "job_id", id)
	return nil
}

// Resume re-enters the running state and re-invokes the run loop, which
// picks up at the first unresolved slot. Valid only from paused; a no-op in
// every other state.
func (s *JobService) Resume(ctx context.Context, id uuid.UUID) error {
	resumed := false
	err := s.registry.Update(id, func(job *api.Job) error {
		if job.State != api.JobStatePaused {
			return nil
		}
		job.State = api.JobStateRunning
		resumed = true
		return nil
	})
	if err != nil {
		return s.mapErr(id, err)
	}
	if resumed {
		s.flusher.MarkDirty(id)
		s.orch.Launch(id)
		s.log.Infow("job resumed", "job_id", id)
	}
	return nil
}

// Cancel terminates the job from any non-terminal state. Cancellation is
// modeled as a job-level error with a distinguished code so consumers reuse
// one error-rendering path; the run loop observes it at its next state check.
func (s *JobService) Cancel(ctx context.Context, id uuid.UUID) error {
	err := s.registry.Update(id, func(job *api.Job) error {
		if job.State.IsTerminal() {
			return NewErrJobFinished(id)
		}
		job.State = api.JobStateError
		job.LastError = &api.JobError{
			Code:    api.ErrorCodeCancelled,
			Message: "cancelled by user",
			AtStep:  string(job.CurrentStep.Kind),
		}
		return nil
	})
	if err != nil {
		return s.mapErr(id, err)
	}
	metrics.IncreaseJobsFinishedMetric(string(api.JobStateError))
	s.flusher.Flush(id)
	s.log.Infow("job cancelled", "job_id", id)
	return nil
}

// Delete removes the job and its persisted row. Allowed from any state; a
// run loop still active for the job exits at its next state read.
func (s *JobService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.registry.Delete(id); err != nil {
		return s.mapErr(id, err)
	}
	s.flusher.Drop(id)
	s.log.Infow("job deleted", "job_id", id)
	return nil
}

// RerunLinter re-applies the lint evaluator to every slot currently holding
// a panel, regardless of staleness. Panel content is never changed.
func (s *JobService) RerunLinter(ctx context.Context, id uuid.UUID) error {
	err := s.registry.Update(id, func(job *api.Job) error {
		okPanels := []*api.Panel{}
		for i := range job.Panels {
			slot := &job.Panels[i]
			if slot.Panel == nil {
				continue
			}
			issues := lint.LintPanel(slot.Panel, job.Input.City, job.Input.Region)
			slot.Lint = lint.Result(slot.Panel, issues)
			slot.QualityScore = lint.Score(slot.Panel, issues)
			if slot.Status == api.PanelStatusOk {
				okPanels = append(okPanels, slot.Panel)
			}
		}
		if len(okPanels) > 0 {
			job.LintSummary = lint.LintKeywordDuplicates(okPanels)
		}
		return nil
	})
	if err != nil {
		return s.mapErr(id, err)
	}
	s.flusher.MarkDirty(id)
	s.log.Infow("linter rerun", "job_id", id)
	return nil
}

// RegeneratePanel resets the slot to pending so the run loop regenerates it.
// Locked slots are refused.
func (s *JobService) RegeneratePanel(ctx context.Context, id uuid.UUID, index int) error {
	return s.resetSlot(ctx, id, index, "")
}

// RegeneratePanelSegment resets the slot to pending and marks which
// sub-field is being replaced; the rest of the panel's accepted content is
// preserved when the regenerated panel comes back.
func (s *JobService) RegeneratePanelSegment(ctx context.Context, id uuid.UUID, index int, segment string) error {
	switch segment {
	case api.SegmentTitle, api.SegmentSummary, api.SegmentSections, api.SegmentFAQs, api.SegmentKeywords:
	default:
		return NewErrInvalidInput("unknown panel segment " + segment)
	}
	return s.resetSlot(ctx, id, index, segment)
}

func (s *JobService) resetSlot(ctx context.Context, id uuid.UUID, index int, segment string) error {
	relaunch := false
	err := s.registry.Update(id, func(job *api.Job) error {
		if job.State == api.JobStateError {
			return NewErrInvalidTransition(id, string(job.State), "regenerate a panel of")
		}
		if index < 0 || index >= len(job.Panels) {
			return NewErrPanelNotFound(id, index)
		}
		slot := &job.Panels[index]
		if slot.Locked {
			return NewErrPanelLocked(id, index)
		}
		slot.Status = api.PanelStatusPending
		slot.Error = ""
		slot.RegenerateSegment = segment
		if job.State == api.JobStateDone {
			// leave the terminal state so the run loop can claim the job again
			job.State = api.JobStateQueued
			relaunch = true
		}
		return nil
	})
	if err != nil {
		return s.mapErr(id, err)
	}
	s.flusher.MarkDirty(id)
	if relaunch {
		s.orch.Launch(id)
	}
	s.log.Infow("panel regeneration requested", "job_id", id, "panel", index, "segment", segment)
	return nil
}

// AddPanel appends a new pending slot for the given topic. Existing slots
// are never moved; the new slot gets the next stable index.
func (s *JobService) AddPanel(ctx context.Context, id uuid.UUID, topic string) error {
	relaunch := false
	err := s.registry.Update(id, func(job *api.Job) error {
		if job.State == api.JobStateError {
			return NewErrInvalidTransition(id, string(job.State), "add a panel to")
		}
		index := len(job.Panels)
		job.Panels = append(job.Panels, api.PanelResult{Index: index, Status: api.PanelStatusPending})
		for len(job.Input.Topics) < index {
			job.Input.Topics = append(job.Input.Topics, "")
		}
		job.Input.Topics = append(job.Input.Topics, topic)
		job.Input.PanelCount = len(job.Panels)
		if job.State == api.JobStateDone {
			job.State = api.JobStateQueued
			relaunch = true
		}
		return nil
	})
	if err != nil {
		return s.mapErr(id, err)
	}
	s.flusher.MarkDirty(id)
	if relaunch {
		s.orch.Launch(id)
	}
	s.log.Infow("panel added", "job_id", id, "topic", topic)
	return nil
}

// SetPanelLock toggles a slot's lock. A locked slot is never regenerated.
func (s *JobService) SetPanelLock(ctx context.Context, id uuid.UUID, index int, locked bool) error {
	err := s.registry.Update(id, func(job *api.Job) error {
		if index < 0 || index >= len(job.Panels) {
			return NewErrPanelNotFound(id, index)
		}
		job.Panels[index].Locked = locked
		return nil
	})
	if err != nil {
		return s.mapErr(id, err)
	}
	s.flusher.MarkDirty(id)
	return nil
}

// decorate fills the read-time derived fields of a job copy.
func (s *JobService) decorate(job *api.Job) *api.Job {
	for i := range job.Panels {
		slot := &job.Panels[i]
		slot.Stale = lint.IsStale(slot.Panel, slot.Lint)
	}
	return job
}

func (s *JobService) mapErr(id uuid.UUID, err error) error {
	if errors.Is(err, orchestrator.ErrJobNotFound) {
		return NewErrJobNotFound(id)
	}
	return err
}
