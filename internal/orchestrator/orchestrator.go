// Package orchestrator drives the multi-step generation pipeline of a job:
// it owns the job state machine, applies the retry policy around the
// generation backend, runs the lint evaluator over finished panels and keeps
// progress and persistence up to date. A job has at most one run loop at any
// time; control actions communicate with it by flipping the job state, which
// the loop re-reads before each panel slot.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/panelforge/panelforge/api/v1alpha1"
	"github.com/panelforge/panelforge/internal/generator"
	"github.com/panelforge/panelforge/internal/lint"
	"github.com/panelforge/panelforge/pkg/metrics"
)

// Progress checkpoints. The 15-95% band is allocated linearly across panels.
const (
	progressProfiling  = 10
	progressDesignInit = 15
	progressPanelBand  = 80
	progressDone       = 100
)

// DefaultDesignPreset is installed when the user did not ask to keep an
// existing design.
const DefaultDesignPreset = "classic"

const fatalErrorCode = "INTERNAL"

const claimRetryInterval = 5 * time.Millisecond

var nowFunc = time.Now

var errJobFinished = errors.New("job already finished")

// Config holds the retry policy knobs of the run loop.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// Orchestrator advances jobs through the generation pipeline.
type Orchestrator struct {
	registry *Registry
	gen      generator.Generator
	flusher  *Flusher
	cfg      Config
	log      *zap.SugaredLogger
}

func New(registry *Registry, gen generator.Generator, flusher *Flusher, cfg Config) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		gen:      gen,
		flusher:  flusher,
		cfg:      cfg,
		log:      zap.S().Named("orchestrator"),
	}
}

// Launch starts the run loop for the job in its own goroutine. The loop is
// detached from the caller's request context; cancellation happens
// cooperatively through the job state.
func (o *Orchestrator) Launch(id uuid.UUID) {
	go o.Run(context.Background(), id)
}

// Run executes the pipeline for the job. It is idempotent on finished jobs
// and safe to re-invoke after a resume: slots already resolved are skipped.
// When the job leaves the running state underneath the loop (pause, cancel),
// the loop exits silently; the control action owns reporting that transition.
func (o *Orchestrator) Run(ctx context.Context, jobID uuid.UUID) {
	// A resume can relaunch while the previous loop is between yielding and
	// releasing its claim. Keep trying while the job still wants a loop;
	// giving up here would strand a running job with no loop driving it.
	for !o.registry.ClaimLoop(jobID) {
		state, err := o.registry.State(jobID)
		if err != nil || state != api.JobStateRunning {
			o.log.Debugw("run loop already active", "job_id", jobID)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(claimRetryInterval):
		}
	}
	defer o.registry.ReleaseLoop(jobID)

	step := string(api.StepKindProfiling)
	defer func() {
		if r := recover(); r != nil {
			o.fail(jobID, step, fmt.Errorf("panic: %v", r))
		}
	}()

	// Claim the job. Finished jobs stay untouched, and a paused job is never
	// resurrected here: only a resume moves paused back to running.
	err := o.registry.Update(jobID, func(job *api.Job) error {
		if job.State != api.JobStateQueued && job.State != api.JobStateRunning {
			return errJobFinished
		}
		job.State = api.JobStateRunning
		return nil
	})
	if err != nil {
		return
	}

	snap, err := o.registry.Get(jobID)
	if err != nil {
		return
	}

	// Step "profiling": derive the shared topic from the user input.
	o.setStep(jobID, api.Step{Kind: api.StepKindProfiling, Description: "deriving shared topic"}, progressProfiling)
	sharedTopic, err := deriveTopic(snap.Input)
	if err != nil {
		o.fail(jobID, step, err)
		return
	}

	// Step "design-init": keep the prior design tokens or install the default.
	step = string(api.StepKindDesignInit)
	preset := choosePreset(snap.Input)
	err = o.registry.Update(jobID, func(job *api.Job) error {
		job.DesignPreset = preset
		job.CurrentStep = api.Step{Kind: api.StepKindDesignInit, Description: "preparing design preset " + preset}
		advance(job, progressDesignInit)
		return nil
	})
	if err != nil {
		return
	}
	o.flusher.MarkDirty(jobID)

	step = string(api.StepKindPanel)
	if done := o.runPanels(ctx, jobID, sharedTopic); !done {
		return
	}

	step = string(api.StepKindFinalizing)
	if err := o.finalize(jobID); err != nil {
		if !errors.Is(err, errJobFinished) && !errors.Is(err, ErrJobNotFound) {
			o.fail(jobID, step, err)
		}
	}
}

// runPanels processes every unresolved slot in order, lowest index first.
// Slots already ok (or skipped) are left alone, which is what makes a resume
// cheap. Failed slots get one fresh attempt-sequence per loop invocation;
// slots reset or appended by control actions while the loop runs are picked
// up before the loop finishes. Returns false when the loop must stop early
// because the job left the running state.
func (o *Orchestrator) runPanels(ctx context.Context, jobID uuid.UUID, sharedTopic string) bool {
	attempted := map[int]bool{}
	for {
		// Re-read the job before each slot so a pause or cancel that raced
		// in is observed before the next panel starts.
		snap, err := o.registry.Get(jobID)
		if err != nil {
			return false
		}
		if snap.State != api.JobStateRunning {
			o.log.Infow("run loop yielding", "job_id", jobID, "state", snap.State)
			return false
		}

		i := nextSlot(snap, attempted)
		if i < 0 {
			return true
		}
		attempted[i] = true

		o.runSlot(ctx, jobID, snap, i, sharedTopic)
		o.flusher.MarkDirty(jobID)

		if ctx.Err() != nil {
			return false
		}
	}
}

// nextSlot picks the lowest unresolved slot index, or -1 when every slot is
// settled for this invocation.
func nextSlot(job *api.Job, attempted map[int]bool) int {
	for i, slot := range job.Panels {
		if slot.Locked {
			continue
		}
		switch slot.Status {
		case api.PanelStatusPending:
			return i
		case api.PanelStatusFailed:
			if !attempted[i] {
				return i
			}
		}
	}
	return -1
}

// runSlot generates, lints and records the outcome of one panel slot.
// Generation failure after exhausted retries degrades the slot only; the job
// keeps going.
func (o *Orchestrator) runSlot(ctx context.Context, jobID uuid.UUID, snap *api.Job, i int, sharedTopic string) {
	total := len(snap.Panels)
	topic := topicFor(snap.Input, i, sharedTopic)
	segment := snap.Panels[i].RegenerateSegment

	err := o.registry.Update(jobID, func(job *api.Job) error {
		if job.State != api.JobStateRunning {
			return errJobFinished
		}
		job.Panels[i].Status = api.PanelStatusPending
		job.Panels[i].Error = ""
		idx := i
		n := total
		job.CurrentStep = api.Step{
			Kind:        api.StepKindPanel,
			Description: fmt.Sprintf("generating panel %d of %d", i+1, total),
			PanelIndex:  &idx,
			TotalPanels: &n,
			Segment:     segment,
		}
		advance(job, progressDesignInit+float64(i)*progressPanelBand/float64(total))
		return nil
	})
	if err != nil {
		return
	}

	exclude := okTitles(snap)
	input := snap.Input

	panel, genErr := CallWithRetry(ctx, func(ctx context.Context) (*api.Panel, error) {
		p, err := o.gen.Generate(ctx, input, topic, exclude)
		if err != nil {
			metrics.IncreaseGenerationAttemptsMetric("failure")
			return nil, err
		}
		metrics.IncreaseGenerationAttemptsMetric("success")
		return p, nil
	}, o.cfg.MaxRetries, o.cfg.InitialBackoff, func(attempt int, wait time.Duration) {
		desc := fmt.Sprintf("generation of panel %d failed, retrying in %.0fs", i+1, wait.Seconds())
		_ = o.registry.Update(jobID, func(job *api.Job) error {
			job.CurrentStep.Description = desc
			return nil
		})
	})

	if genErr != nil {
		if ctx.Err() != nil {
			// loop context torn down; leave the slot for the next invocation
			return
		}
		o.log.Warnw("panel generation exhausted retries", "job_id", jobID, "panel", i, "error", genErr)
		_ = o.registry.Update(jobID, func(job *api.Job) error {
			if job.State.IsTerminal() {
				return errJobFinished
			}
			job.Panels[i].Status = api.PanelStatusFailed
			job.Panels[i].Error = genErr.Error()
			return nil
		})
		metrics.IncreasePanelsResolvedMetric(string(api.PanelStatusFailed))
		return
	}

	final := panel
	if segment != "" && snap.Panels[i].Panel != nil {
		final = mergeSegment(snap.Panels[i].Panel.Clone(), panel, segment)
	}

	issues := lint.LintPanel(final, input.City, input.Region)
	score := lint.Score(final, issues)
	result := lint.Result(final, issues)

	_ = o.registry.Update(jobID, func(job *api.Job) error {
		if job.State.IsTerminal() {
			return errJobFinished
		}
		s := &job.Panels[i]
		s.Status = api.PanelStatusOk
		s.Panel = final
		s.Error = ""
		s.QualityScore = score
		s.Lint = result
		s.RegenerateSegment = ""
		return nil
	})
	metrics.IncreasePanelsResolvedMetric(string(api.PanelStatusOk))
}

// finalize runs the cross-panel checks and moves the job to done.
func (o *Orchestrator) finalize(jobID uuid.UUID) error {
	snap, err := o.registry.Get(jobID)
	if err != nil {
		return err
	}
	if snap.State != api.JobStateRunning {
		return errJobFinished
	}

	okPanels := []*api.Panel{}
	for _, slot := range snap.Panels {
		if slot.Status == api.PanelStatusOk && slot.Panel != nil {
			okPanels = append(okPanels, slot.Panel)
		}
	}

	var summary []api.Issue
	var fingerprint string
	if len(okPanels) > 0 {
		summary = lint.LintKeywordDuplicates(okPanels)
		fingerprint = contentFingerprint(okPanels)
	}

	err = o.registry.Update(jobID, func(job *api.Job) error {
		if job.State != api.JobStateRunning {
			return errJobFinished
		}
		job.LintSummary = summary
		job.Fingerprint = fingerprint
		job.State = api.JobStateDone
		job.Progress = progressDone
		job.CurrentStep = api.Step{Kind: api.StepKindFinalizing, Description: "complete"}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.IncreaseJobsFinishedMetric(string(api.JobStateDone))
	o.flusher.Flush(jobID)
	o.log.Infow("job complete", "job_id", jobID, "panels", len(snap.Panels), "succeeded", len(okPanels))
	return nil
}

// fail moves the job to the terminal error state, recording the step that
// blew up. Panel-level failures never come through here.
func (o *Orchestrator) fail(jobID uuid.UUID, step string, cause error) {
	err := o.registry.Update(jobID, func(job *api.Job) error {
		if job.State.IsTerminal() {
			return errJobFinished
		}
		job.State = api.JobStateError
		job.LastError = &api.JobError{
			Code:    fatalErrorCode,
			Message: cause.Error(),
			AtStep:  step,
		}
		return nil
	})
	if err != nil {
		return
	}
	metrics.IncreaseJobsFinishedMetric(string(api.JobStateError))
	o.flusher.Flush(jobID)
	o.log.Errorw("job failed", "job_id", jobID, "step", step, "error", cause)
}

func (o *Orchestrator) setStep(jobID uuid.UUID, step api.Step, progress float64) {
	_ = o.registry.Update(jobID, func(job *api.Job) error {
		job.CurrentStep = step
		advance(job, progress)
		return nil
	})
}

// advance bumps progress without ever letting it move backwards.
func advance(job *api.Job, progress float64) {
	if progress > job.Progress {
		job.Progress = progress
	}
}

// deriveTopic builds the shared topic from the user input. An input that
// yields no topic at all is a fatal job-level error.
func deriveTopic(input api.UserInput) (string, error) {
	topic := strings.TrimSpace(input.Description)
	if topic == "" {
		topic = strings.TrimSpace(input.BusinessName)
	}
	if topic == "" && len(input.Topics) == 0 {
		return "", errors.New("no topic could be derived from the user input")
	}
	return topic, nil
}

// topicFor resolves the topic for a slot: an explicit per-panel topic when
// supplied, the shared topic otherwise.
func topicFor(input api.UserInput, i int, shared string) string {
	if i < len(input.Topics) && strings.TrimSpace(input.Topics[i]) != "" {
		return input.Topics[i]
	}
	return shared
}

func choosePreset(input api.UserInput) string {
	if input.KeepDesign && input.DesignPreset != "" {
		return input.DesignPreset
	}
	return DefaultDesignPreset
}

// okTitles collects the titles already produced for the job, used to steer
// the backend away from duplicates on subsequent slots.
func okTitles(job *api.Job) []string {
	titles := []string{}
	for _, slot := range job.Panels {
		if slot.Status == api.PanelStatusOk && slot.Panel != nil && slot.Panel.Title != "" {
			titles = append(titles, slot.Panel.Title)
		}
	}
	return titles
}

// mergeSegment splices only the regenerated segment of src into dst,
// preserving the rest of the previously accepted content.
func mergeSegment(dst, src *api.Panel, segment string) *api.Panel {
	switch segment {
	case api.SegmentTitle:
		dst.Title = src.Title
	case api.SegmentSummary:
		dst.Summary = src.Summary
	case api.SegmentSections:
		dst.Sections = src.Sections
	case api.SegmentFAQs:
		dst.FAQs = src.FAQs
	case api.SegmentKeywords:
		dst.Keywords = src.Keywords
	default:
		return src
	}
	return dst
}

// contentFingerprint hashes the content hashes of the succeeded panels, in
// slot order.
func contentFingerprint(panels []*api.Panel) string {
	h := sha256.New()
	for _, p := range panels {
		h.Write([]byte(lint.ContentHash(p)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
