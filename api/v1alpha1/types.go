package v1alpha1

import (
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a generation job.
type JobState string

const (
	JobStateQueued  JobState = "queued"
	JobStateRunning JobState = "running"
	JobStatePaused  JobState = "paused"
	JobStateDone    JobState = "done"
	JobStateError   JobState = "error"
)

// IsTerminal reports whether no further automatic transitions happen from s.
func (s JobState) IsTerminal() bool {
	return s == JobStateDone || s == JobStateError
}

// PanelStatus is the resolution state of a single panel slot.
type PanelStatus string

const (
	PanelStatusPending PanelStatus = "pending"
	PanelStatusOk      PanelStatus = "ok"
	PanelStatusFailed  PanelStatus = "failed"
	PanelStatusSkipped PanelStatus = "skipped"
)

// StepKind identifies the pipeline stage a job is currently in.
type StepKind string

const (
	StepKindProfiling  StepKind = "profiling"
	StepKindDesignInit StepKind = "design-init"
	StepKindPanel      StepKind = "panel"
	StepKindFinalizing StepKind = "finalizing"
)

// Severity of a lint issue.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
)

// Error code set on a cancelled job's LastError.
const ErrorCodeCancelled = "CANCELLED"

// UserInput is the business description a job is created from.
type UserInput struct {
	BusinessName string   `json:"businessName"`
	Description  string   `json:"description"`
	City         string   `json:"city,omitempty"`
	Region       string   `json:"region,omitempty"`
	PanelCount   int      `json:"panelCount"`
	Topics       []string `json:"topics,omitempty"`
	KeepDesign   bool     `json:"keepDesign,omitempty"`
	DesignPreset string   `json:"designPreset,omitempty"`
}

// Section is one bulleted block of a panel.
type Section struct {
	Heading string   `json:"heading"`
	Bullets []string `json:"bullets"`
}

// FAQ is one question/answer pair of a panel.
type FAQ struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Panel is one generated content unit.
type Panel struct {
	Title    string    `json:"title"`
	Summary  string    `json:"summary"`
	Sections []Section `json:"sections"`
	FAQs     []FAQ     `json:"faqs"`
	Keywords []string  `json:"keywords"`
}

// Panel segments addressable by segment-level regeneration.
const (
	SegmentTitle    = "title"
	SegmentSummary  = "summary"
	SegmentSections = "sections"
	SegmentFAQs     = "faqs"
	SegmentKeywords = "keywords"
)

// Issue is a single lint finding.
type Issue struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// LintResult is the outcome of linting one panel. ContentHash records the
// hash of the content the issues were computed against, so edits made after
// the lint pass can be detected.
type LintResult struct {
	Passed      bool    `json:"passed"`
	HasWarnings bool    `json:"hasWarnings"`
	Issues      []Issue `json:"issues"`
	ContentHash string  `json:"contentHash"`
}

// PanelResult is the eventual outcome for one panel slot. Index is the slot's
// stable identity and is never reassigned.
type PanelResult struct {
	Index             int         `json:"index"`
	Status            PanelStatus `json:"status"`
	Panel             *Panel      `json:"panel,omitempty"`
	Error             string      `json:"error,omitempty"`
	QualityScore      int         `json:"qualityScore,omitempty"`
	Lint              *LintResult `json:"lint,omitempty"`
	Locked            bool        `json:"locked,omitempty"`
	RegenerateSegment string      `json:"regenerateSegment,omitempty"`

	// Stale is derived at read time: true when the panel content no longer
	// matches the hash recorded by the last lint pass. It is never stored.
	Stale bool `json:"stale,omitempty"`
}

// Step is the job's cursor into the pipeline.
type Step struct {
	Kind        StepKind `json:"kind"`
	Description string   `json:"description"`
	PanelIndex  *int     `json:"panelIndex,omitempty"`
	TotalPanels *int     `json:"totalPanels,omitempty"`
	Segment     string   `json:"segment,omitempty"`
}

// JobError describes a fatal job failure or cancellation.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	AtStep  string `json:"atStep"`
}

// Job is one user-submitted generation request and its full progress state.
type Job struct {
	ID           uuid.UUID     `json:"id"`
	State        JobState      `json:"state"`
	Progress     float64       `json:"progress"`
	CurrentStep  Step          `json:"currentStep"`
	Panels       []PanelResult `json:"panels"`
	LintSummary  []Issue       `json:"lintSummary,omitempty"`
	Fingerprint  string        `json:"fingerprint,omitempty"`
	DesignPreset string        `json:"designPreset,omitempty"`
	LastError    *JobError     `json:"lastError,omitempty"`
	Input        UserInput     `json:"input"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Clone returns a deep copy of the job. Callers of the status API receive
// clones so internal state can never be mutated through a returned value.
func (j *Job) Clone() *Job {
	out := *j
	out.Panels = make([]PanelResult, len(j.Panels))
	for i := range j.Panels {
		out.Panels[i] = j.Panels[i].Clone()
	}
	if j.LintSummary != nil {
		out.LintSummary = append([]Issue(nil), j.LintSummary...)
	}
	if j.LastError != nil {
		e := *j.LastError
		out.LastError = &e
	}
	out.Input = j.Input.Clone()
	out.CurrentStep = j.CurrentStep.Clone()
	return &out
}

// Clone returns a deep copy of the panel result.
func (p PanelResult) Clone() PanelResult {
	out := p
	if p.Panel != nil {
		out.Panel = p.Panel.Clone()
	}
	if p.Lint != nil {
		l := *p.Lint
		l.Issues = append([]Issue(nil), p.Lint.Issues...)
		out.Lint = &l
	}
	return out
}

// Clone returns a deep copy of the panel.
func (p *Panel) Clone() *Panel {
	out := *p
	out.Sections = make([]Section, len(p.Sections))
	for i, s := range p.Sections {
		out.Sections[i] = Section{Heading: s.Heading, Bullets: append([]string(nil), s.Bullets...)}
	}
	out.FAQs = append([]FAQ(nil), p.FAQs...)
	out.Keywords = append([]string(nil), p.Keywords...)
	return &out
}

// Clone returns a deep copy of the user input.
func (u UserInput) Clone() UserInput {
	out := u
	out.Topics = append([]string(nil), u.Topics...)
	return out
}

// Clone returns a deep copy of the step.
func (s Step) Clone() Step {
	out := s
	if s.PanelIndex != nil {
		v := *s.PanelIndex
		out.PanelIndex = &v
	}
	if s.TotalPanels != nil {
		v := *s.TotalPanels
		out.TotalPanels = &v
	}
	return out
}
