package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	api "github.com/panelforge/panelforge/api/v1alpha1"
)

// Job is the persisted form of a generation job. The live state lives in the
// orchestrator's in-memory registry; rows here are written by the debounced
// persistence hook and read back on startup.
type Job struct {
	ID           uuid.UUID `gorm:"primaryKey;"`
	State        string    `gorm:"index;type:VARCHAR(20);not null"`
	Progress     float64   `gorm:"not null"`
	DesignPreset string    `gorm:"type:VARCHAR(100)"`
	Fingerprint  string    `gorm:"type:VARCHAR(64)"`
	CurrentStep  *JSONField[api.Step]          `gorm:"type:jsonb"`
	Panels       *JSONField[[]api.PanelResult] `gorm:"type:jsonb;not null"`
	LintSummary  *JSONField[[]api.Issue]       `gorm:"type:jsonb"`
	LastError    *JSONField[*api.JobError]     `gorm:"type:jsonb"`
	Input        *JSONField[api.UserInput]     `gorm:"type:jsonb;not null"`
	CreatedAt    time.Time                     `gorm:"not null"`
	UpdatedAt    time.Time                     `gorm:"not null"`
}

type JobList []Job

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}

// NewJobFromApiResource converts a live job into its persisted form.
func NewJobFromApiResource(job *api.Job) *Job {
	return &Job{
		ID:           job.ID,
		State:        string(job.State),
		Progress:     job.Progress,
		DesignPreset: job.DesignPreset,
		Fingerprint:  job.Fingerprint,
		CurrentStep:  MakeJSONField(job.CurrentStep),
		Panels:       MakeJSONField(job.Panels),
		LintSummary:  MakeJSONField(job.LintSummary),
		LastError:    MakeJSONField(job.LastError),
		Input:        MakeJSONField(job.Input),
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}

// ToApiResource converts a persisted row back into the live job shape.
func (j *Job) ToApiResource() *api.Job {
	out := &api.Job{
		ID:           j.ID,
		State:        api.JobState(j.State),
		Progress:     j.Progress,
		DesignPreset: j.DesignPreset,
		Fingerprint:  j.Fingerprint,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
	if j.CurrentStep != nil {
		out.CurrentStep = j.CurrentStep.Data
	}
	if j.Panels != nil {
		out.Panels = j.Panels.Data
	}
	if j.LintSummary != nil {
		out.LintSummary = j.LintSummary.Data
	}
	if j.LastError != nil {
		out.LastError = j.LastError.Data
	}
	if j.Input != nil {
		out.Input = j.Input.Data
	}
	return out
}
