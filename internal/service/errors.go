package service

import (
	"fmt"

	"github.com/google/uuid"
)

type ErrResourceNotFound struct {
	error
}

func NewErrResourceNotFound(id string, resourceType string) *ErrResourceNotFound {
	return &ErrResourceNotFound{fmt.Errorf("%s %s not found", resourceType, id)}
}

func NewErrJobNotFound(id uuid.UUID) *ErrResourceNotFound {
	return NewErrResourceNotFound(id.String(), "job")
}

func NewErrPanelNotFound(jobID uuid.UUID, index int) *ErrResourceNotFound {
	return NewErrResourceNotFound(fmt.Sprintf("%s/%d", jobID, index), "panel")
}

type ErrPanelLocked struct {
	error
}

func NewErrPanelLocked(jobID uuid.UUID, index int) *ErrPanelLocked {
	return &ErrPanelLocked{fmt.Errorf("panel %d of job %s is locked and cannot be regenerated", index, jobID)}
}

type ErrInvalidTransition struct {
	error
}

func NewErrInvalidTransition(jobID uuid.UUID, from, action string) *ErrInvalidTransition {
	return &ErrInvalidTransition{fmt.Errorf("cannot %s job %s in state %s", action, jobID, from)}
}

type ErrJobFinished struct {
	error
}

func NewErrJobFinished(jobID uuid.UUID) *ErrJobFinished {
	return &ErrJobFinished{fmt.Errorf("job %s already reached a terminal state", jobID)}
}

type ErrInvalidInput struct {
	error
}

func NewErrInvalidInput(message string) *ErrInvalidInput {
	return &ErrInvalidInput{fmt.Errorf("invalid input: %s", message)}
}
