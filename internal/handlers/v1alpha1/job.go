// Package v1alpha1 exposes the job control operations over HTTP for the UI
// collaborators: start, status, pause/resume/cancel, lint rerun and
// panel-level regeneration.
package v1alpha1

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	api "github.com/panelforge/panelforge/api/v1alpha1"
	"github.com/panelforge/panelforge/internal/service"
	"github.com/panelforge/panelforge/pkg/requestid"
)

type Handler struct {
	jobSrv *service.JobService
}

func NewHandler(jobSrv *service.JobService) *Handler {
	return &Handler{jobSrv: jobSrv}
}

// RegisterRoutes mounts the job control routes on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.CreateJob)
		r.Get("/", h.ListJobs)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetJob)
			r.Delete("/", h.DeleteJob)
			r.Post("/pause", h.PauseJob)
			r.Post("/resume", h.ResumeJob)
			r.Post("/cancel", h.CancelJob)
			r.Post("/lint", h.RerunLinter)
			r.Post("/panels", h.AddPanel)
			r.Route("/panels/{index}", func(r chi.Router) {
				r.Post("/regenerate", h.RegeneratePanel)
				r.Post("/lock", h.LockPanel)
				r.Post("/unlock", h.UnlockPanel)
			})
		})
	})
}

type errorResponse struct {
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

type addPanelRequest struct {
	Topic string `json:"topic"`
}

type regenerateRequest struct {
	Segment string `json:"segment,omitempty"`
}

func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var input api.UserInput
	if err := render.DecodeJSON(r.Body, &input); err != nil {
		renderErr(w, r, service.NewErrInvalidInput("malformed request body"))
		return
	}

	job, err := h.jobSrv.Start(r.Context(), input)
	if err != nil {
		renderErr(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, job)
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.jobSrv.List(r.Context()))
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	job, err := h.jobSrv.GetStatus(r.Context(), id)
	if err != nil {
		renderErr(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	if err := h.jobSrv.Delete(r.Context(), id); err != nil {
		renderErr(w, r, err)
		return
	}
	render.NoContent(w, r)
}

func (h *Handler) PauseJob(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.jobSrv.Pause)
}

func (h *Handler) ResumeJob(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.jobSrv.Resume)
}

func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.jobSrv.Cancel)
}

func (h *Handler) RerunLinter(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.jobSrv.RerunLinter)
}

func (h *Handler) AddPanel(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	var req addPanelRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderErr(w, r, service.NewErrInvalidInput("malformed request body"))
		return
	}
	if err := h.jobSrv.AddPanel(r.Context(), id, req.Topic); err != nil {
		renderErr(w, r, err)
		return
	}
	h.respondWithJob(w, r, id)
}

func (h *Handler) RegeneratePanel(w http.ResponseWriter, r *http.Request) {
	id, index, ok := panelRef(w, r)
	if !ok {
		return
	}

	var req regenerateRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			renderErr(w, r, service.NewErrInvalidInput("malformed request body"))
			return
		}
	}

	var err error
	if req.Segment != "" {
		err = h.jobSrv.RegeneratePanelSegment(r.Context(), id, index, req.Segment)
	} else {
		err = h.jobSrv.RegeneratePanel(r.Context(), id, index)
	}
	if err != nil {
		renderErr(w, r, err)
		return
	}
	h.respondWithJob(w, r, id)
}

func (h *Handler) LockPanel(w http.ResponseWriter, r *http.Request) {
	h.setLock(w, r, true)
}

func (h *Handler) UnlockPanel(w http.ResponseWriter, r *http.Request) {
	h.setLock(w, r, false)
}

func (h *Handler) setLock(w http.ResponseWriter, r *http.Request, locked bool) {
	id, index, ok := panelRef(w, r)
	if !ok {
		return
	}
	if err := h.jobSrv.SetPanelLock(r.Context(), id, index, locked); err != nil {
		renderErr(w, r, err)
		return
	}
	h.respondWithJob(w, r, id)
}

func (h *Handler) control(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID) error) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	if err := op(r.Context(), id); err != nil {
		renderErr(w, r, err)
		return
	}
	h.respondWithJob(w, r, id)
}

func (h *Handler) respondWithJob(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	job, err := h.jobSrv.GetStatus(r.Context(), id)
	if err != nil {
		renderErr(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		renderErr(w, r, service.NewErrInvalidInput("malformed job id"))
		return uuid.UUID{}, false
	}
	return id, true
}

func panelRef(w http.ResponseWriter, r *http.Request) (uuid.UUID, int, bool) {
	id, ok := jobID(w, r)
	if !ok {
		return uuid.UUID{}, 0, false
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		renderErr(w, r, service.NewErrInvalidInput("malformed panel index"))
		return uuid.UUID{}, 0, false
	}
	return id, index, true
}

func renderErr(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError

	var notFound *service.ErrResourceNotFound
	var locked *service.ErrPanelLocked
	var transition *service.ErrInvalidTransition
	var finished *service.ErrJobFinished
	var invalid *service.ErrInvalidInput

	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &locked), errors.As(err, &transition), errors.As(err, &finished):
		status = http.StatusConflict
	case errors.As(err, &invalid):
		status = http.StatusBadRequest
	}

	render.Status(r, status)
	render.JSON(w, r, errorResponse{Message: err.Error(), RequestID: requestid.FromRequest(r)})
}
