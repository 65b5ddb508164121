package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

// JobSource is the slice of the scraper the job handlers read from.
type JobSource interface {
	Job(id string) (*crawler.Job, bool)
	Jobs() []*crawler.Job
}

// ProgressHandler exposes read-only job endpoints.
type ProgressHandler struct {
	jobs   JobSource
	logger *zap.Logger
}

// NewProgressHandler wires the job source and logger.
func NewProgressHandler(jobs JobSource, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{jobs: jobs, logger: logger}
}

// ListJobs handles GET /v1/jobs?status=&limit=&offset=. It returns
// {"jobs": [...], "total": n} in submission order, or 400 for invalid
// filters.
func (h *ProgressHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job source unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status crawler.JobStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err = parseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	matched := make([]jobDTO, 0)
	for _, job := range h.jobs.Jobs() {
		if status != "" && job.Status != status {
			continue
		}
		matched = append(matched, toJobDTO(job))
	}
	total := len(matched)
	start := min(offset, total)
	end := min(start+limit, total)
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  matched[start:end],
		"total": total,
	})
}

// GetJob handles GET /v1/jobs/{job_id}. It returns {"job": {...}} or 404
// when the ID is unknown.
func (h *ProgressHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "job source unavailable")
		return
	}
	jobID := strings.TrimSpace(chi.URLParam(r, "job_id"))
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	job, ok := h.jobs.Job(jobID)
	if !ok {
		h.logger.Debug("job lookup missed", zap.String("job_id", jobID))
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	dto := toJobDTO(job)
	dto.Result = job.Result
	writeJSON(w, http.StatusOK, map[string]any{"job": dto})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (crawler.JobStatus, error) {
	switch strings.ToLower(input) {
	case "pending", "queued":
		return crawler.JobStatusPending, nil
	case "running":
		return crawler.JobStatusRunning, nil
	case "completed", "success":
		return crawler.JobStatusCompleted, nil
	case "failed", "error", "failure":
		return crawler.JobStatusFailed, nil
	case "retrying":
		return crawler.JobStatusRetrying, nil
	default:
		return "", errors.New("invalid status")
	}
}

type jobDTO struct {
	ID           string          `json:"id"`
	URL          string          `json:"url"`
	Schema       string          `json:"schema,omitempty"`
	Status       string          `json:"status"`
	Priority     int             `json:"priority"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	RetryCount   int             `json:"retry_count"`
	MaxRetries   int             `json:"max_retries"`
	Progress     int             `json:"progress"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Error        string          `json:"error,omitempty"`
	Result       *crawler.Result `json:"result,omitempty"`
}

func toJobDTO(job *crawler.Job) jobDTO {
	return jobDTO{
		ID:           job.ID,
		URL:          job.URL,
		Schema:       job.Schema,
		Status:       string(job.Status),
		Priority:     job.Priority,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
		RetryCount:   job.RetryCount,
		MaxRetries:   job.MaxRetries,
		Progress:     job.Progress,
		Dependencies: job.Dependencies,
		Error:        job.Error,
	}
}
