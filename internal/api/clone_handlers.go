package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-cloner/internal/artifact"
	"github.com/JakeFAU/site-cloner/internal/cloner"
	"github.com/JakeFAU/site-cloner/internal/jobs"
	"github.com/JakeFAU/site-cloner/internal/transform"
)

const enqueueTimeout = 5 * time.Second

type cloneRequest struct {
	URL           string `json:"url"`
	Model         string `json:"model"`
	FullSite      bool   `json:"full_site"`
	MaxPages      *int   `json:"max_pages"`
	IncludeAssets *bool  `json:"include_assets"`
}

type jobResponse struct {
	JobID          string                   `json:"job_id"`
	URL            string                   `json:"url"`
	Model          string                   `json:"model"`
	FullSite       bool                     `json:"full_site"`
	MaxPages       int                      `json:"max_pages"`
	IncludeAssets  bool                     `json:"include_assets"`
	Status         cloner.JobStatus         `json:"status"`
	Progress       string                   `json:"progress"`
	Error          *string                  `json:"error"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
	StartedAt      *time.Time               `json:"started_at,omitempty"`
	FinishedAt     *time.Time               `json:"finished_at,omitempty"`
	ArtifactURI    string                   `json:"artifact_uri,omitempty"`
	Result         *cloner.SinglePageResult `json:"result"`
	FullSiteResult *cloner.FullSiteResult   `json:"full_site_result"`
}

func toJobResponse(job cloner.Job) jobResponse {
	resp := jobResponse{
		JobID:          job.ID,
		URL:            job.Request.URL,
		Model:          job.Request.Model,
		FullSite:       job.Request.FullSite,
		MaxPages:       job.Request.MaxPages,
		IncludeAssets:  job.Request.IncludeAssets,
		Status:         job.Status,
		Progress:       job.Progress,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
		StartedAt:      job.StartedAt,
		FinishedAt:     job.FinishedAt,
		ArtifactURI:    job.ArtifactURI,
		Result:         job.Result,
		FullSiteResult: job.FullSiteResult,
	}
	if job.Error != "" {
		msg := job.Error
		resp.Error = &msg
	}
	return resp
}

func (s *Server) submitClone(w http.ResponseWriter, r *http.Request) {
	var body cloneRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := s.toRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.deps.Jobs.Create(req)
	if err != nil {
		s.logger.Error("create job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	item := cloner.QueueItem{JobID: job.ID, Submitted: s.deps.Clock.Now()}
	if err := s.deps.Queue.Enqueue(ctx, item); err != nil {
		s.logger.Warn("enqueue job failed", zap.String("job_id", job.ID), zap.Error(err))
		if evictErr := s.deps.Jobs.Evict(job.ID); evictErr != nil {
			s.logger.Warn("evict unqueued job", zap.String("job_id", job.ID), zap.Error(evictErr))
		}
		writeError(w, http.StatusServiceUnavailable, "job queue is full")
		return
	}
	s.logger.Info("clone job accepted",
		zap.String("job_id", job.ID),
		zap.String("url", req.URL),
		zap.Bool("full_site", req.FullSite),
	)
	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (s *Server) toRequest(body cloneRequest) (cloner.Request, error) {
	u, err := cloner.ParseHTTPURL(body.URL)
	if err != nil {
		return cloner.Request{}, fmt.Errorf("invalid url: %w", err)
	}
	limit := s.cfg.Jobs.MaxPagesLimit
	maxPages := valueOrDefault(body.MaxPages, s.cfg.Jobs.MaxPagesDefault)
	if maxPages < 1 || (limit > 0 && maxPages > limit) {
		return cloner.Request{}, fmt.Errorf("max_pages must be between 1 and %d", limit)
	}
	model := strings.TrimSpace(body.Model)
	if model == "" {
		model = s.cfg.Transform.DefaultModel
	}
	if model == "" {
		model = transform.DefaultModelKey
	}
	return cloner.Request{
		URL:           u.String(),
		Model:         model,
		FullSite:      body.FullSite,
		MaxPages:      maxPages,
		IncludeAssets: valueOrDefault(body.IncludeAssets, true),
	}, nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

// listClones handles GET /v1/clone?status=&limit=. Results are omitted from
// the listing; fetch a single job for its payload.
func (s *Server) listClones(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := cloner.JobStatus(strings.ToLower(strings.TrimSpace(q.Get("status"))))
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = val
	}
	out := make([]jobResponse, 0)
	for _, job := range s.deps.Jobs.List() {
		if status != "" && job.Status != status {
			continue
		}
		resp := toJobResponse(job)
		resp.Result, resp.FullSiteResult = nil, nil
		out = append(out, resp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) getClone(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) downloadClone(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	a, err := artifact.ForJob(job)
	if err != nil {
		if errors.Is(err, artifact.ErrNotReady) {
			writeError(w, http.StatusConflict, "clone job not completed")
			return
		}
		s.logger.Error("build artifact failed", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build artifact")
		return
	}
	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+a.Name)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.Header().Set("ETag", strconv.Quote(a.SHA256))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(a.Data); err != nil {
		s.logger.Warn("write artifact failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (s *Server) deleteClone(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.deps.Jobs.Evict(jobID); err != nil {
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			writeError(w, http.StatusNotFound, "clone job not found")
		case errors.Is(err, jobs.ErrRunning):
			writeError(w, http.StatusConflict, "clone job is running")
		default:
			s.logger.Error("evict job failed", zap.String("job_id", jobID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to delete job")
		}
		return
	}
	if s.deps.Events != nil {
		s.deps.Events.Cleanup(jobID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "deleted": true})
}

// streamLogs handles GET /v1/clone/{job_id}/logs as Server-Sent Events. The
// full history is replayed first; the stream ends after the [END] line.
func (s *Server) streamLogs(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	if s.deps.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "event log unavailable")
		return
	}
	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Debug("response does not support flushing", zap.Error(err))
	}

	for entry := range s.deps.Events.Subscribe(r.Context(), job.ID) {
		if _, err := io.WriteString(w, sseEvent(entry.Line())); err != nil {
			s.logger.Debug("log stream client went away", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		_ = rc.Flush()
	}
}

// sseEvent frames one log line as a single event. Embedded newlines become
// continuation data lines so clients reassemble the original text.
func sseEvent(line string) string {
	var b strings.Builder
	for _, part := range strings.Split(strings.ReplaceAll(line, "\r\n", "\n"), "\n") {
		b.WriteString("data: ")
		b.WriteString(strings.TrimSuffix(part, "\r"))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (cloner.Job, bool) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.Jobs.Get(jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "clone job not found")
			return cloner.Job{}, false
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return cloner.Job{}, false
	}
	return job, true
}
