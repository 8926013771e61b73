package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/txnetl/internal/core"
	"github.com/JonMunkholm/txnetl/internal/pipeline"
	"github.com/JonMunkholm/txnetl/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthTimeout = 5 * time.Second

var errNoRunner = errors.New("no pipeline runner configured")

// ============================================================================
// Response types
// ============================================================================

type fileReportResponse struct {
	File             string         `json:"file"`
	Path             string         `json:"path"`
	ContentHash      string         `json:"contentHash,omitempty"`
	Success          bool           `json:"success"`
	AlreadyProcessed bool           `json:"alreadyProcessed,omitempty"`
	Stage            string         `json:"stage,omitempty"`
	Status           core.LogStatus `json:"status,omitempty"`
	Extracted        int            `json:"extracted"`
	Transformed      int            `json:"transformed"`
	Removed          int            `json:"removed"`
	Inserted         int            `json:"inserted"`
	Skipped          int            `json:"skipped"`
	Failed           int            `json:"failed"`
	Warnings         []string       `json:"warnings,omitempty"`
	Error            string         `json:"error,omitempty"`
	ErrorCode        string         `json:"errorCode,omitempty"`
	DurationMs       int64          `json:"durationMs"`
}

type summaryResponse struct {
	RunID            string               `json:"runId"`
	FilesTotal       int                  `json:"filesTotal"`
	FilesSucceeded   int                  `json:"filesSucceeded"`
	FilesFailed      int                  `json:"filesFailed"`
	FilesSkipped     int                  `json:"filesSkipped"`
	RecordsExtracted int                  `json:"recordsExtracted"`
	RecordsLoaded    int                  `json:"recordsLoaded"`
	RecordsSkipped   int                  `json:"recordsSkipped"`
	RecordsFailed    int                  `json:"recordsFailed"`
	RecordsRemoved   int                  `json:"recordsRemoved"`
	DurationMs       int64                `json:"durationMs"`
	Failed           bool                 `json:"failed"`
	Files            []fileReportResponse `json:"files"`
}

type statusResponse struct {
	Running   bool             `json:"running"`
	StartedAt *time.Time       `json:"startedAt,omitempty"`
	LastRun   *summaryResponse `json:"lastRun,omitempty"`
	LastError string           `json:"lastError,omitempty"`
}

func newSummaryResponse(s core.Summary) summaryResponse {
	resp := summaryResponse{
		RunID:            s.RunID,
		FilesTotal:       s.FilesTotal,
		FilesSucceeded:   s.FilesSucceeded,
		FilesFailed:      s.FilesFailed,
		FilesSkipped:     s.FilesSkipped,
		RecordsExtracted: s.RecordsExtracted,
		RecordsLoaded:    s.RecordsLoaded,
		RecordsSkipped:   s.RecordsSkipped,
		RecordsFailed:    s.RecordsFailed,
		RecordsRemoved:   s.RecordsRemoved,
		DurationMs:       s.Duration.Milliseconds(),
		Failed:           s.Failed(),
		Files:            make([]fileReportResponse, 0, len(s.Files)),
	}
	for _, f := range s.Files {
		fr := fileReportResponse{
			File:             f.FileName,
			Path:             f.FilePath,
			ContentHash:      f.ContentHash,
			Success:          f.Success,
			AlreadyProcessed: f.AlreadyProcessed,
			Stage:            f.Stage,
			Status:           f.Status,
			Extracted:        f.Extracted,
			Transformed:      f.Transformed,
			Removed:          f.Removed,
			Inserted:         f.Inserted,
			Skipped:          f.Skipped,
			Failed:           f.Failed,
			Warnings:         f.Warnings,
			ErrorCode:        f.ErrorCode,
			DurationMs:       f.Duration.Milliseconds(),
		}
		if f.Err != nil {
			fr.Error = core.FormatUserError(f.Err)
		}
		resp.Files = append(resp.Files, fr)
	}
	return resp
}

// ============================================================================
// Handlers
// ============================================================================

// handleHealth reports whether the store answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListRuns lists execution logs, newest first.
// Query: status, run_id, limit.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter store.LogFilter
	if raw := q.Get("status"); raw != "" {
		status := core.LogStatus(strings.ToUpper(raw))
		switch status {
		case core.LogInProgress, core.LogSuccess, core.LogPartial, core.LogError:
			filter.Status = status
		default:
			respondError(w, r, invalidParam("status", raw), http.StatusBadRequest)
			return
		}
	}
	filter.RunID = q.Get("run_id")

	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}
	filter.Limit = limit

	logs, err := s.store.ListExecutionLogs(r.Context(), filter)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []core.ExecutionLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// handleGetRun returns one execution log by id.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondError(w, r, invalidParam("id", raw), http.StatusBadRequest)
		return
	}

	log, err := s.store.GetExecutionLog(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, r, err, http.StatusNotFound)
		return
	}
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, log)
}

// handleListFiles lists the processed-file registry, newest first.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		respondError(w, r, err, http.StatusBadRequest)
		return
	}

	files, err := s.store.ListProcessedFiles(r.Context(), limit)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []core.FileRegistryEntry{}
	}
	writeJSON(w, http.StatusOK, files)
}

// handleStatus reports whether a run is in progress and the last result.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		respondError(w, r, errNoRunner, http.StatusServiceUnavailable)
		return
	}

	st := s.runner.Status()
	resp := statusResponse{Running: st.Gate.Running, StartedAt: st.Gate.StartedAt}
	if st.Last != nil {
		last := newSummaryResponse(*st.Last)
		resp.LastRun = &last
	}
	if st.LastError != nil {
		resp.LastError = core.FormatUserError(st.LastError)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTriggerRun runs the raw data directory now and returns the summary.
// The run outlives a client disconnect so every file reaches its final log.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		respondError(w, r, errNoRunner, http.StatusServiceUnavailable)
		return
	}

	summary, err := s.runner.Trigger(context.WithoutCancel(r.Context()))
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		respondError(w, r, err, http.StatusConflict)
		return
	case err != nil:
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, newSummaryResponse(summary))
}

// parseLimit parses an optional positive limit. Zero means the store
// default.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, invalidParam("limit", raw)
	}
	return store.NormalizeLimit(n), nil
}
