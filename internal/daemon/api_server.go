package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"cliparr/internal/api"
	"cliparr/internal/config"
	"cliparr/internal/logging"
	"cliparr/internal/store"
)

type apiServer struct {
	bind     string
	logger   *slog.Logger
	daemon   *Daemon
	queueSvc *api.QueueService
	showsSvc *api.ShowsService
	settings *api.SettingsService

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:     bind,
		logger:   logger,
		daemon:   d,
		queueSvc: api.NewQueueService(d.store, d.orchestrator),
		showsSvc: api.NewShowsService(d.store, d.syncer, d.orchestrator),
		settings: api.NewSettingsService(d.workflow, d.broker),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/logs", srv.handleLogs)

	mux.HandleFunc("/shows/scan", srv.handleShowsScan)
	mux.HandleFunc("/shows/rescan", srv.handleShowsRescan)
	mux.HandleFunc("/shows/", srv.handleShowSubresource)

	mux.HandleFunc("/processing/jobs/bulk-delete", srv.handleBulkDelete)
	mux.HandleFunc("/processing/jobs", srv.handleJobs)
	mux.HandleFunc("/processing/jobs/", srv.handleJobItem)
	mux.HandleFunc("/processing/queue/status", srv.handleQueueStatus)
	mux.HandleFunc("/processing/active-ffmpeg", srv.handleActiveFFmpeg)

	mux.HandleFunc("/settings/queue/pause-cpu", srv.handlePausePool(true, true))
	mux.HandleFunc("/settings/queue/resume-cpu", srv.handlePausePool(true, false))
	mux.HandleFunc("/settings/queue/pause-gpu", srv.handlePausePool(false, true))
	mux.HandleFunc("/settings/queue/resume-gpu", srv.handlePausePool(false, false))

	if d.progress != nil {
		mux.HandleFunc("/ws/ffmpeg-progress", d.progress.ServeHTTP)
	}

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", slog.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	deps := make([]api.DependencyStatus, len(status.Dependencies))
	for i, dep := range status.Dependencies {
		deps[i] = api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	payload := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		QueueDBPath:  status.QueueDBPath,
		LockFilePath: status.LockFilePath,
		Workflow:     api.FromStatusSummary(status.Workflow),
		Dependencies: deps,
	}
	s.writeJSON(w, http.StatusOK, payload)
}

// handleJobs serves GET /processing/jobs?status=X&limit=N.
func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.queueSvc == nil {
		s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: nil})
		return
	}
	var statuses []store.Status
	for _, value := range r.URL.Query()["status"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		statuses = append(statuses, store.Status(trimmed))
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobs, err := s.queueSvc.List(r.Context(), limit, statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: jobs})
}

// handleJobItem serves GET/PUT/DELETE /processing/jobs/{id}.
func (s *apiServer) handleJobItem(w http.ResponseWriter, r *http.Request) {
	if s.queueSvc == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/processing/jobs/")
	if idStr == "" || strings.Contains(idStr, "/") {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, err := s.queueSvc.Describe(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if job == nil {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeJSON(w, http.StatusOK, api.JobResponse{Job: *job})
	case http.MethodPut:
		var req api.JobUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		job, err := s.queueSvc.Update(r.Context(), id, req)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if job == nil {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeJSON(w, http.StatusOK, api.JobResponse{Job: *job})
	case http.MethodDelete:
		if err := s.queueSvc.Remove(r.Context(), id); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusNoContent, nil)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleBulkDelete serves POST /processing/jobs/bulk-delete.
func (s *apiServer) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.queueSvc == nil {
		s.writeError(w, http.StatusServiceUnavailable, "queue service unavailable")
		return
	}
	var req api.BulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	removed, err := s.queueSvc.BulkDelete(r.Context(), req.JobIDs, s.daemon.workflow.PauseAll, s.daemon.workflow.ResumeAll)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.BulkDeleteResponse{Removed: removed})
}

// handleQueueStatus serves GET /processing/queue/status.
func (s *apiServer) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.queueSvc == nil {
		s.writeJSON(w, http.StatusOK, api.QueueStatusResponse{})
		return
	}
	counts, err := s.queueSvc.QueueStatus(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cpuPaused, gpuPaused := s.settings.PoolsPaused()
	s.writeJSON(w, http.StatusOK, api.QueueStatusResponse{
		Counts:    counts,
		CPUPaused: cpuPaused,
		GPUPaused: gpuPaused,
	})
}

// handleActiveFFmpeg serves GET /processing/active-ffmpeg.
func (s *apiServer) handleActiveFFmpeg(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	procs, err := s.settings.ActiveFFmpeg(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.ActiveFFmpegResponse{Processes: procs})
}

func (s *apiServer) handlePausePool(cpu, pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		switch {
		case cpu && pause:
			s.settings.PauseCPU()
		case cpu && !pause:
			s.settings.ResumeCPU()
		case !cpu && pause:
			s.settings.PauseGPU()
		default:
			s.settings.ResumeGPU()
		}
		s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// handleShowsScan serves POST /shows/scan.
func (s *apiServer) handleShowsScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.ScanRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	resp, err := s.showsSvc.Scan(r.Context(), req.ShowIDs)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleShowsRescan serves POST /shows/rescan.
func (s *apiServer) handleShowsRescan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.showsSvc.Rescan(r.Context(), req.ShowIDs)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleShowSubresource serves GET /shows/{id}/detection-stats and
// GET /shows/{id}/segments?season=N.
func (s *apiServer) handleShowSubresource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/shows/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	showID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid show id")
		return
	}

	switch parts[1] {
	case "detection-stats":
		resp, err := s.showsSvc.DetectionStats(r.Context(), showID)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	case "segments":
		season, err := strconv.Atoi(r.URL.Query().Get("season"))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "season query parameter is required")
			return
		}
		resp, err := s.showsSvc.Segments(r.Context(), showID, season)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
	default:
		s.writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	hub := s.daemon.LogStream()
	archive := s.daemon.LogArchive()
	if hub == nil && archive == nil {
		s.writeJSON(w, http.StatusOK, api.LogStreamResponse{Events: nil, Next: 0})
		return
	}

	query := r.URL.Query()
	since, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit <= 0 {
		limit = 200
	}
	follow := query.Get("follow") == "1" || strings.EqualFold(query.Get("follow"), "true")
	tail := query.Get("tail") == "1" || strings.EqualFold(query.Get("tail"), "true")

	var filterJob int64
	if value := strings.TrimSpace(query.Get("job")); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			filterJob = parsed
		}
	}
	component := strings.TrimSpace(query.Get("component"))
	levelRank := map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}
	minLevel, filterLevel := levelRank[strings.ToUpper(strings.TrimSpace(query.Get("level")))]

	var (
		converted []logging.LogEvent
		next      uint64
		err       error
	)

	if archive != nil && since > 0 {
		firstSeq := uint64(0)
		if hub != nil {
			firstSeq = hub.FirstSequence()
		}
		if hub == nil || (firstSeq > 0 && since < firstSeq) {
			archived, cursor, archErr := archive.ReadSince(since, limit)
			if archErr != nil {
				s.log().Warn("log archive read failed", logging.Error(archErr))
			} else if len(archived) > 0 {
				converted = archived
				next = cursor
			}
		}
	}
	if tail && since == 0 && !follow && hub != nil {
		raw, cursor := hub.Tail(limit)
		converted = raw
		next = cursor
	} else {
		if len(converted) == 0 && hub != nil {
			raw, cursor, fetchErr := hub.Fetch(r.Context(), since, limit, follow)
			if fetchErr != nil && !errors.Is(fetchErr, context.Canceled) && !errors.Is(fetchErr, context.DeadlineExceeded) {
				s.writeError(w, http.StatusInternalServerError, fetchErr.Error())
				return
			}
			converted = raw
			next = cursor
			err = fetchErr
		}
	}

	filtered := make([]logging.LogEvent, 0, len(converted))
	for _, evt := range converted {
		if filterJob != 0 && evt.ItemID != filterJob {
			continue
		}
		if component != "" && !strings.EqualFold(component, evt.Component) {
			continue
		}
		if filterLevel && levelRank[strings.ToUpper(evt.Level)] < minLevel {
			continue
		}
		filtered = append(filtered, evt)
	}

	s.writeJSON(w, http.StatusOK, api.LogStreamResponse{
		Events: api.FromLogEvents(filtered),
		Next:   next,
	})

	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return
	}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String("component", "api-server"))
	}
	return logging.NewNop()
}
