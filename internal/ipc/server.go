package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"

	"log/slog"

	"cliparr/internal/api"
	"cliparr/internal/daemon"
	"cliparr/internal/logging"
	"cliparr/internal/store"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	svc := &service{
		daemon:   d,
		logger:   logger,
		queueSvc: api.NewQueueService(d.Store(), d.Orchestrator()),
		showsSvc: api.NewShowsService(d.Store(), d.Syncer(), d.Orchestrator()),
		settings: api.NewSettingsService(d.Workflow(), d.Broker()),
	}
	if err := rpcServer.RegisterName("Cliparr", svc); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Info("ipc server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("ipc accept failed", logging.Error(err))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove ipc socket", logging.String("socket", s.path), logging.Error(err))
	}
}

type service struct {
	daemon   *daemon.Daemon
	logger   *slog.Logger
	queueSvc *api.QueueService
	showsSvc *api.ShowsService
	settings *api.SettingsService
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(context.Background())
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
	resp.Status = api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		QueueDBPath:  status.QueueDBPath,
		LockFilePath: status.LockFilePath,
		Workflow:     api.FromStatusSummary(status.Workflow),
		Dependencies: deps,
	}
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.daemon.Stop(context.Background())
	resp.Stopped = true
	return nil
}

func (s *service) JobList(req JobListRequest, resp *JobListResponse) error {
	statuses := make([]store.Status, 0, len(req.Statuses))
	for _, status := range req.Statuses {
		trimmed := strings.TrimSpace(status)
		if trimmed == "" {
			continue
		}
		statuses = append(statuses, store.Status(trimmed))
	}
	jobs, err := s.queueSvc.List(context.Background(), req.Limit, statuses...)
	if err != nil {
		return err
	}
	resp.Jobs = jobs
	return nil
}

func (s *service) JobDescribe(req JobDescribeRequest, resp *JobDescribeResponse) error {
	job, err := s.queueSvc.Describe(context.Background(), req.ID)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}
	resp.Job = *job
	resp.Found = true
	return nil
}

func (s *service) JobRequeue(req JobRequeueRequest, resp *JobRequeueResponse) error {
	job, err := s.queueSvc.Requeue(context.Background(), req.ID)
	if err != nil {
		return err
	}
	if job != nil {
		resp.Job = *job
	}
	return nil
}

func (s *service) JobRemove(req JobRemoveRequest, _ *JobRemoveResponse) error {
	return s.queueSvc.Remove(context.Background(), req.ID)
}

func (s *service) JobBulkDelete(req JobBulkDeleteRequest, resp *JobBulkDeleteResponse) error {
	pauseAll := func() {
		s.settings.PauseCPU()
		s.settings.PauseGPU()
	}
	resumeAll := func() {
		s.settings.ResumeCPU()
		s.settings.ResumeGPU()
	}
	removed, err := s.queueSvc.BulkDelete(context.Background(), req.IDs, pauseAll, resumeAll)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) QueueStatus(_ QueueStatusRequest, resp *QueueStatusResponse) error {
	counts, err := s.queueSvc.QueueStatus(context.Background())
	if err != nil {
		return err
	}
	cpuPaused, gpuPaused := s.settings.PoolsPaused()
	resp.Status = api.QueueStatusResponse{Counts: counts, CPUPaused: cpuPaused, GPUPaused: gpuPaused}
	return nil
}

func (s *service) PoolControl(req PoolControlRequest, resp *PoolControlResponse) error {
	switch strings.ToLower(strings.TrimSpace(req.Pool)) {
	case "cpu":
		if req.Pause {
			s.settings.PauseCPU()
		} else {
			s.settings.ResumeCPU()
		}
	case "gpu":
		if req.Pause {
			s.settings.PauseGPU()
		} else {
			s.settings.ResumeGPU()
		}
	default:
		return fmt.Errorf("unknown pool %q", req.Pool)
	}
	resp.Pool = strings.ToLower(req.Pool)
	resp.Paused = req.Pause
	return nil
}

func (s *service) ShowsScan(req ShowsScanRequest, resp *ShowsScanResponse) error {
	result, err := s.showsSvc.Scan(context.Background(), req.SonarrSeriesIDs)
	if err != nil {
		return err
	}
	resp.Scanned = result.Scanned
	resp.Enqueued = result.Enqueued
	return nil
}

func (s *service) ShowsRescan(req ShowsRescanRequest, resp *ShowsRescanResponse) error {
	result, err := s.showsSvc.Rescan(context.Background(), req.ShowIDs)
	if err != nil {
		return err
	}
	resp.Scanned = result.Scanned
	resp.Enqueued = result.Enqueued
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(context.Background())
	resp.Sent = sent
	resp.Message = message
	return err
}

func (s *service) DatabaseHealth(_ DatabaseHealthRequest, resp *DatabaseHealthResponse) error {
	health, err := s.daemon.Store().CheckHealth(context.Background())
	resp.DBPath = health.DBPath
	resp.DatabaseExists = health.DatabaseExists
	resp.DatabaseReadable = health.DatabaseReadable
	resp.SchemaVersion = health.SchemaVersion
	resp.TableExists = health.TableExists
	resp.ColumnsPresent = append(resp.ColumnsPresent, health.ColumnsPresent...)
	resp.MissingColumns = append(resp.MissingColumns, health.MissingColumns...)
	resp.IntegrityCheck = health.IntegrityCheck
	resp.TotalItems = health.TotalItems
	resp.Error = health.Error
	return err
}
