package sonarr

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"cliparr/internal/config"
	"cliparr/internal/jobs"
	"cliparr/internal/logging"
	"cliparr/internal/notifications"
	"cliparr/internal/store"
)

// Syncer periodically pulls the Sonarr catalog into the job store and, when
// configured, submits jobs for newly imported episode files. It is the
// import poller responsible for keeping the catalog current.
type Syncer struct {
	client   *Client
	store    *store.Store
	jobs     *jobs.Orchestrator
	notifier notifications.Service
	logger   *slog.Logger

	importMode   string
	pollInterval time.Duration
}

// NewSyncer constructs a Syncer. client may be nil when Sonarr is not
// configured, in which case Run exits immediately without error -- a
// deliberately running-but-idle daemon is preferable to a hard startup
// failure, since the pipeline can still work through jobs already in the
// store. ScanAll and ScanSeries need the client and return an error without
// it.
func NewSyncer(client *Client, st *store.Store, orchestrator *jobs.Orchestrator, notifier notifications.Service, cfg *config.Config, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Syncer{
		client:       client,
		store:        st,
		jobs:         orchestrator,
		notifier:     notifier,
		logger:       logging.NewComponentLogger(logger, "sonarr_sync"),
		importMode:   cfg.ImportMode,
		pollInterval: time.Duration(cfg.PollingInterval) * time.Second,
	}
}

// Run polls Sonarr on cfg.PollingInterval until ctx is cancelled. Errors from
// a single poll are logged and swallowed; transient Sonarr unavailability
// must never bring the daemon down.
func (s *Syncer) Run(ctx context.Context) {
	if s.client == nil {
		s.logger.Info("sonarr not configured, import poller disabled")
		return
	}
	if err := s.pollOnce(ctx); err != nil {
		s.logger.Warn("initial sonarr sync failed", logging.Error(err))
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.pollOnce(ctx); err != nil {
				s.logger.Warn("sonarr sync failed", logging.Error(err))
			}
		}
	}
}

// SyncAll pulls every series Sonarr tracks, submitting jobs for new episode
// files only when import_mode is "auto". Used by the background poller.
func (s *Syncer) SyncAll(ctx context.Context) error {
	_, _, err := s.syncAllSeries(ctx, s.importMode == "auto")
	return err
}

// ScanAll pulls every series and submits a job for every episode file
// regardless of import_mode; an explicit POST /shows/scan always enqueues.
// Returns the number of shows scanned and jobs enqueued.
func (s *Syncer) ScanAll(ctx context.Context) (scanned, enqueued int, err error) {
	return s.syncAllSeries(ctx, true)
}

// ScanSeries pulls a single series by its Sonarr ID and submits a job for
// every episode file in it. Returns the number of jobs enqueued.
func (s *Syncer) ScanSeries(ctx context.Context, seriesID int64) (int, error) {
	sr, err := s.client.Series(ctx, seriesID)
	if err != nil {
		return 0, fmt.Errorf("fetch sonarr series %d: %w", seriesID, err)
	}
	return s.syncSeries(ctx, *sr, true)
}

// syncSeriesConcurrency bounds how many series sync at once; each series
// issues three Sonarr requests plus a run of store upserts, and Sonarr
// instances tolerate a handful of parallel API calls comfortably.
const syncSeriesConcurrency = 4

func (s *Syncer) syncAllSeries(ctx context.Context, submit bool) (scanned, enqueued int, err error) {
	series, err := s.client.AllSeries(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list sonarr series: %w", err)
	}

	var scannedCount, enqueuedCount atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(syncSeriesConcurrency)
	for _, sr := range series {
		group.Go(func() error {
			count, syncErr := s.syncSeries(groupCtx, sr, submit)
			if syncErr != nil {
				// A single broken series must not abort the sweep.
				s.logger.Warn("sync series failed", slog.Int64("series_id", sr.ID), logging.Error(syncErr))
				return nil
			}
			scannedCount.Add(1)
			enqueuedCount.Add(int64(count))
			return nil
		})
	}
	if waitErr := group.Wait(); waitErr != nil {
		return int(scannedCount.Load()), int(enqueuedCount.Load()), waitErr
	}
	return int(scannedCount.Load()), int(enqueuedCount.Load()), nil
}

func (s *Syncer) pollOnce(ctx context.Context) error {
	if s.importMode == "none" {
		return nil
	}
	return s.SyncAll(ctx)
}

func (s *Syncer) syncSeries(ctx context.Context, sr Series, submit bool) (int, error) {
	show, err := s.store.UpsertShow(ctx, sr.Title, fmt.Sprintf("%d", sr.TVDBID), sr.Path)
	if err != nil {
		return 0, fmt.Errorf("upsert show %q: %w", sr.Title, err)
	}

	episodes, err := s.client.EpisodesBySeries(ctx, sr.ID)
	if err != nil {
		return 0, fmt.Errorf("list episodes for series %d: %w", sr.ID, err)
	}
	files, err := s.client.EpisodeFilesBySeries(ctx, sr.ID)
	if err != nil {
		return 0, fmt.Errorf("list episode files for series %d: %w", sr.ID, err)
	}
	filesByID := make(map[int64]EpisodeFile, len(files))
	for _, f := range files {
		filesByID[f.ID] = f
	}

	enqueued := 0
	for _, ep := range episodes {
		if !ep.HasFile {
			continue
		}
		file, ok := filesByID[ep.EpisodeFileID]
		if !ok {
			continue
		}

		season, err := s.store.UpsertSeason(ctx, show.ID, ep.SeasonNumber)
		if err != nil {
			return enqueued, fmt.Errorf("upsert season %d: %w", ep.SeasonNumber, err)
		}
		episode, err := s.store.UpsertEpisode(ctx, season.ID, ep.EpisodeNumber, ep.Title, fmt.Sprintf("%d", ep.ID))
		if err != nil {
			return enqueued, fmt.Errorf("upsert episode %d: %w", ep.EpisodeNumber, err)
		}
		episodeFile, err := s.store.UpsertEpisodeFile(ctx, episode.ID, file.Path, file.Size)
		if err != nil {
			return enqueued, fmt.Errorf("upsert episode file %q: %w", file.Path, err)
		}

		if !submit || s.jobs == nil {
			continue
		}
		job, err := s.jobs.Submit(ctx, episodeFile.ID)
		if err != nil {
			return enqueued, fmt.Errorf("submit job for episode file %d: %w", episodeFile.ID, err)
		}
		if job != nil {
			enqueued++
			if s.notifier != nil {
				_ = s.notifier.Publish(ctx, notifications.EventQueueStarted, notifications.Payload{
					"show":            show.Title,
					"season":          ep.SeasonNumber,
					"episode":         ep.EpisodeNumber,
					"episode_file_id": episodeFile.ID,
				})
			}
		}
	}
	return enqueued, nil
}
