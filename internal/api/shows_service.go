package api

import (
	"context"
	"fmt"

	"cliparr/internal/jobs"
	"cliparr/internal/sonarr"
	"cliparr/internal/store"
)

// ShowsService exposes the /shows/* routes: explicit catalog scans,
// rescans that invalidate stored detections, and read access to per-season
// segments and detection stats.
type ShowsService struct {
	store        *store.Store
	syncer       *sonarr.Syncer
	orchestrator *jobs.Orchestrator
}

// NewShowsService constructs a ShowsService. syncer may be nil when Sonarr
// is not configured, in which case Scan returns an error rather than
// silently doing nothing -- unlike the background poller, an explicit API
// call deserves a clear failure. Rescan works from the local catalog and
// does not use the syncer.
func NewShowsService(st *store.Store, syncer *sonarr.Syncer, orchestrator *jobs.Orchestrator) *ShowsService {
	if st == nil {
		return nil
	}
	return &ShowsService{store: st, syncer: syncer, orchestrator: orchestrator}
}

// Scan pulls the Sonarr catalog for the given show IDs (or every show, when
// none are given), upserts it into the job store, and enqueues a job for
// every episode file. POST /shows/scan.
func (s *ShowsService) Scan(ctx context.Context, sonarrSeriesIDs []int64) (ScanResponse, error) {
	if s == nil || s.syncer == nil {
		return ScanResponse{}, fmt.Errorf("sonarr is not configured")
	}
	if len(sonarrSeriesIDs) == 0 {
		scanned, enqueued, err := s.syncer.ScanAll(ctx)
		if err != nil {
			return ScanResponse{}, err
		}
		return ScanResponse{Scanned: scanned, Enqueued: enqueued}, nil
	}
	resp := ScanResponse{}
	for _, id := range sonarrSeriesIDs {
		enqueued, err := s.syncer.ScanSeries(ctx, id)
		if err != nil {
			return ScanResponse{}, err
		}
		resp.Scanned++
		resp.Enqueued += enqueued
	}
	return resp, nil
}

// Rescan invalidates stored detection results for the given shows and
// resubmits every episode file in them, so the pipeline recomputes
// detections from scratch (POST /shows/rescan).
func (s *ShowsService) Rescan(ctx context.Context, showIDs []int64) (ScanResponse, error) {
	if s == nil || s.store == nil {
		return ScanResponse{}, nil
	}
	resp := ScanResponse{}
	for _, showID := range showIDs {
		if _, err := s.store.DeleteDetectionResultsForShow(ctx, showID); err != nil {
			return ScanResponse{}, fmt.Errorf("invalidate detections for show %d: %w", showID, err)
		}
		fileIDs, err := s.store.EpisodeFileIDsForShow(ctx, showID)
		if err != nil {
			return ScanResponse{}, fmt.Errorf("list episode files for show %d: %w", showID, err)
		}
		resp.Scanned++
		for _, fileID := range fileIDs {
			if s.orchestrator == nil {
				continue
			}
			existing, err := s.store.GetJobByEpisodeFile(ctx, fileID)
			if err != nil {
				return ScanResponse{}, fmt.Errorf("lookup job for episode file %d: %w", fileID, err)
			}
			if existing != nil {
				if _, err := s.orchestrator.Requeue(ctx, existing.ID); err != nil {
					return ScanResponse{}, fmt.Errorf("requeue episode file %d: %w", fileID, err)
				}
			} else if _, err := s.orchestrator.Submit(ctx, fileID); err != nil {
				return ScanResponse{}, fmt.Errorf("submit episode file %d: %w", fileID, err)
			}
			resp.Enqueued++
		}
	}
	return resp, nil
}

// DetectionStats aggregates detection approval counts for a show
// (GET /shows/{id}/detection-stats).
func (s *ShowsService) DetectionStats(ctx context.Context, showID int64) (DetectionStatsResponse, error) {
	if s == nil || s.store == nil {
		return DetectionStatsResponse{}, nil
	}
	stats, err := s.store.DetectionStatsForShow(ctx, showID)
	if err != nil {
		return DetectionStatsResponse{}, err
	}
	out := DetectionStatsResponse{ShowID: showID, Counts: make(map[string]int, len(stats))}
	for status, count := range stats {
		out.Counts[string(status)] = count
		out.Total += count
	}
	return out, nil
}

// Segments returns the detected segments for every episode in a show's
// season (GET /shows/{id}/segments?season=N).
func (s *ShowsService) Segments(ctx context.Context, showID int64, seasonNumber int) (SegmentsResponse, error) {
	if s == nil || s.store == nil {
		return SegmentsResponse{}, nil
	}
	results, err := s.store.DetectionResultsForShowSeason(ctx, showID, seasonNumber)
	if err != nil {
		return SegmentsResponse{}, err
	}
	return SegmentsResponse{
		ShowID:       showID,
		SeasonNumber: seasonNumber,
		Episodes:     FromDetectionResults(results),
	}, nil
}
