// Package detector implements the cross-episode clustering stage: once
// every episode of a cohort has fingerprints stored, it clusters
// fingerprints that recur across the cohort, classifies the resulting
// segments as intro/credits/stinger, and writes one DetectionResult per
// episode.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"cliparr/internal/broker"
	"cliparr/internal/config"
	"cliparr/internal/fingerprint"
	"cliparr/internal/logging"
	"cliparr/internal/metrics"
	"cliparr/internal/services"
	"cliparr/internal/stage"
	"cliparr/internal/store"
)

// cohortLockTTL bounds how long a cohort's distributed lock survives a
// daemon process that dies mid-cluster. Long enough for the largest
// realistic cohort, short enough that a crashed holder doesn't wedge the
// cohort forever.
const cohortLockTTL = 5 * time.Minute

// deferSleep throttles re-pickup of a job the detector defers back to
// awaiting_cohort; the manager's run loop has no backoff of its own between
// successfully processed jobs, so without this a worker would spin tightly
// re-claiming the same not-yet-ready cohort.
const deferSleep = 2 * time.Second

// statusRank orders ProcessingJob statuses for the cohort-ready predicate's
// "status >= awaiting_cohort" comparison.
var statusRank = map[store.Status]int{
	store.StatusScanning:        0,
	store.StatusExtractingAudio: 1,
	store.StatusFingerprinting:  2,
	store.StatusAwaitingCohort:  3,
	store.StatusDetecting:       4,
	store.StatusDetected:        5,
	store.StatusVerified:        6,
	store.StatusTrimming:        7,
	store.StatusCompleted:       8,
}

// Detector is the Stage 4 handler.
type Detector struct {
	cfg    *config.Config
	store  *store.Store
	broker *broker.Broker
	logger *slog.Logger

	// cohortMu serializes goroutines within this process; it is held
	// regardless of whether a broker is configured. CohortLock layers a
	// cross-process lock on top of it when b is non-nil.
	cohortMu sync.Map // map[string]*sync.Mutex keyed by "showID:season"
}

// New constructs a Detector. b may be nil, in which case cohort locking is
// scoped to this process only (no cross-daemon mutual exclusion).
func New(cfg *config.Config, s *store.Store, logger *slog.Logger, b *broker.Broker) *Detector {
	d := &Detector{cfg: cfg, store: s, broker: b}
	d.SetLogger(logger)
	return d
}

// SetLogger implements stage.LoggerAware.
func (d *Detector) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = logging.NewNop()
	}
	d.logger = logger.With(logging.String("component", "detector"))
}

// Prepare sets initial progress metadata.
func (d *Detector) Prepare(ctx context.Context, job *store.ProcessingJob) error {
	job.ProgressStage = "Detecting"
	job.ProgressMessage = "Checking cohort readiness"
	job.ProgressPercent = 0
	return nil
}

// Execute runs the cohort-ready predicate and, when satisfied, clusters the
// cohort's fingerprints and writes a DetectionResult per cohort episode.
func (d *Detector) Execute(ctx context.Context, job *store.ProcessingJob) error {
	logger := logging.WithContext(ctx, d.logger)

	info, err := d.store.EpisodeInfo(ctx, job.EpisodeFileID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "detector", "resolve episode info", "Could not look up episode identity", err)
	}
	if info == nil {
		return services.Wrap(services.ErrNotFound, "detector", "resolve episode info", "No episode identity for episode file", nil)
	}

	cohortFiles, err := d.store.CohortEpisodeFiles(ctx, job.EpisodeFileID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "detector", "load cohort", "Could not load cohort episode files", err)
	}

	mutex := d.lockFor(info.ShowID, info.SeasonNumber)
	mutex.Lock()
	defer mutex.Unlock()

	if d.broker != nil {
		release, acquired, lockErr := d.broker.CohortLock(ctx, info.ShowID, info.SeasonNumber, cohortLockTTL)
		if lockErr != nil {
			logger.Warn("cohort lock unavailable, proceeding with process-local lock only",
				logging.Error(lockErr), logging.Int64("show_id", info.ShowID), logging.Int("season", info.SeasonNumber))
		} else if !acquired {
			logger.Debug("cohort locked by another process, deferring",
				logging.Int64("show_id", info.ShowID), logging.Int("season", info.SeasonNumber))
			job.Status = store.StatusAwaitingCohort
			job.ProgressMessage = "Waiting for cohort"
			select {
			case <-ctx.Done():
			case <-time.After(deferSleep):
			}
			return nil
		} else {
			defer release()
		}
	}

	cohortJobs, ready, err := d.cohortReady(ctx, cohortFiles)
	if err != nil {
		return err
	}
	if !ready {
		logger.Debug("cohort not ready, deferring", logging.Int64("show_id", info.ShowID), logging.Int("season", info.SeasonNumber))
		job.Status = store.StatusAwaitingCohort
		job.ProgressMessage = "Waiting for cohort"
		select {
		case <-ctx.Done():
		case <-time.After(deferSleep):
		}
		return nil
	}

	result, err := d.cluster(ctx, info.ShowID, info.SeasonNumber, cohortFiles)
	if err != nil {
		return err
	}

	if err := d.store.UpsertDetectionResultsTx(ctx, result.perEpisode); err != nil {
		return services.Wrap(services.ErrTransient, "detector", "persist detections", "Could not write cohort detection results", err)
	}

	// Advance every cohort job that is sitting in awaiting_cohort, plus the
	// triggering job itself (already claimed into detecting), since detection
	// is cohort-wide.
	for _, cj := range cohortJobs {
		if cj.Status != store.StatusAwaitingCohort && cj.EpisodeFileID != job.EpisodeFileID {
			continue
		}
		episodeResult := result.forEpisodeFile[cj.EpisodeFileID]
		if episodeResult == nil {
			continue
		}
		cj.ConfidenceScore = episodeResult.ConfidenceScore
		cj.IntroStart = episodeResult.IntroStart
		cj.IntroEnd = episodeResult.IntroEnd
		cj.CreditsStart = episodeResult.CreditsStart
		cj.CreditsEnd = episodeResult.CreditsEnd
		cj.ProcessingNotes = appendNote(cj.ProcessingNotes, episodeResult.ProcessingNotes)
		cj.Status = store.StatusDetected
		if d.cfg.AutoProcessVerified && episodeResult.ConfidenceScore >= d.cfg.MinConfidenceThreshold {
			cj.Status = store.StatusVerified
		}
		cj.ProgressStage = "Detecting"
		cj.ProgressMessage = "Detection complete"
		cj.ProgressPercent = 100
		if cj.EpisodeFileID == job.EpisodeFileID {
			*job = *cj
			continue
		}
		if err := d.store.UpdateJob(ctx, cj); err != nil {
			logger.Warn("failed to advance cohort sibling job", logging.Error(err), logging.Int64("job_id", cj.ID))
		}
	}

	logger.Info("cohort detection complete",
		logging.Int64("show_id", info.ShowID), logging.Int("season", info.SeasonNumber),
		logging.Int("cohort_size", len(cohortFiles)), logging.Float64("confidence", result.confidence))
	return nil
}

// HealthCheck reports the detector as healthy whenever the store is wired;
// clustering has no external subprocess dependency.
func (d *Detector) HealthCheck(ctx context.Context) stage.Health {
	if d.store == nil {
		return stage.Unhealthy("detector", "store not configured")
	}
	return stage.Healthy("detector")
}

func (d *Detector) lockFor(showID int64, season int) *sync.Mutex {
	key := fmt.Sprintf("%d:%d", showID, season)
	actual, _ := d.cohortMu.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// cohortReady reports whether detection may run: at least K =
// min(cohort_min_episodes, |cohort|) episodes at status >= awaiting_cohort,
// and no cohort job updated within the debounce window.
func (d *Detector) cohortReady(ctx context.Context, cohortFiles []*store.EpisodeFile) ([]*store.ProcessingJob, bool, error) {
	jobs := make([]*store.ProcessingJob, 0, len(cohortFiles))
	readyCount := 0
	debounce := time.Duration(d.cfg.CohortDebounceSeconds) * time.Second
	now := time.Now()

	for _, file := range cohortFiles {
		j, err := d.store.GetJobByEpisodeFile(ctx, file.ID)
		if err != nil {
			return nil, false, services.Wrap(services.ErrTransient, "detector", "cohort readiness", "Could not load cohort job", err)
		}
		if j == nil {
			continue
		}
		jobs = append(jobs, j)
		if statusRank[j.Status] >= statusRank[store.StatusAwaitingCohort] {
			readyCount++
		}
		if now.Sub(j.UpdatedAt) < debounce {
			return jobs, false, nil
		}
	}

	k := d.cfg.CohortMinEpisodes
	if k > len(cohortFiles) {
		k = len(cohortFiles)
	}
	if k < 1 {
		k = 1
	}
	return jobs, readyCount >= k, nil
}

type episodeWindow struct {
	episodeFileID int64
	start         float64
}

type bucket struct {
	representative []uint32
	entries        []episodeWindow
}

func (b *bucket) episodeSet() map[int64]struct{} {
	set := make(map[int64]struct{}, len(b.entries))
	for _, e := range b.entries {
		set[e.episodeFileID] = struct{}{}
	}
	return set
}

func (b *bucket) median() float64 {
	starts := make([]float64, len(b.entries))
	for i, e := range b.entries {
		starts[i] = e.start
	}
	sort.Float64s(starts)
	return starts[len(starts)/2]
}

func (b *bucket) bounds() (min, max float64) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, e := range b.entries {
		if e.start < min {
			min = e.start
		}
		if e.start > max {
			max = e.start
		}
	}
	return
}

type segmentCandidate struct {
	kind       string
	start      float64
	end        float64
	episodeSet map[int64]struct{}
}

func (s segmentCandidate) duration() float64 { return s.end - s.start }

type clusterResult struct {
	perEpisode     []*store.DetectionResult
	forEpisodeFile map[int64]*store.DetectionResult
	confidence     float64
}

// cluster buckets one cohort's fingerprints by Hamming distance, keeps the
// buckets common to enough episodes, classifies them by median timestamp,
// and emits per-episode results.
func (d *Detector) cluster(ctx context.Context, showID int64, season int, cohortFiles []*store.EpisodeFile) (*clusterResult, error) {
	windowSeconds := float64(d.cfg.FingerprintWindowSeconds)
	delta := d.cfg.SimilarityThreshold
	tau := d.cfg.CohortCommonFraction
	mergeGap := windowSeconds
	minSegmentSeconds := windowSeconds

	durations := make(map[int64]float64, len(cohortFiles))
	var buckets []*bucket

	for _, file := range cohortFiles {
		fps, err := d.store.FingerprintsForEpisodeFile(ctx, file.ID)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "detector", "load fingerprints", "Could not load cohort fingerprints", err)
		}
		for _, fp := range fps {
			if fp.WindowEnd > durations[file.ID] {
				durations[file.ID] = fp.WindowEnd
			}
			placed := false
			for _, b := range buckets {
				if fingerprint.Distance(b.representative, fp.Hash) <= delta {
					b.entries = append(b.entries, episodeWindow{episodeFileID: file.ID, start: fp.WindowStart})
					placed = true
					break
				}
			}
			if !placed {
				buckets = append(buckets, &bucket{representative: fp.Hash, entries: []episodeWindow{{episodeFileID: file.ID, start: fp.WindowStart}}})
			}
		}
	}

	cohortSize := len(cohortFiles)
	threshold := int(math.Ceil(tau * float64(cohortSize)))
	if threshold < 1 {
		threshold = 1
	}

	avgDuration, variance := durationStats(durations)
	introWindow := math.Min(0.2*avgDuration, 180)
	creditsWindow := math.Min(0.2*avgDuration, 180)

	var introCandidates, creditsCandidates, stingerCandidates []*bucket
	for _, b := range buckets {
		if len(b.episodeSet()) < threshold {
			continue
		}
		median := b.median()
		switch {
		case median < introWindow:
			introCandidates = append(introCandidates, b)
		case median > avgDuration-creditsWindow:
			creditsCandidates = append(creditsCandidates, b)
		default:
			stingerCandidates = append(stingerCandidates, b)
		}
	}

	introSegments := mergeBuckets("intro", introCandidates, mergeGap, windowSeconds)
	creditsSegments := mergeBuckets("credits", creditsCandidates, mergeGap, windowSeconds)
	stingerSegments := mergeBuckets("stinger", stingerCandidates, mergeGap, windowSeconds)

	introSegments = discardShort(introSegments, minSegmentSeconds)
	creditsSegments = discardShort(creditsSegments, minSegmentSeconds)
	stingerSegments = discardShort(stingerSegments, minSegmentSeconds)

	var intro, credits *segmentCandidate
	if len(introSegments) > 0 {
		intro = longest(introSegments)
	}
	if len(creditsSegments) > 0 {
		credits = longest(creditsSegments)
	}
	if intro != nil && credits != nil && overlapsMoreThanHalf(*intro, *credits) {
		// Earlier segment (intro) wins the boundary; trim credits.
		if credits.start < intro.end {
			credits.start = intro.end
		}
	}

	emitted := make([]segmentCandidate, 0, 2+len(stingerSegments))
	if intro != nil {
		emitted = append(emitted, *intro)
	}
	if credits != nil {
		emitted = append(emitted, *credits)
	}
	emitted = append(emitted, stingerSegments...)

	confidence := 0.0
	if len(emitted) > 0 {
		sum := 0.0
		for _, seg := range emitted {
			sum += float64(len(seg.episodeSet)) / float64(cohortSize)
		}
		confidence = sum / float64(len(emitted))
	}
	notes := ""
	if variance > 0.10 {
		notes = "duration_variance"
		confidence -= 0.1
	}
	if cohortSize <= 2 {
		if confidence > 0.5 {
			confidence = 0.5
		}
		notes = appendNote(notes, "single_episode_cohort")
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	metrics.DetectionConfidence.Observe(confidence)

	result := &clusterResult{
		forEpisodeFile: make(map[int64]*store.DetectionResult, len(cohortFiles)),
		confidence:     confidence,
	}
	for _, file := range cohortFiles {
		dr := &store.DetectionResult{
			ShowID:          showID,
			SeasonNumber:    season,
			ConfidenceScore: confidence,
			DetectionMethod: "cross_episode_cluster",
			ProcessingNotes: notes,
		}
		if ep, err := d.episodeNumber(ctx, file.ID); err == nil {
			dr.EpisodeNumber = ep
		}
		if intro != nil {
			if _, ok := intro.episodeSet[file.ID]; ok {
				start, end := intro.start, intro.end
				dr.IntroStart, dr.IntroEnd = &start, &end
			}
		}
		if credits != nil {
			if _, ok := credits.episodeSet[file.ID]; ok {
				start, end := credits.start, credits.end
				dr.CreditsStart, dr.CreditsEnd = &start, &end
			}
		}
		for _, seg := range stingerSegments {
			if _, ok := seg.episodeSet[file.ID]; ok {
				dr.Stingers = append(dr.Stingers, store.Segment{Kind: "stinger", Start: seg.start, End: seg.end})
			}
		}
		dr.Segments = append(dr.Segments, dr.Stingers...)
		if dr.IntroStart != nil {
			dr.Segments = append(dr.Segments, store.Segment{Kind: "intro", Start: *dr.IntroStart, End: *dr.IntroEnd})
		}
		if dr.CreditsStart != nil {
			dr.Segments = append(dr.Segments, store.Segment{Kind: "credits", Start: *dr.CreditsStart, End: *dr.CreditsEnd})
		}
		if d.cfg.AutoProcessVerified && confidence >= d.cfg.MinConfidenceThreshold {
			dr.ApprovalStatus = store.ApprovalAutoApproved
		} else {
			dr.ApprovalStatus = store.ApprovalPending
		}
		result.perEpisode = append(result.perEpisode, dr)
		result.forEpisodeFile[file.ID] = dr
	}
	return result, nil
}

func (d *Detector) episodeNumber(ctx context.Context, episodeFileID int64) (int, error) {
	file, err := d.store.EpisodeFileByID(ctx, episodeFileID)
	if err != nil || file == nil {
		return 0, err
	}
	info, err := d.store.EpisodeInfo(ctx, episodeFileID)
	if err != nil || info == nil {
		return 0, err
	}
	return info.EpisodeNumber, nil
}

func durationStats(durations map[int64]float64) (avg, variance float64) {
	if len(durations) == 0 {
		return 0, 0
	}
	min, max, sum := math.Inf(1), math.Inf(-1), 0.0
	for _, d := range durations {
		sum += d
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	avg = sum / float64(len(durations))
	if avg > 0 {
		variance = (max - min) / avg
	}
	return
}

// mergeBuckets sorts candidate buckets by median time and merges adjacent
// ones within mergeGap.
func mergeBuckets(kind string, buckets []*bucket, mergeGap, windowSeconds float64) []segmentCandidate {
	if len(buckets) == 0 {
		return nil
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].median() < buckets[j].median() })

	var segments []segmentCandidate
	cur := segmentCandidate{kind: kind, episodeSet: map[int64]struct{}{}}
	curMin, curMax := math.Inf(1), math.Inf(-1)
	lastMedian := math.Inf(-1)
	flush := func() {
		if len(cur.episodeSet) == 0 {
			return
		}
		cur.start = curMin
		cur.end = curMax + windowSeconds
		segments = append(segments, cur)
	}
	for _, b := range buckets {
		median := b.median()
		if lastMedian != math.Inf(-1) && median-lastMedian > mergeGap {
			flush()
			cur = segmentCandidate{kind: kind, episodeSet: map[int64]struct{}{}}
			curMin, curMax = math.Inf(1), math.Inf(-1)
		}
		bMin, bMax := b.bounds()
		if bMin < curMin {
			curMin = bMin
		}
		if bMax > curMax {
			curMax = bMax
		}
		for ep := range b.episodeSet() {
			cur.episodeSet[ep] = struct{}{}
		}
		lastMedian = median
	}
	flush()
	return segments
}

func discardShort(segments []segmentCandidate, minSeconds float64) []segmentCandidate {
	kept := make([]segmentCandidate, 0, len(segments))
	for _, seg := range segments {
		if seg.duration() >= minSeconds {
			kept = append(kept, seg)
		}
	}
	return kept
}

// longest picks the longest segment, preferring the earlier start on ties.
func longest(segments []segmentCandidate) *segmentCandidate {
	best := segments[0]
	for _, seg := range segments[1:] {
		if seg.duration() > best.duration() || (seg.duration() == best.duration() && seg.start < best.start) {
			best = seg
		}
	}
	return &best
}

func overlapsMoreThanHalf(a, b segmentCandidate) bool {
	overlapStart := math.Max(a.start, b.start)
	overlapEnd := math.Min(a.end, b.end)
	overlap := overlapEnd - overlapStart
	if overlap <= 0 {
		return false
	}
	shorter := math.Min(a.duration(), b.duration())
	if shorter <= 0 {
		return false
	}
	return overlap/shorter > 0.5
}

func appendNote(existing, note string) string {
	if note == "" {
		return existing
	}
	if existing == "" {
		return note
	}
	return existing + ";" + note
}
