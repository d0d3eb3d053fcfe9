package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cliparr/internal/stage"
	"cliparr/internal/store"
	"cliparr/internal/workflow"
)

func floatPtr(v float64) *float64 { return &v }

func TestFromJobListEntry(t *testing.T) {
	entry := store.JobListEntry{
		Job: store.ProcessingJob{
			ID:              7,
			EpisodeFileID:   11,
			Status:          store.StatusDetected,
			ConfidenceScore: 0.92,
			IntroStart:      floatPtr(0),
			IntroEnd:        floatPtr(30),
			ProgressStage:   "Detecting",
			ProgressPercent: 100,
		},
		EpisodeFile:   store.EpisodeFile{ID: 11, Path: "/library/Night Court/s01e01.mkv"},
		ShowID:        3,
		ShowTitle:     "Night Court",
		SeasonNumber:  1,
		EpisodeNumber: 1,
		EpisodeTitle:  "All You Need Is Love",
	}

	dto := FromJobListEntry(entry)
	assert.Equal(t, int64(7), dto.ID)
	assert.Equal(t, int64(11), dto.EpisodeFileID)
	assert.Equal(t, "Night Court", dto.ShowTitle)
	assert.Equal(t, "/library/Night Court/s01e01.mkv", dto.FilePath)
	assert.Equal(t, "detected", dto.Status)
	assert.Equal(t, "Detecting", dto.Progress.Stage)
	require.NotNil(t, dto.IntroEnd)
	assert.Equal(t, 30.0, *dto.IntroEnd)
}

func TestFromJobNilIsZero(t *testing.T) {
	assert.Equal(t, ProcessingJob{}, FromJob(nil))
}

func TestFromDetectionResult(t *testing.T) {
	result := &store.DetectionResult{
		EpisodeNumber:   4,
		IntroStart:      floatPtr(0),
		IntroEnd:        floatPtr(30),
		Stingers:        []store.Segment{{Kind: "stinger", Start: 700, End: 715}},
		Segments:        []store.Segment{{Kind: "intro", Start: 0, End: 30}},
		ConfidenceScore: 0.8,
		DetectionMethod: "cross_episode_cluster",
		ApprovalStatus:  store.ApprovalAutoApproved,
	}

	dto := FromDetectionResult(result)
	assert.Equal(t, 4, dto.EpisodeNumber)
	assert.Equal(t, "auto_approved", dto.ApprovalStatus)
	require.Len(t, dto.Stingers, 1)
	assert.Equal(t, 700.0, dto.Stingers[0].Start)
	require.Len(t, dto.Segments, 1)
	assert.Equal(t, "intro", dto.Segments[0].Kind)

	assert.Equal(t, DetectionResult{}, FromDetectionResult(nil))
}

func TestFromStatusSummary(t *testing.T) {
	summary := workflow.StatusSummary{
		Running:   true,
		LastError: "boom",
		LastJob:   &store.ProcessingJob{ID: 9, Status: store.StatusTrimming},
		QueueStats: map[store.Status]int{
			store.StatusScanning:  2,
			store.StatusCompleted: 5,
		},
		StageHealth: map[string]stage.Health{
			"detector": {Name: "detector", Ready: true},
		},
	}

	dto := FromStatusSummary(summary)
	assert.True(t, dto.Running)
	assert.Equal(t, "boom", dto.LastError)
	assert.Equal(t, 2, dto.QueueStats["scanning"])
	assert.Equal(t, 5, dto.QueueStats["completed"])
	require.NotNil(t, dto.LastJob)
	assert.Equal(t, "trimming", dto.LastJob.Status)
	require.Len(t, dto.StageHealth, 1)
	assert.Equal(t, "detector", dto.StageHealth[0].Name)
	assert.True(t, dto.StageHealth[0].Ready)
}
