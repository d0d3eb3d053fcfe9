package testsupport

import (
	"context"
	"fmt"
	"testing"

	"cliparr/internal/config"
	"cliparr/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	s, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

// NewJob creates a show/season/episode/episode-file chain and a job for
// tests using the provided store.
func NewJob(t testing.TB, s *store.Store, title string, season, episode int) *store.ProcessingJob {
	t.Helper()
	ctx := context.Background()

	show, err := s.UpsertShow(ctx, title, "", fmt.Sprintf("/library/%s", title))
	if err != nil {
		t.Fatalf("store.UpsertShow: %v", err)
	}
	seasonRow, err := s.UpsertSeason(ctx, show.ID, season)
	if err != nil {
		t.Fatalf("store.UpsertSeason: %v", err)
	}
	episodeRow, err := s.UpsertEpisode(ctx, seasonRow.ID, episode, "", "")
	if err != nil {
		t.Fatalf("store.UpsertEpisode: %v", err)
	}
	path := fmt.Sprintf("/library/%s/s%02de%02d.mkv", title, season, episode)
	file, err := s.UpsertEpisodeFile(ctx, episodeRow.ID, path, 1024)
	if err != nil {
		t.Fatalf("store.UpsertEpisodeFile: %v", err)
	}

	job, err := s.NewJob(ctx, file.ID)
	if err != nil {
		t.Fatalf("store.NewJob: %v", err)
	}
	return job
}
