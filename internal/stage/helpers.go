package stage

import (
	"context"
	"fmt"
	"os"

	"cliparr/internal/services"
	"cliparr/internal/store"
)

// ResolveEpisodeFilePath looks up the on-disk path for a job's episode file
// and confirms the file still exists, the work the Episode Processor stage
// performs before handing off to the Audio Extractor.
func ResolveEpisodeFilePath(ctx context.Context, s *store.Store, job *store.ProcessingJob) (string, error) {
	file, err := s.EpisodeFileByID(ctx, job.EpisodeFileID)
	if err != nil {
		return "", services.Wrap(
			services.ErrTransient, "processor", "resolve episode file",
			"Could not look up episode file record", err)
	}
	if file == nil {
		return "", services.Wrap(
			services.ErrNotFound, "processor", "resolve episode file",
			fmt.Sprintf("No episode file record for id %d", job.EpisodeFileID), nil)
	}

	if _, statErr := os.Stat(file.Path); statErr != nil {
		return "", services.Wrap(
			services.ErrValidation, "processor", "validate episode file",
			fmt.Sprintf("Episode file missing on disk: %s", file.Path), statErr)
	}

	return file.Path, nil
}
