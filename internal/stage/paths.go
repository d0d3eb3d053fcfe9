package stage

import (
	"fmt"
	"path/filepath"
	"strings"
)

// AudioWAVPath returns the scratch WAV path for a job's extracted audio:
// {temp_dir}/audio/{job_id}-{episode_file_id}.wav. Encoding both ids in the
// name lets cleanup find every artifact a job owns.
func AudioWAVPath(tempDir string, jobID, episodeFileID int64) string {
	return filepath.Join(strings.TrimSpace(tempDir), "audio", fmt.Sprintf("%d-%d.wav", jobID, episodeFileID))
}

// OutputPath resolves the trimmed output location for a source file,
// preserving its path relative to the show's library root under
// output_directory.
func OutputPath(outputDir, showPath, sourcePath string) (string, error) {
	rel, err := relativeUnderShow(showPath, sourcePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(strings.TrimSpace(outputDir), rel), nil
}

// BackupPath resolves where the original file is preserved when
// backup_originals is enabled: {output_directory}/.backup/{relative_path}.
func BackupPath(outputDir, showPath, sourcePath string) (string, error) {
	rel, err := relativeUnderShow(showPath, sourcePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(strings.TrimSpace(outputDir), ".backup", rel), nil
}

func relativeUnderShow(showPath, sourcePath string) (string, error) {
	showPath = strings.TrimSpace(showPath)
	sourcePath = strings.TrimSpace(sourcePath)
	if showPath == "" {
		return filepath.Base(sourcePath), nil
	}
	rel, err := filepath.Rel(showPath, sourcePath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.Base(sourcePath), nil
	}
	return rel, nil
}
