package store

import (
	"fmt"
	"path/filepath"
	"strings"

	"cliparr/internal/textutil"
)

// StagingRoot returns the per-job scratch directory {base}/job-{id}. Nothing
// in the pipeline calls it.
func (j ProcessingJob) StagingRoot(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	segment := sanitizeSegment(fmt.Sprintf("job-%d", j.ID))
	return filepath.Join(base, segment)
}

func sanitizeSegment(value string) string {
	value = textutil.SanitizeFileName(value)
	if value == "" {
		return ""
	}
	value = strings.ReplaceAll(value, " ", "-")
	value = strings.Trim(value, "-_")
	if value == "" {
		return "job"
	}
	return value
}
