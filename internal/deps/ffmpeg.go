package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// CheckFFmpeg reports the FFmpeg binary the extractor and trimmer stages
// will invoke, resolved from PATH.
func CheckFFmpeg(ffmpegCommand string) Status {
	return checkResolvedBinary("FFmpeg", ffmpegCommand, "Used for audio extraction and final trim encode")
}

// CheckFFprobe reports the ffprobe binary used for media inspection.
func CheckFFprobe(ffprobeCommand string) Status {
	return checkResolvedBinary("FFprobe", ffprobeCommand, "Used to inspect episode file duration and streams")
}

// CheckFpcalc reports the Chromaprint fpcalc binary used for audio fingerprinting.
func CheckFpcalc(fpcalcCommand string) Status {
	return checkResolvedBinary("fpcalc", fpcalcCommand, "Used to compute Chromaprint-style audio fingerprints")
}

func checkResolvedBinary(name, command, description string) Status {
	result := Status{Name: name, Description: description}

	binary := strings.TrimSpace(command)
	if binary == "" {
		result.Detail = "binary not configured"
		return result
	}

	resolved, err := exec.LookPath(binary)
	if err != nil {
		result.Command = binary
		result.Detail = fmt.Sprintf("binary %q not found", binary)
		return result
	}

	result.Command = resolved
	result.Available = true
	return result
}
