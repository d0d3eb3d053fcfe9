package stage

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// ProgressFunc receives a percent in [0, 100], the decode frame rate when
// FFmpeg reports one, and an optional status string (e.g. encode speed)
// whenever a new sample clears the throttle interval.
type ProgressFunc func(percent float64, fps float64, status string)

// StreamFFmpegProgress reads lines from an FFmpeg `-progress pipe:1` stream
// and calls fn with the derived percent-complete, throttled to at most one
// call per minInterval. totalSeconds is the known duration of the operation;
// callers pass 0 when duration is unknown, in which case progress is never
// emitted (the caller should fall back to stage/message-only updates).
func StreamFFmpegProgress(r io.Reader, totalSeconds float64, minInterval time.Duration, fn ProgressFunc) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var lastEmit time.Time
	var outTimeSeconds float64
	var fps float64
	var speed string

	emit := func(force bool) {
		if fn == nil || totalSeconds <= 0 {
			return
		}
		now := time.Now()
		if !force && !lastEmit.IsZero() && now.Sub(lastEmit) < minInterval {
			return
		}
		lastEmit = now
		percent := outTimeSeconds / totalSeconds * 100
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		fn(percent, fps, speed)
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "out_time_us", "out_time_ms":
			// FFmpeg's `-progress` output reports both keys in
			// microseconds despite the "_ms" name.
			if us, err := strconv.ParseFloat(value, 64); err == nil {
				outTimeSeconds = us / 1_000_000
			}
			emit(false)
		case "fps":
			if parsed, err := strconv.ParseFloat(value, 64); err == nil {
				fps = parsed
			}
		case "speed":
			speed = value
		case "progress":
			if value == "end" {
				emit(true)
			}
		}
	}
}
