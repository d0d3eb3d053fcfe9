package trimmer

import (
	"testing"

	"cliparr/internal/media/ffprobe"
	"cliparr/internal/store"
)

func f(v float64) *float64 { return &v }

func TestCutRangesOrdersIntroAndCredits(t *testing.T) {
	result := &store.DetectionResult{
		IntroStart:   f(0),
		IntroEnd:     f(30),
		CreditsStart: f(1380),
		CreditsEnd:   f(1440),
		Stingers:     []store.Segment{{Kind: "stinger", Start: 700, End: 715}},
	}

	cuts := cutRanges(result, false)
	if len(cuts) != 2 {
		t.Fatalf("expected stingers excluded by default, got %d cuts", len(cuts))
	}

	cuts = cutRanges(result, true)
	if len(cuts) != 3 {
		t.Fatalf("expected 3 cuts with stinger removal, got %d", len(cuts))
	}
	if cuts[0].start != 0 || cuts[1].start != 700 || cuts[2].start != 1380 {
		t.Fatalf("cuts not sorted by start: %#v", cuts)
	}
}

func TestKeepRangesComplementsCuts(t *testing.T) {
	keep := keepRanges(1440, []timeRange{{0, 30}, {1380, 1440}})
	if len(keep) != 1 {
		t.Fatalf("expected a single surviving range, got %#v", keep)
	}
	if keep[0].start != 30 || keep[0].end != 1380 {
		t.Fatalf("keep = [%v, %v], want [30, 1380]", keep[0].start, keep[0].end)
	}

	keep = keepRanges(1440, []timeRange{{600, 630}})
	if len(keep) != 2 {
		t.Fatalf("expected two surviving ranges, got %#v", keep)
	}
	if keep[0].start != 0 || keep[0].end != 600 || keep[1].start != 630 || keep[1].end != 1440 {
		t.Fatalf("unexpected ranges: %#v", keep)
	}
}

func TestKeepRangesClampsOutOfBoundsCuts(t *testing.T) {
	keep := keepRanges(100, []timeRange{{-5, 10}, {90, 200}})
	if len(keep) != 1 || keep[0].start != 10 || keep[0].end != 90 {
		t.Fatalf("unexpected ranges: %#v", keep)
	}
}

func TestKeepRangesNoCutsKeepsWholeFile(t *testing.T) {
	keep := keepRanges(100, nil)
	if len(keep) != 1 || keep[0].start != 0 || keep[0].end != 100 {
		t.Fatalf("unexpected ranges: %#v", keep)
	}
}

func TestKeepRangesOverlappingCutsMerge(t *testing.T) {
	keep := keepRanges(100, []timeRange{{10, 40}, {30, 50}})
	if len(keep) != 2 {
		t.Fatalf("expected two ranges, got %#v", keep)
	}
	if keep[0].end != 10 || keep[1].start != 50 {
		t.Fatalf("overlapping cuts should merge: %#v", keep)
	}
}

func TestCanStreamCopy(t *testing.T) {
	h264 := ffprobe.Result{Streams: []ffprobe.Stream{{CodecType: "video", CodecName: "h264"}}}
	if !canStreamCopy(h264) {
		t.Fatal("h264 should stream-copy")
	}
	exotic := ffprobe.Result{Streams: []ffprobe.Stream{{CodecType: "video", CodecName: "prores"}}}
	if canStreamCopy(exotic) {
		t.Fatal("prores should re-encode")
	}
	audioOnly := ffprobe.Result{Streams: []ffprobe.Stream{{CodecType: "audio", CodecName: "aac"}}}
	if canStreamCopy(audioOnly) {
		t.Fatal("no video stream should re-encode")
	}
}

func TestFormatSeconds(t *testing.T) {
	if got := formatSeconds(12.3456); got != "12.346" {
		t.Fatalf("formatSeconds = %q", got)
	}
	if got := formatSeconds(-1); got != "0.000" {
		t.Fatalf("negative seconds should clamp to zero, got %q", got)
	}
}
