package fingerprint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestParseOutput(t *testing.T) {
	duration, hash := parseOutput("DURATION=123.45\nFINGERPRINT=1,2,-3,4\n")
	if duration != 123.45 {
		t.Fatalf("duration = %v, want 123.45", duration)
	}
	negThree := int64(-3)
	want := []uint32{1, 2, uint32(negThree), 4}
	if len(hash) != len(want) {
		t.Fatalf("hash length = %d, want %d", len(hash), len(want))
	}
	for i := range want {
		if hash[i] != want[i] {
			t.Fatalf("hash[%d] = %d, want %d", i, hash[i], want[i])
		}
	}
}

func TestParseOutputSkipsMalformedValues(t *testing.T) {
	_, hash := parseOutput("FINGERPRINT=1,,abc,2\n")
	if len(hash) != 2 {
		t.Fatalf("hash length = %d, want 2", len(hash))
	}
}

func TestSimilarityIdenticalAndComplement(t *testing.T) {
	a := []uint32{0xFFFFFFFF, 0x00000000}
	if got := Similarity(a, a); got != 1 {
		t.Fatalf("self similarity = %v, want 1", got)
	}
	b := []uint32{0x00000000, 0xFFFFFFFF}
	if got := Similarity(a, b); got != 0 {
		t.Fatalf("complement similarity = %v, want 0", got)
	}
	if got := Distance(a, b); got != 1 {
		t.Fatalf("complement distance = %v, want 1", got)
	}
}

func TestSimilarityMismatchedLengths(t *testing.T) {
	if got := Similarity([]uint32{1}, []uint32{1, 2}); got != 0 {
		t.Fatalf("mismatched-length similarity = %v, want 0", got)
	}
	if got := Similarity(nil, nil); got != 0 {
		t.Fatalf("empty similarity = %v, want 0", got)
	}
}

func TestDistanceSmallPerturbation(t *testing.T) {
	a := []uint32{0xAAAAAAAA, 0xAAAAAAAA}
	b := []uint32{0xAAAAAAAB, 0xAAAAAAAA} // one flipped bit in 64
	got := Distance(a, b)
	want := 1.0 / 64.0
	if got != want {
		t.Fatalf("distance = %v, want %v", got, want)
	}
}

func TestEncodeHashStable(t *testing.T) {
	if got := EncodeHash([]uint32{0x10, 0xFF}); got != "10,ff" {
		t.Fatalf("EncodeHash = %q", got)
	}
}

// stubFpcalc writes an executable that ignores its arguments and prints the
// given fpcalc-style output.
func stubFpcalc(t *testing.T, output string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs are not portable to windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fpcalc")
	script := "#!/bin/sh\ncat <<'OUT'\n" + output + "\nOUT\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestComputeSlidesWindows(t *testing.T) {
	values := make([]string, 160)
	for i := range values {
		values[i] = fmt.Sprintf("%d", i+1)
	}
	binary := stubFpcalc(t, "DURATION=20.0\nFINGERPRINT="+strings.Join(values, ","))

	windows, duration, err := Compute(context.Background(), binary, "/tmp/fake.wav", 10, 5, nil)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if duration != 20.0 {
		t.Fatalf("duration = %v, want 20", duration)
	}
	// 160 values at 8/s is 20s of audio: 10s windows stepping 5s -> 3 windows.
	if len(windows) != 3 {
		t.Fatalf("window count = %d, want 3", len(windows))
	}
	for i, wantStart := range []float64{0, 5, 10} {
		if windows[i].Start != wantStart {
			t.Fatalf("windows[%d].Start = %v, want %v", i, windows[i].Start, wantStart)
		}
		if windows[i].End-windows[i].Start != 10 {
			t.Fatalf("windows[%d] span = %v, want 10", i, windows[i].End-windows[i].Start)
		}
		if len(windows[i].Hash) != 80 {
			t.Fatalf("windows[%d] hash length = %d, want 80", i, len(windows[i].Hash))
		}
	}
	if windows[1].Hash[0] != 41 {
		t.Fatalf("second window should start at value 41, got %d", windows[1].Hash[0])
	}
}

func TestComputeShortAudioFoldsToSingleWindow(t *testing.T) {
	values := make([]string, 32)
	for i := range values {
		values[i] = fmt.Sprintf("%d", i+1)
	}
	binary := stubFpcalc(t, "DURATION=4.0\nFINGERPRINT="+strings.Join(values, ","))

	windows, _, err := Compute(context.Background(), binary, "/tmp/fake.wav", 10, 5, nil)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("window count = %d, want 1", len(windows))
	}
	if windows[0].Start != 0 || windows[0].End != 4 {
		t.Fatalf("window = [%v, %v], want [0, 4]", windows[0].Start, windows[0].End)
	}
}

func TestComputeEmptyFingerprintFails(t *testing.T) {
	binary := stubFpcalc(t, "DURATION=4.0\nFINGERPRINT=")
	if _, _, err := Compute(context.Background(), binary, "/tmp/fake.wav", 10, 5, nil); err == nil {
		t.Fatal("expected fingerprint_empty error")
	}
}
