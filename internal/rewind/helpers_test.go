package rewind

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestFetcher(t *testing.T, workers int) *ParallelFetcher {
	t.Helper()
	f, err := NewParallelFetcher(nil, workers, 0, testLogger())
	if err != nil {
		t.Fatalf("NewParallelFetcher: %v", err)
	}
	t.Cleanup(f.Close)
	return f
}

// mediaPlaylistDoc renders a minimal live media playlist listing the given
// segment URIs with a fixed per-segment duration.
func mediaPlaylistDoc(targetDuration float64, mediaSequence int, segDuration float64, uris []string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", int(targetDuration))
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSequence)
	for _, uri := range uris {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", segDuration)
		b.WriteString(uri)
		b.WriteString("\n")
	}
	return b.String()
}

// segAt builds a buffered segment captured at the given time with a payload
// marker, for store and clip tests.
func segAt(id string, capturedAt time.Time, duration float64) Segment {
	return Segment{
		ID:         "https://origin.example/seg/" + id + ".ts",
		DisplayID:  id + ".ts",
		Bytes:      []byte(id),
		CapturedAt: capturedAt,
		Duration:   duration,
	}
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
