package rewind

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoSegmentsInWindow is returned when a requested clip window matched no
// buffered segments. Use errors.As with *WindowError to read the available
// buffered range.
var ErrNoSegmentsInWindow = errors.New("no segments in requested window")

// WindowError carries diagnostics for a missed window: the caller most
// likely over-estimated the available rewind depth.
type WindowError struct {
	Start, End     time.Time
	Oldest, Newest time.Time
	Buffered       int
}

func (e *WindowError) Error() string {
	if e.Buffered == 0 {
		return fmt.Sprintf("no segments in window [%s, %s]: buffer is empty",
			e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
	}
	return fmt.Sprintf("no segments in window [%s, %s]: buffered range is [%s, %s]",
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339),
		e.Oldest.Format(time.RFC3339), e.Newest.Format(time.RFC3339))
}

func (e *WindowError) Unwrap() error { return ErrNoSegmentsInWindow }

// ExtractWindow selects the buffered segments overlapping the window ending
// startSecondsAgo before now and spanning durationSeconds, and concatenates
// their payloads chronologically. Transport-stream segments concatenate into
// a playable artifact; no remuxing happens here.
func ExtractWindow(store *SegmentStore, startSecondsAgo, durationSeconds float64, now time.Time) (Clip, error) {
	end := now.Add(-secondsToDuration(startSecondsAgo))
	start := end.Add(-secondsToDuration(durationSeconds))

	segs := store.Window(start, end)
	if len(segs) == 0 {
		count, oldest, newest := store.Snapshot()
		return Clip{}, &WindowError{
			Start:    start,
			End:      end,
			Oldest:   oldest,
			Newest:   newest,
			Buffered: count,
		}
	}

	size := 0
	for _, seg := range segs {
		size += len(seg.Bytes)
	}
	buf := make([]byte, 0, size)
	for _, seg := range segs {
		buf = append(buf, seg.Bytes...)
	}

	first, last := segs[0], segs[len(segs)-1]
	span := last.CapturedAt.Sub(first.CapturedAt).Seconds() + last.Duration

	return Clip{
		Bytes:             buf,
		SegmentCount:      len(segs),
		ActualSpanSeconds: span,
	}, nil
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
