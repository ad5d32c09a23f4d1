package rewind

import (
	"net/url"
	"path"
	"time"
)

// ChannelID uniquely identifies a buffered channel. Case-sensitive, as given.
type ChannelID string

// Segment is one downloaded HLS media segment held in a channel's buffer.
// Equality is by ID (the fetch URL); segment URLs are never reused by the
// origin within a session's lifetime.
type Segment struct {
	// ID is the URL the segment was fetched from.
	ID string
	// DisplayID is the trailing path component of ID, for logging and UI.
	DisplayID string
	// Bytes is the raw transport-stream payload.
	Bytes []byte
	// CapturedAt is when the download of this segment completed.
	CapturedAt time.Time
	// Duration is the nominal per-segment duration (seconds) declared by the
	// playlist at capture time.
	Duration float64
}

// SegmentMeta is the byte-free view of a Segment returned by rewind queries.
type SegmentMeta struct {
	DisplayID  string    `json:"displayId"`
	CapturedAt time.Time `json:"capturedAt"`
	Duration   float64   `json:"duration"`
	SizeBytes  int       `json:"sizeBytes"`
}

// Meta returns the byte-free view of s.
func (s Segment) Meta() SegmentMeta {
	return SegmentMeta{
		DisplayID:  s.DisplayID,
		CapturedAt: s.CapturedAt,
		Duration:   s.Duration,
		SizeBytes:  len(s.Bytes),
	}
}

// displayIDFromURL extracts the trailing path component of a segment URL.
// Falls back to the raw string when it does not parse as a URL.
func displayIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return path.Base(raw)
	}
	return path.Base(u.Path)
}

// PollResult is the outcome of one successful playlist poll.
type PollResult struct {
	// SegmentURLs lists all segment URLs in playlist (chronological) order,
	// resolved to absolute URLs.
	SegmentURLs []string
	// NominalDuration is the declared per-segment target duration in seconds.
	NominalDuration float64
}

// Status is a read-only snapshot of a session, safe to take while recording.
type Status struct {
	Channel      ChannelID `json:"channel"`
	IsRecording  bool      `json:"isRecording"`
	SegmentCount int       `json:"segmentCount"`
	// BufferedSeconds is segmentCount * nominal duration. It is a deliberate
	// approximation kept for existing consumers; see Clip.ActualSpanSeconds
	// for the accurate figure on extraction.
	BufferedSeconds float64   `json:"bufferedSeconds"`
	SegmentDuration float64   `json:"segmentDuration"`
	LastUpdate      time.Time `json:"lastUpdate"`
}

// Clip is the in-memory result of extracting a time window from a buffer.
type Clip struct {
	// Bytes is the chronological concatenation of the selected segments'
	// transport-stream payloads. Valid as-is, no remuxing.
	Bytes        []byte
	SegmentCount int
	// ActualSpanSeconds is last.CapturedAt - first.CapturedAt plus the last
	// segment's own duration. Distinct from the Status approximation.
	ActualSpanSeconds float64
}

// ClipRef points at a persisted clip artifact.
type ClipRef struct {
	ID   string `json:"clipId"`
	Path string `json:"path"`
	Size int64  `json:"sizeBytes"`
}
