package rewind

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/grafov/m3u8"
)

var (
	// ErrNoSegmentURLs is returned when a playlist fetch succeeded but the
	// document contained no segment entries. Soft failure: back off and
	// retry on the next tick.
	ErrNoSegmentURLs = errors.New("playlist contains no segment URLs")

	// ErrNotMediaPlaylist is returned when the polled URL points at a
	// master playlist rather than a media playlist.
	ErrNotMediaPlaylist = errors.New("URL is not a media playlist")
)

// playlistTimeout bounds one playlist fetch. Longer than the per-segment
// timeout; a slow playlist only delays a tick.
const playlistTimeout = 10 * time.Second

// fallbackSegmentDuration is assumed when the playlist declares no target
// duration and no per-segment durations.
const fallbackSegmentDuration = 2.0

// PlaylistPoller fetches and parses a live HLS media playlist. Stateless;
// one instance is shared by all sessions.
type PlaylistPoller struct {
	client *http.Client
}

// NewPlaylistPoller returns a poller using the given client, or a default
// client with the playlist timeout when client is nil.
func NewPlaylistPoller(client *http.Client) *PlaylistPoller {
	if client == nil {
		client = &http.Client{Timeout: playlistTimeout}
	}
	return &PlaylistPoller{client: client}
}

// Poll fetches rawURL and extracts all segment URLs in document order plus
// the declared per-segment target duration. Segment URIs are resolved
// against the playlist URL; relative URIs without their own query string
// inherit the playlist's (expiring-token query parameters ride along).
func (p *PlaylistPoller) Poll(ctx context.Context, rawURL string) (PollResult, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return PollResult{}, fmt.Errorf("parse playlist URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, playlistTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return PollResult{}, fmt.Errorf("build playlist request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return PollResult{}, fmt.Errorf("fetch playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return PollResult{}, fmt.Errorf("fetch playlist: unexpected status %d", resp.StatusCode)
	}

	pl, plType, err := m3u8.DecodeFrom(resp.Body, true)
	if err != nil {
		return PollResult{}, fmt.Errorf("decode playlist: %w", err)
	}
	if plType != m3u8.MEDIA {
		return PollResult{}, ErrNotMediaPlaylist
	}
	media := pl.(*m3u8.MediaPlaylist)

	var segURLs []string
	firstDuration := 0.0
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		u, err := base.Parse(seg.URI)
		if err != nil {
			continue
		}
		if u.RawQuery == "" {
			u.RawQuery = base.RawQuery
		}
		segURLs = append(segURLs, u.String())
		if firstDuration == 0 {
			firstDuration = seg.Duration
		}
	}
	if len(segURLs) == 0 {
		return PollResult{}, ErrNoSegmentURLs
	}

	nominal := media.TargetDuration
	if nominal <= 0 {
		nominal = firstDuration
	}
	if nominal <= 0 {
		nominal = fallbackSegmentDuration
	}

	return PollResult{SegmentURLs: segURLs, NominalDuration: nominal}, nil
}
