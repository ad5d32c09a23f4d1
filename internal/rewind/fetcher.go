package rewind

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/ratelimit"
)

// segmentTimeout bounds one segment download. Shorter than the playlist
// timeout so a stalled segment cannot make a batch outlast the poll interval
// by much.
const segmentTimeout = 5 * time.Second

// DefaultFetchWorkers is the default concurrent download limit.
const DefaultFetchWorkers = 10

// ParallelFetcher downloads batches of segment URLs concurrently over a
// bounded goroutine pool while preserving the chronological order of the
// input. One instance is shared by all sessions; the pool bounds total
// concurrency process-wide, the limiter bounds the request rate against the
// upstream origin.
type ParallelFetcher struct {
	client  *http.Client
	pool    *ants.Pool
	limiter ratelimit.Limiter
	log     *slog.Logger
}

// NewParallelFetcher creates a fetcher with the given worker count and
// request-per-second cap. workers <= 0 means DefaultFetchWorkers;
// ratePerSecond <= 0 disables rate limiting. client may be nil.
func NewParallelFetcher(client *http.Client, workers, ratePerSecond int, log *slog.Logger) (*ParallelFetcher, error) {
	if client == nil {
		client = &http.Client{Timeout: segmentTimeout}
	}
	if workers <= 0 {
		workers = DefaultFetchWorkers
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	var limiter ratelimit.Limiter
	if ratePerSecond > 0 {
		limiter = ratelimit.New(ratePerSecond)
	} else {
		limiter = ratelimit.NewUnlimited()
	}
	return &ParallelFetcher{client: client, pool: pool, limiter: limiter, log: log}, nil
}

// Close releases the worker pool. In-flight tasks finish first.
func (f *ParallelFetcher) Close() {
	f.pool.Release()
}

// FetchAll downloads every URL concurrently and returns the successful
// segments ordered by their index in urls, not by completion order. That
// reassembly is what restores chronological order despite non-deterministic
// download completion. A failed segment is logged and dropped; it never
// fails the batch. len(result) <= len(urls) always holds.
func (f *ParallelFetcher) FetchAll(ctx context.Context, urls []string, nominalDuration float64) []Segment {
	results := make([]*Segment, len(urls))
	var wg sync.WaitGroup

	for i, u := range urls {
		i, u := i, u
		wg.Add(1)
		err := f.pool.Submit(func() {
			defer wg.Done()
			f.limiter.Take()
			seg, err := f.fetchOne(ctx, u, nominalDuration)
			if err != nil {
				f.log.Warn("segment fetch failed",
					slog.String("url", u),
					slog.String("error", err.Error()))
				return
			}
			results[i] = seg
		})
		if err != nil {
			// Pool is released or overloaded; drop this segment like any
			// other fetch failure.
			wg.Done()
			f.log.Warn("segment fetch not scheduled",
				slog.String("url", u),
				slog.String("error", err.Error()))
		}
	}
	wg.Wait()

	out := make([]Segment, 0, len(urls))
	for _, seg := range results {
		if seg != nil {
			out = append(out, *seg)
		}
	}
	return out
}

func (f *ParallelFetcher) fetchOne(ctx context.Context, rawURL string, nominalDuration float64) (*Segment, error) {
	ctx, cancel := context.WithTimeout(ctx, segmentTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build segment request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch segment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch segment: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read segment body: %w", err)
	}

	return &Segment{
		ID:         rawURL,
		DisplayID:  displayIDFromURL(rawURL),
		Bytes:      body,
		CapturedAt: time.Now().UTC(),
		Duration:   nominalDuration,
	}, nil
}
