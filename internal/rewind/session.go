package rewind

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"hls-rewind/internal/platform/metrics"
)

// ErrSessionStopped is returned when Start is called on a session that has
// already been stopped. Stopped sessions are terminal; the registry creates
// a fresh one instead.
var ErrSessionStopped = errors.New("session has been stopped")

type sessionState int

const (
	stateIdle sessionState = iota
	stateRecording
	stateStopped
)

// SessionConfig carries per-session tunables.
type SessionConfig struct {
	// Capacity is the segment ring size.
	Capacity int
	// ColdStartSegments caps how many trailing playlist entries the very
	// first poll ingests, so a long-running stream's backlog does not delay
	// time-to-first-clip.
	ColdStartSegments int
	// PollInterval is the sleep between successful poll iterations.
	PollInterval time.Duration
	// BackoffInterval is the sleep after a failed iteration.
	BackoffInterval time.Duration
}

// DefaultColdStartSegments is the default first-poll ingestion cap.
const DefaultColdStartSegments = 30

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.ColdStartSegments <= 0 {
		c.ColdStartSegments = DefaultColdStartSegments
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.BackoffInterval <= 0 {
		c.BackoffInterval = 3 * time.Second
	}
	return c
}

// BufferSession owns one channel's segment buffer and the background loop
// that fills it: poll playlist, diff against seen URLs, fetch new segments
// in parallel, append in order, sleep, repeat. Iterations are strictly
// sequential; the next poll never starts before the previous batch has been
// fully resolved and inserted, which is what keeps bulk append correct.
type BufferSession struct {
	channel ChannelID
	poller  *PlaylistPoller
	fetcher *ParallelFetcher
	store   *SegmentStore
	log     *slog.Logger
	metrics *metrics.Metrics
	cfg     SessionConfig

	// lifecycleMu serializes Start/Stop transitions end to end, including
	// the cancel-and-wait gap where mu must be released. Without it, two
	// racing restarts cancel the same loop and then both spawn
	// replacements, leaking a loop that Stop can never reach.
	lifecycleMu sync.Mutex

	mu          sync.Mutex
	state       sessionState
	playlistURL string
	nominal     float64
	lastUpdate  time.Time
	firstPoll   bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewBufferSession creates an idle session for channel. Metrics may be nil
// to disable metric recording (e.g. in tests).
func NewBufferSession(channel ChannelID, poller *PlaylistPoller, fetcher *ParallelFetcher, cfg SessionConfig, log *slog.Logger, m *metrics.Metrics) *BufferSession {
	cfg = cfg.withDefaults()
	return &BufferSession{
		channel: channel,
		poller:  poller,
		fetcher: fetcher,
		store:   NewSegmentStore(cfg.Capacity),
		log:     log,
		metrics: m,
		cfg:     cfg,
	}
}

// Store exposes the session's segment buffer for window queries and clip
// extraction. Safe for concurrent use with the record loop.
func (s *BufferSession) Store() *SegmentStore { return s.store }

// Start begins recording from playlistURL. Calling Start again with the same
// URL while recording is a no-op. Calling it with a different URL restarts
// the loop on the new URL and keeps the buffer: a silent ignore would miss
// upstream stream restarts.
func (s *BufferSession) Start(playlistURL string) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if s.state == stateStopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	if s.state == stateRecording {
		if s.playlistURL == playlistURL {
			s.mu.Unlock()
			return nil
		}
		cancel, done := s.cancel, s.done
		s.mu.Unlock()
		cancel()
		<-done
		s.log.Info("playlist URL changed, restarting record loop",
			slog.String("channel", string(s.channel)),
			slog.String("playlist_url", playlistURL))
		s.mu.Lock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.state = stateRecording
	s.playlistURL = playlistURL
	s.firstPoll = true
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.log.Info("recording started",
		slog.String("channel", string(s.channel)),
		slog.String("playlist_url", playlistURL))

	go s.run(ctx, playlistURL, done)
	return nil
}

// Stop ends recording and waits for the loop to exit. Shutdown latency is
// bounded by the playlist and segment fetch timeouts; no in-flight request
// is preempted beyond its own deadline. Idempotent.
func (s *BufferSession) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	wasRecording := s.state == stateRecording
	cancel, done := s.cancel, s.done
	s.state = stateStopped
	s.mu.Unlock()

	if !wasRecording {
		return
	}
	cancel()
	<-done
	s.log.Info("recording stopped", slog.String("channel", string(s.channel)))
}

// Status returns a point-in-time snapshot, safe to call while recording.
func (s *BufferSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Snapshot under mu so the count and the nominal duration it is
	// multiplied with come from the same instant.
	count, _, _ := s.store.Snapshot()
	return Status{
		Channel:         s.channel,
		IsRecording:     s.state == stateRecording,
		SegmentCount:    count,
		BufferedSeconds: float64(count) * s.nominal,
		SegmentDuration: s.nominal,
		LastUpdate:      s.lastUpdate,
	}
}

func (s *BufferSession) run(ctx context.Context, playlistURL string, done chan struct{}) {
	defer close(done)
	for {
		err := s.iterate(ctx, playlistURL)
		wait := s.cfg.PollInterval
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("poll iteration failed",
				slog.String("channel", string(s.channel)),
				slog.String("error", err.Error()))
			if s.metrics != nil {
				s.metrics.IncPollFailures()
			}
			wait = s.cfg.BackoffInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// iterate runs one poll/diff/fetch/append cycle. Any error is soft: the
// caller logs it and backs off, only Stop ends the loop.
func (s *BufferSession) iterate(ctx context.Context, playlistURL string) error {
	res, err := s.poller.Poll(ctx, playlistURL)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.IncPolls()
	}

	fresh := s.store.FilterUnseen(res.SegmentURLs)

	s.mu.Lock()
	first := s.firstPoll
	s.firstPoll = false
	s.nominal = res.NominalDuration
	s.mu.Unlock()

	if first && len(fresh) > s.cfg.ColdStartSegments {
		// Take the newest K, not the oldest: stale backlog is worthless.
		fresh = fresh[len(fresh)-s.cfg.ColdStartSegments:]
	}
	if len(fresh) == 0 {
		return nil
	}

	// Mark before fetching: a segment whose download fails is dropped for
	// good, not retried on the next tick.
	s.store.MarkSeen(fresh)

	segs := s.fetcher.FetchAll(ctx, fresh, res.NominalDuration)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.store.Append(segs)

	if s.metrics != nil {
		s.metrics.AddSegmentsCaptured(len(segs))
		if dropped := len(fresh) - len(segs); dropped > 0 {
			s.metrics.AddSegmentFetchFailures(dropped)
		}
	}

	s.mu.Lock()
	s.lastUpdate = time.Now().UTC()
	s.mu.Unlock()

	s.log.Debug("batch captured",
		slog.String("channel", string(s.channel)),
		slog.Int("new_urls", len(fresh)),
		slog.Int("captured", len(segs)))
	return nil
}
