package rewind

import (
	"errors"
	"log/slog"
	"sync"

	"hls-rewind/internal/platform/metrics"
)

// ErrSessionNotFound is returned when an operation references a channel with
// no active session.
var ErrSessionNotFound = errors.New("no active session for channel")

// BufferRegistry is the process-wide map from channel to its session and the
// entry point for the HTTP layer. The mutex guards only structural mutation
// (insert/remove); per-session state has its own locking.
type BufferRegistry struct {
	poller  *PlaylistPoller
	fetcher *ParallelFetcher
	cfg     SessionConfig
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[ChannelID]*BufferSession
}

// NewBufferRegistry returns an empty registry whose sessions share the given
// poller, fetcher, and config. Metrics may be nil.
func NewBufferRegistry(poller *PlaylistPoller, fetcher *ParallelFetcher, cfg SessionConfig, log *slog.Logger, m *metrics.Metrics) *BufferRegistry {
	return &BufferRegistry{
		poller:   poller,
		fetcher:  fetcher,
		cfg:      cfg,
		log:      log,
		metrics:  m,
		sessions: make(map[ChannelID]*BufferSession),
	}
}

// GetOrCreate returns the channel's session, creating an idle one when none
// exists. At most one session exists per channel at any time.
func (r *BufferRegistry) GetOrCreate(channel ChannelID) *BufferSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[channel]; ok {
		return s
	}
	s := NewBufferSession(channel, r.poller, r.fetcher, r.cfg, r.log, r.metrics)
	r.sessions[channel] = s
	return s
}

// Get returns the channel's session if one exists.
func (r *BufferRegistry) Get(channel ChannelID) (*BufferSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[channel]
	return s, ok
}

// Stop stops the channel's session and removes it from the registry. The
// session is terminal afterwards; a later start creates a fresh one with an
// empty buffer.
func (r *BufferRegistry) Stop(channel ChannelID) error {
	r.mu.Lock()
	s, ok := r.sessions[channel]
	if ok {
		delete(r.sessions, channel)
	}
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Stop()
	return nil
}

// ActiveCount returns the number of registered sessions. Used for metrics.
func (r *BufferRegistry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// StopAll stops and removes every session. Called on shutdown.
func (r *BufferRegistry) StopAll() {
	r.mu.Lock()
	sessions := make([]*BufferSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[ChannelID]*BufferSession)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}
