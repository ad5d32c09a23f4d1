package rewind

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"hls-rewind/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the buffer endpoints using go-chi.
type Handler struct {
	registry *BufferRegistry
	clips    ClipStore
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewHandler returns a Handler over the given registry and clip store.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(registry *BufferRegistry, clips ClipStore, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{registry: registry, clips: clips, log: log, metrics: m}
}

// Routes mounts all buffer endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/buffer/{channel}", func(r chi.Router) {
		r.Post("/start", h.Start)
		r.Post("/stop", h.Stop)
		r.Get("/status", h.Status)
		r.Get("/rewind/{seconds}", h.Rewind)
		r.Post("/clip", h.Clip)
	})
}

type startRequest struct {
	PlaylistURL string `json:"playlistUrl"`
}

// Start handles POST /buffer/{channel}/start.
// Body: { "playlistUrl": "https://origin/live/chan/index.m3u8" }.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	channel := ChannelID(chi.URLParam(r, "channel"))
	if channel == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PlaylistURL == "" {
		h.log.Debug("invalid start body", slog.String("channel", string(channel)))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "playlistUrl is required"})
		return
	}

	session := h.registry.GetOrCreate(channel)
	if err := session.Start(req.PlaylistURL); err != nil {
		// A stopped session is terminal and should already be out of the
		// registry; losing that race is a retryable conflict.
		h.log.Warn("start rejected", slog.String("channel", string(channel)), slog.String("error", err.Error()))
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	h.log.Info("buffer started", slog.String("channel", string(channel)))
	writeJSON(w, http.StatusOK, map[string]any{"channel": channel, "isRecording": true})
}

// Stop handles POST /buffer/{channel}/stop.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	channel := ChannelID(chi.URLParam(r, "channel"))
	if channel == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.registry.Stop(channel); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	h.log.Info("buffer stopped", slog.String("channel", string(channel)))
	writeJSON(w, http.StatusOK, map[string]any{"channel": channel, "isRecording": false})
}

// Status handles GET /buffer/{channel}/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	channel := ChannelID(chi.URLParam(r, "channel"))
	session, ok := h.registry.Get(channel)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": ErrSessionNotFound.Error()})
		return
	}
	writeJSON(w, http.StatusOK, session.Status())
}

// Rewind handles GET /buffer/{channel}/rewind/{seconds}: metadata for the
// buffered segments captured in the last {seconds} seconds. An empty window
// is still a 200 with an empty list; only a missing session is an error.
func (h *Handler) Rewind(w http.ResponseWriter, r *http.Request) {
	channel := ChannelID(chi.URLParam(r, "channel"))
	session, ok := h.registry.Get(channel)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": ErrSessionNotFound.Error()})
		return
	}

	seconds, err := strconv.ParseFloat(chi.URLParam(r, "seconds"), 64)
	if err != nil || seconds <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "seconds must be a positive number"})
		return
	}

	now := time.Now().UTC()
	segs := session.Store().Window(now.Add(-secondsToDuration(seconds)), now)
	metas := make([]SegmentMeta, 0, len(segs))
	for _, seg := range segs {
		metas = append(metas, seg.Meta())
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": channel, "segments": metas})
}

type clipRequest struct {
	StartSecondsAgo float64 `json:"startSecondsAgo"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// Clip handles POST /buffer/{channel}/clip: extracts the requested window
// and persists it through the clip store.
// Body: { "startSecondsAgo": 30, "durationSeconds": 10 }.
func (h *Handler) Clip(w http.ResponseWriter, r *http.Request) {
	channel := ChannelID(chi.URLParam(r, "channel"))
	session, ok := h.registry.Get(channel)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": ErrSessionNotFound.Error()})
		return
	}

	var req clipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DurationSeconds <= 0 || req.StartSecondsAgo < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "startSecondsAgo and durationSeconds are required"})
		return
	}

	clip, err := ExtractWindow(session.Store(), req.StartSecondsAgo, req.DurationSeconds, time.Now().UTC())
	if err != nil {
		var winErr *WindowError
		if errors.As(err, &winErr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":          ErrNoSegmentsInWindow.Error(),
				"oldestBuffered": winErr.Oldest,
				"newestBuffered": winErr.Newest,
				"bufferedCount":  winErr.Buffered,
			})
			return
		}
		h.log.Error("clip extraction failed", slog.String("channel", string(channel)), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	ref, err := h.clips.Save(r.Context(), channel, clip)
	if err != nil {
		h.log.Error("clip save failed", slog.String("channel", string(channel)), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.log.Info("clip created",
		slog.String("channel", string(channel)),
		slog.String("clip_id", ref.ID),
		slog.Int("segments", clip.SegmentCount))
	if h.metrics != nil {
		h.metrics.IncClipsCreated()
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"clipId":                ref.ID,
		"path":                  ref.Path,
		"sizeBytes":             ref.Size,
		"segmentCount":          clip.SegmentCount,
		"actualDurationSeconds": clip.ActualSpanSeconds,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
