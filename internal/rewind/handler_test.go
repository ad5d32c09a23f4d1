package rewind

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avfs/avfs/vfs/memfs"
	"github.com/go-chi/chi/v5"
)

type handlerFixture struct {
	registry *BufferRegistry
	router   *chi.Mux
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	reg := newTestRegistry(t)
	t.Cleanup(reg.StopAll)
	h := NewHandler(reg, NewFSClipStore(memfs.New(), "/clips"), testLogger(), nil)
	r := chi.NewRouter()
	h.Routes(r)
	return &handlerFixture{registry: reg, router: r}
}

func (f *handlerFixture) do(method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Start(t *testing.T) {
	srv := newOrigin(t, 2.0, []string{"a.ts", "b.ts", "c.ts"}, nil)
	f := newHandlerFixture(t)

	rec := f.do(http.MethodPost, "/buffer/ch1/start", map[string]string{"playlistUrl": srv.URL + "/playlist.m3u8"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	var resp map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["isRecording"] != true {
		t.Errorf("expected isRecording true, got %v", resp)
	}
}

func TestHandler_Start_bad_body(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/buffer/ch1/start", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid JSON, got %d", rec.Code)
	}

	rec = f.do(http.MethodPost, "/buffer/ch1/start", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing playlistUrl, got %d", rec.Code)
	}
}

func TestHandler_Status_not_found(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.do(http.MethodGet, "/buffer/ghost/status", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_lifecycle(t *testing.T) {
	srv := newOrigin(t, 2.0, []string{"a.ts", "b.ts", "c.ts"}, nil)
	f := newHandlerFixture(t)

	rec := f.do(http.MethodPost, "/buffer/ch1/start", map[string]string{"playlistUrl": srv.URL + "/playlist.m3u8"})
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", rec.Code)
	}

	ok := waitFor(t, 2*time.Second, func() bool {
		rec := f.do(http.MethodGet, "/buffer/ch1/status", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var st Status
		_ = json.Unmarshal(rec.Body.Bytes(), &st)
		return st.IsRecording && st.SegmentCount == 3
	})
	if !ok {
		t.Fatal("status never reported 3 buffered segments")
	}

	rec = f.do(http.MethodGet, "/buffer/ch1/rewind/60", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("rewind: expected 200, got %d", rec.Code)
	}
	var rewindResp struct {
		Segments []SegmentMeta `json:"segments"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &rewindResp)
	if len(rewindResp.Segments) != 3 {
		t.Errorf("rewind: expected 3 segment metas, got %d", len(rewindResp.Segments))
	}
	for _, meta := range rewindResp.Segments {
		if meta.SizeBytes == 0 || meta.DisplayID == "" {
			t.Errorf("rewind meta incomplete: %+v", meta)
		}
	}

	rec = f.do(http.MethodPost, "/buffer/ch1/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", rec.Code)
	}

	rec = f.do(http.MethodGet, "/buffer/ch1/status", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status after stop: expected 404, got %d", rec.Code)
	}
}

func TestHandler_Stop_not_found(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.do(http.MethodPost, "/buffer/ghost/stop", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_Rewind_bad_seconds(t *testing.T) {
	f := newHandlerFixture(t)
	f.registry.GetOrCreate("ch1")

	rec := f.do(http.MethodGet, "/buffer/ch1/rewind/abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric seconds, got %d", rec.Code)
	}
}

func TestHandler_Rewind_empty_buffer_is_200(t *testing.T) {
	f := newHandlerFixture(t)
	f.registry.GetOrCreate("ch1")

	rec := f.do(http.MethodGet, "/buffer/ch1/rewind/30", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty buffer, got %d", rec.Code)
	}
	var resp struct {
		Segments []SegmentMeta `json:"segments"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Segments) != 0 {
		t.Errorf("expected empty segment list, got %d", len(resp.Segments))
	}
}

func TestHandler_Clip(t *testing.T) {
	f := newHandlerFixture(t)

	// Populate the buffer directly: 10 marker segments, 1s apart.
	session := f.registry.GetOrCreate("ch1")
	now := time.Now().UTC()
	var batch []Segment
	for i := 0; i < 10; i++ {
		seg := segAt(fmt.Sprintf("m%d", i), now.Add(time.Duration(i-9)*time.Second), 1.0)
		seg.Bytes = []byte(fmt.Sprintf("SEG%d", i))
		batch = append(batch, seg)
	}
	session.Store().Append(batch)

	rec := f.do(http.MethodPost, "/buffer/ch1/clip", map[string]float64{
		"startSecondsAgo": 0,
		"durationSeconds": 30,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		ClipID       string  `json:"clipId"`
		Path         string  `json:"path"`
		SizeBytes    int64   `json:"sizeBytes"`
		SegmentCount int     `json:"segmentCount"`
		Actual       float64 `json:"actualDurationSeconds"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.ClipID == "" || resp.Path == "" {
		t.Errorf("expected clip reference, got %+v", resp)
	}
	if resp.SegmentCount != 10 {
		t.Errorf("expected 10 segments in clip, got %d", resp.SegmentCount)
	}
	if resp.SizeBytes != 40 { // 10 * len("SEGn")
		t.Errorf("expected 40 bytes, got %d", resp.SizeBytes)
	}
}

func TestHandler_Clip_window_miss(t *testing.T) {
	f := newHandlerFixture(t)
	f.registry.GetOrCreate("ch1")

	rec := f.do(http.MethodPost, "/buffer/ch1/clip", map[string]float64{
		"startSecondsAgo": 300,
		"durationSeconds": 10,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if _, ok := resp["oldestBuffered"]; !ok {
		t.Errorf("expected buffered-range diagnostics, got %v", resp)
	}
}

func TestHandler_Clip_bad_body(t *testing.T) {
	f := newHandlerFixture(t)
	f.registry.GetOrCreate("ch1")

	rec := f.do(http.MethodPost, "/buffer/ch1/clip", map[string]float64{"startSecondsAgo": 5})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing duration, got %d", rec.Code)
	}
}

func TestHandler_Clip_not_found(t *testing.T) {
	f := newHandlerFixture(t)
	rec := f.do(http.MethodPost, "/buffer/ghost/clip", map[string]float64{
		"startSecondsAgo": 0,
		"durationSeconds": 10,
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
