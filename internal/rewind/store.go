package rewind

import (
	"sync"
	"time"
)

// SegmentStore is a fixed-capacity ring of segments in capture order for one
// channel. It has exactly one writer (the owning session's record loop) and
// any number of concurrent readers; all reads return copies so callers never
// observe a mid-eviction state.
//
// The store also remembers every segment URL it has ever been asked to
// ingest, so playlist diffing does not re-fetch segments that were evicted
// from the ring. URLs are never reused by the origin, and the seen set holds
// only the URL strings, so growth over a session's lifetime is acceptable
// for a live rolling cache.
type SegmentStore struct {
	mu       sync.RWMutex
	buf      []Segment
	head     int
	count    int
	capacity int
	seen     map[string]struct{}
}

// DefaultCapacity spans about six minutes of stream at ~2s per segment.
const DefaultCapacity = 180

// NewSegmentStore returns an empty store holding at most capacity segments.
// If capacity <= 0, DefaultCapacity is used.
func NewSegmentStore(capacity int) *SegmentStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SegmentStore{
		buf:      make([]Segment, capacity),
		capacity: capacity,
		seen:     make(map[string]struct{}),
	}
}

// Capacity returns the fixed segment capacity.
func (s *SegmentStore) Capacity() int { return s.capacity }

// Append adds a batch of segments in the given order, evicting the oldest
// entries once the ring is full. The batch must already be in chronological
// order; the record loop guarantees this by reassembling fetch results in
// playlist order before calling Append.
func (s *SegmentStore) Append(batch []Segment) {
	if len(batch) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range batch {
		tail := (s.head + s.count) % s.capacity
		s.buf[tail] = seg
		if s.count < s.capacity {
			s.count++
		} else {
			// Overwrote the oldest entry; advance head.
			s.head = (s.head + 1) % s.capacity
		}
	}
}

// MarkSeen records urls as ingested for diffing purposes. Segments whose
// download later fails stay marked: a failed segment is dropped, not retried.
func (s *SegmentStore) MarkSeen(urls []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range urls {
		s.seen[u] = struct{}{}
	}
}

// FilterUnseen returns the subset of urls never passed to MarkSeen,
// preserving relative order.
func (s *SegmentStore) FilterUnseen(urls []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := s.seen[u]; !ok {
			out = append(out, u)
		}
	}
	return out
}

// Window returns copies of all segments whose CapturedAt falls within
// [start, end], boundaries inclusive. Linear scan; the ring holds at most a
// few hundred entries.
func (s *SegmentStore) Window(start, end time.Time) []Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Segment
	for i := 0; i < s.count; i++ {
		seg := s.buf[(s.head+i)%s.capacity]
		if seg.CapturedAt.Before(start) || seg.CapturedAt.After(end) {
			continue
		}
		out = append(out, seg)
	}
	return out
}

// Newest returns copies of the most recent k segments in chronological
// order. If fewer than k are buffered, all of them are returned.
func (s *SegmentStore) Newest(k int) []Segment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k > s.count {
		k = s.count
	}
	if k <= 0 {
		return nil
	}
	out := make([]Segment, 0, k)
	for i := s.count - k; i < s.count; i++ {
		out = append(out, s.buf[(s.head+i)%s.capacity])
	}
	return out
}

// Snapshot reports the buffered segment count and the capture-time range.
// Zero times are returned when the store is empty.
func (s *SegmentStore) Snapshot() (count int, oldest, newest time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.count == 0 {
		return 0, time.Time{}, time.Time{}
	}
	oldest = s.buf[s.head].CapturedAt
	newest = s.buf[(s.head+s.count-1)%s.capacity].CapturedAt
	return s.count, oldest, newest
}
