package hls

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultAdSegments is the predefined ad break content: three segments
// served from the ad origin.
var DefaultAdSegments = []string{"ad-0.ts", "ad-1.ts", "ad-2.ts"}

// QualityMetrics tracks delivery metrics for one (session, quality) pair.
// It is mutated on every successful segment fetch for that quality and
// never reset.
type QualityMetrics struct {
	mu                  sync.Mutex
	lastDownloadedChunk string
	lastSequence        int64
	downloadedBytes     int64
}

// Update records the chunk just served and adds its size to the cumulative
// byte count. The trailing sequence number is parsed from the chunk name
// (e.g. "segment_042.ts" -> 42); chunks without one leave the sequence
// untouched.
func (m *QualityMetrics) Update(chunk string, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastDownloadedChunk = chunk
	if seq, ok := trailingSequence(chunk); ok {
		m.lastSequence = seq
	}
	m.downloadedBytes += bytes
}

// LastDownloadedChunk returns the name of the most recent chunk served.
func (m *QualityMetrics) LastDownloadedChunk() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastDownloadedChunk
}

// LastSequence returns the sequence number parsed from the most recent chunk.
func (m *QualityMetrics) LastSequence() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSequence
}

// DownloadedBytes returns the cumulative bytes served for this quality.
func (m *QualityMetrics) DownloadedBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloadedBytes
}

// trailingSequence extracts the trailing number from a chunk name, ignoring
// the extension: "segment_003.ts" -> 3.
func trailingSequence(chunk string) (int64, bool) {
	if i := strings.LastIndexByte(chunk, '.'); i >= 0 {
		chunk = chunk[:i]
	}
	end := len(chunk)
	start := end
	for start > 0 && chunk[start-1] >= '0' && chunk[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, false
	}
	n, err := strconv.ParseInt(chunk[start:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Session holds per-viewer state: delivery metrics per quality and the
// ad-cadence cue. A session is created on the viewer's first request and
// lives for the process lifetime.
type Session struct {
	createdAt time.Time

	// frequencySegments is the cadence threshold: content segments between
	// ad breaks. Zero or negative disables ad insertion for this session.
	// Immutable after creation.
	frequencySegments int32

	served atomic.Int32
	adDue  atomic.Bool

	adSegments []string

	mu        sync.Mutex
	qualities map[string]*QualityMetrics
	adQueue   []string
}

// NewSession returns a session with the given cadence threshold and the
// default ad segment list.
func NewSession(frequencySegments int) *Session {
	return &Session{
		createdAt:         time.Now(),
		frequencySegments: int32(frequencySegments),
		adSegments:        DefaultAdSegments,
		qualities:         make(map[string]*QualityMetrics),
	}
}

// ViewingSeconds returns how long the viewer has been connected.
func (s *Session) ViewingSeconds() int64 {
	return int64(time.Since(s.createdAt).Seconds())
}

// Metrics returns the metrics for the given quality, creating them lazily.
func (s *Session) Metrics(quality string) *QualityMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.qualities[quality]
	if !ok {
		m = &QualityMetrics{}
		s.qualities[quality] = m
	}
	return m
}

// QueueAd enqueues an out-of-band ad segment for this session.
func (s *Session) QueueAd(adSegment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adQueue = append(s.adQueue, adSegment)
}

// PollAd dequeues the next queued ad segment. ok is false when the queue
// is empty.
func (s *Session) PollAd() (ad string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.adQueue) == 0 {
		return "", false
	}
	ad = s.adQueue[0]
	s.adQueue = s.adQueue[1:]
	return ad, true
}

// OnSegmentServed records one served content segment. Once the served count
// reaches the cadence threshold the ad-due cue is raised. A no-op when the
// cadence is disabled. Ad segments must not be reported here.
func (s *Session) OnSegmentServed() {
	freq := s.frequencySegments
	if freq <= 0 {
		return
	}
	if s.served.Add(1) >= freq {
		s.adDue.Store(true)
	}
}

// AdDue reports whether an ad break is currently cued.
func (s *Session) AdDue() bool {
	return s.adDue.Load()
}

// ServedCount returns the number of content segments served since the last
// ad break.
func (s *Session) ServedCount() int {
	return int(s.served.Load())
}

// TakeAdBreakIfDue atomically checks and clears the ad-due cue. Across any
// number of concurrent callers exactly one observes the cue; that caller
// gets the ad segment list and the served counter is reset. All others get
// ok false. This is the only place the cue is cleared.
func (s *Session) TakeAdBreakIfDue() (ads []string, ok bool) {
	if !s.adDue.CompareAndSwap(true, false) {
		return nil, false
	}
	s.served.Store(0)
	return s.adSegments, true
}

// Registry owns all Session instances, keyed by viewer identity (client
// address or token-derived session id).
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for key, creating it with the given
// cadence threshold if missing. Concurrent calls with the same key return
// the same instance.
func (r *Registry) GetOrCreate(key string, frequencySegments int) *Session {
	r.mu.RLock()
	s, ok := r.sessions[key]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s
	}
	s = NewSession(frequencySegments)
	r.sessions[key] = s
	return s
}

// Len returns the number of tracked sessions. Used for metrics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
