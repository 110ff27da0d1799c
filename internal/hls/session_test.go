package hls

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
)

func TestSession_cadence(t *testing.T) {
	s := NewSession(3)

	for i := 0; i < 2; i++ {
		s.OnSegmentServed()
		if s.AdDue() {
			t.Fatalf("ad due after %d segments, want after 3", i+1)
		}
	}
	s.OnSegmentServed()
	if !s.AdDue() {
		t.Error("expected ad due after 3 segments")
	}

	ads, ok := s.TakeAdBreakIfDue()
	if !ok {
		t.Fatal("expected to take the ad break")
	}
	if len(ads) != 3 {
		t.Errorf("expected 3 ad segments, got %d", len(ads))
	}
	if s.AdDue() {
		t.Error("ad due should be cleared after take")
	}
	if s.ServedCount() != 0 {
		t.Errorf("served counter should reset to 0, got %d", s.ServedCount())
	}

	if _, ok := s.TakeAdBreakIfDue(); ok {
		t.Error("second take should report not due")
	}
}

func TestSession_cadenceDisabled(t *testing.T) {
	for _, freq := range []int{0, -1} {
		s := NewSession(freq)
		for i := 0; i < 50; i++ {
			s.OnSegmentServed()
		}
		if s.AdDue() {
			t.Errorf("frequency %d should disable ad insertion", freq)
		}
		if s.ServedCount() != 0 {
			t.Errorf("frequency %d should not count segments, got %d", freq, s.ServedCount())
		}
	}
}

func TestSession_TakeAdBreakIfDue_exactlyOneWinner(t *testing.T) {
	s := NewSession(1)
	s.OnSegmentServed()
	if !s.AdDue() {
		t.Fatal("setup: ad should be due")
	}

	const callers = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok := s.TakeAdBreakIfDue(); ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one caller to take the break, got %d", wins.Load())
	}
}

func TestSession_adQueue(t *testing.T) {
	s := NewSession(0)
	if _, ok := s.PollAd(); ok {
		t.Error("empty queue should report ok false")
	}
	s.QueueAd("promo-1.ts")
	s.QueueAd("promo-2.ts")
	ad, ok := s.PollAd()
	if !ok || ad != "promo-1.ts" {
		t.Errorf("expected promo-1.ts, got %q ok=%v", ad, ok)
	}
	ad, _ = s.PollAd()
	if ad != "promo-2.ts" {
		t.Errorf("expected promo-2.ts, got %q", ad)
	}
}

func TestQualityMetrics_Update(t *testing.T) {
	m := &QualityMetrics{}
	m.Update("segment_041.ts", 1000)
	m.Update("segment_042.ts", 500)

	if got := m.LastDownloadedChunk(); got != "segment_042.ts" {
		t.Errorf("last chunk: got %q", got)
	}
	if got := m.LastSequence(); got != 42 {
		t.Errorf("last sequence: got %d, want 42", got)
	}
	if got := m.DownloadedBytes(); got != 1500 {
		t.Errorf("downloaded bytes: got %d, want 1500 (cumulative)", got)
	}
}

func TestQualityMetrics_Update_noTrailingNumber(t *testing.T) {
	m := &QualityMetrics{}
	m.Update("segment_007.ts", 10)
	m.Update("intro.ts", 10)
	if got := m.LastSequence(); got != 7 {
		t.Errorf("sequence should keep last parsed value, got %d", got)
	}
	if got := m.LastDownloadedChunk(); got != "intro.ts" {
		t.Errorf("last chunk: got %q", got)
	}
}

func TestSession_Metrics_lazyPerQuality(t *testing.T) {
	s := NewSession(0)
	a := s.Metrics("720p")
	b := s.Metrics("720p")
	if a != b {
		t.Error("same quality should return the same metrics instance")
	}
	if s.Metrics("480p") == a {
		t.Error("different qualities should have independent metrics")
	}
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry()
	a := r.GetOrCreate("10.0.0.1", 3)
	b := r.GetOrCreate("10.0.0.1", 99)
	if a != b {
		t.Error("same key should return the same session")
	}
	if r.GetOrCreate("10.0.0.2", 3) == a {
		t.Error("different keys should return different sessions")
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 sessions, got %d", r.Len())
	}
}

func TestRegistry_GetOrCreate_concurrent(t *testing.T) {
	r := NewRegistry()
	const callers = 64
	sessions := make([]*Session, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			sessions[i] = r.GetOrCreate("viewer-"+strconv.Itoa(i%4), 3)
		}(i)
	}
	close(start)
	wg.Wait()

	if r.Len() != 4 {
		t.Fatalf("expected 4 sessions, got %d", r.Len())
	}
	for i := 0; i < callers; i++ {
		for j := i + 1; j < callers; j++ {
			if i%4 == j%4 && sessions[i] != sessions[j] {
				t.Fatal("concurrent GetOrCreate with the same key returned different sessions")
			}
		}
	}
}
