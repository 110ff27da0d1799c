package hls

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetcher_FetchPlaylist(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mystream/720p/playlist.m3u8" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte("#EXTM3U\n"))
	}))
	defer origin.Close()

	f := NewFetcher(origin.URL, origin.URL+"/ads", 0)
	body, err := f.FetchPlaylist(context.Background(), "mystream", "playlist", "720p")
	if err != nil {
		t.Fatalf("FetchPlaylist: %v", err)
	}
	if body != "#EXTM3U\n" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestFetcher_FetchPlaylist_noQuality(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mystream/playlist.m3u8" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte("#EXTM3U\n"))
	}))
	defer origin.Close()

	f := NewFetcher(origin.URL, origin.URL, 0)
	if _, err := f.FetchPlaylist(context.Background(), "mystream", "playlist", ""); err != nil {
		t.Fatalf("FetchPlaylist: %v", err)
	}
}

func TestFetcher_FetchSegment_bytesUnmodified(t *testing.T) {
	payload := []byte{0x47, 0x00, 0x11, 0xFF, 0x00}
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mystream/segment_001.ts" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write(payload)
	}))
	defer origin.Close()

	f := NewFetcher(origin.URL, origin.URL, 0)
	data, err := f.FetchSegment(context.Background(), "mystream", "segment_001", "", KindVideo)
	if err != nil {
		t.Fatalf("FetchSegment: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("segment bytes must pass through unmodified, got %v", data)
	}
}

func TestFetcher_FetchSegment_audioExtension(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mystream/aac/segment_001.aac" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte("aacdata"))
	}))
	defer origin.Close()

	f := NewFetcher(origin.URL, origin.URL, 0)
	if _, err := f.FetchSegment(context.Background(), "mystream", "segment_001", "aac", KindAudio); err != nil {
		t.Fatalf("FetchSegment: %v", err)
	}
}

func TestFetcher_FetchAdSegment_usesAdOrigin(t *testing.T) {
	ads := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ads/720p/ad-0.ts" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte("ad"))
	}))
	defer ads.Close()

	f := NewFetcher("http://origin.invalid", ads.URL+"/ads", 0)
	data, err := f.FetchAdSegment(context.Background(), "ad-0", "720p", KindVideo)
	if err != nil {
		t.Fatalf("FetchAdSegment: %v", err)
	}
	if string(data) != "ad" {
		t.Errorf("unexpected body %q", data)
	}
}

func TestFetcher_upstreamErrorStatus(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer origin.Close()

	f := NewFetcher(origin.URL, origin.URL, 0)
	_, err := f.FetchSegment(context.Background(), "s", "seg", "", KindVideo)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestFetcher_upstreamTimeout(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer origin.Close()

	f := NewFetcher(origin.URL, origin.URL, 20*time.Millisecond)
	_, err := f.FetchPlaylist(context.Background(), "s", "playlist", "")
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable on timeout, got %v", err)
	}
}

func TestFetcher_cancelledContext(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer origin.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFetcher(origin.URL, origin.URL, 0)
	_, err := f.FetchSegment(ctx, "s", "seg", "", KindVideo)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable on cancel, got %v", err)
	}
}
