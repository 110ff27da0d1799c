package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// ErrUpstreamUnavailable is returned when the origin or ad origin is
// unreachable, times out, or answers with a non-success status.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// MediaKind selects the media extension used when building upstream URLs.
type MediaKind int

const (
	// KindVideo addresses MPEG-TS video segments (.ts).
	KindVideo MediaKind = iota
	// KindAudio addresses AAC audio segments (.aac).
	KindAudio
)

func (k MediaKind) extension() string {
	if k == KindAudio {
		return "aac"
	}
	return "ts"
}

func (k MediaKind) contentType() string {
	if k == KindAudio {
		return audioContentType
	}
	return videoContentType
}

// DefaultFetchTimeout bounds every upstream request so a slow origin cannot
// stall the serving path.
const DefaultFetchTimeout = 5 * time.Second

// Fetcher resolves quality-qualified names against the content origin and
// the ad origin and proxies the raw bytes. It performs no side effects; cue
// and metrics updates belong to the caller.
type Fetcher struct {
	origin   string
	adOrigin string
	client   *http.Client
}

// newProxyTransport caps concurrent connections per upstream host so a dead
// origin under load cannot exhaust the process.
func newProxyTransport() *http.Transport {
	return &http.Transport{
		MaxConnsPerHost:     100,
		MaxIdleConnsPerHost: 10,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// NewFetcher returns a fetcher for the given origin and ad origin base URLs.
// timeout <= 0 selects DefaultFetchTimeout.
func NewFetcher(origin, adOrigin string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Fetcher{
		origin:   origin,
		adOrigin: adOrigin,
		client: &http.Client{
			Timeout:   timeout,
			Transport: newProxyTransport(),
		},
	}
}

// FetchPlaylist fetches the raw playlist text for stream/quality/name from
// the content origin.
func (f *Fetcher) FetchPlaylist(ctx context.Context, stream, name, quality string) (string, error) {
	url := buildPath(f.origin+"/"+stream, quality, name, "m3u8")
	body, err := f.get(ctx, url)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchSegment fetches a media segment for stream/quality/name from the
// content origin.
func (f *Fetcher) FetchSegment(ctx context.Context, stream, name, quality string, kind MediaKind) ([]byte, error) {
	url := buildPath(f.origin+"/"+stream, quality, name, kind.extension())
	return f.get(ctx, url)
}

// FetchAdSegment fetches an ad segment from the ad origin.
func (f *Fetcher) FetchAdSegment(ctx context.Context, name, quality string, kind MediaKind) ([]byte, error) {
	url := buildPath(f.adOrigin, quality, name, kind.extension())
	return f.get(ctx, url)
}

// get performs the upstream request, passing response bytes through
// unmodified. Transport errors and non-2xx statuses both surface as
// ErrUpstreamUnavailable.
func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, url, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s: status %d", ErrUpstreamUnavailable, url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstreamUnavailable, url, err)
	}
	return body, nil
}

// buildPath joins base, optional quality, and name.ext:
// "origin/stream[/quality]/name.ext".
func buildPath(base, quality, name, ext string) string {
	if quality != "" {
		base += "/" + quality
	}
	return fmt.Sprintf("%s/%s.%s", base, name, ext)
}
