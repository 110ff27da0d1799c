package sessionctx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds every enrichment round-trip.
const DefaultTimeout = 5 * time.Second

// Enricher builds SessionContext payloads from inbound requests and enhances
// them through the external context service. Every failure degrades to the
// locally-built context; the viewer-facing request never fails because
// enrichment failed.
type Enricher struct {
	serviceURL string
	publicIP   string
	timeout    time.Duration
	client     *http.Client
	log        *slog.Logger

	// onFailure, when set, is invoked once per absorbed enrichment failure.
	onFailure func()

	mu        sync.RWMutex
	upstreams map[string]string
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithPublicIP overrides both client and server IP in built contexts, for
// deployments behind NAT where the local addresses are meaningless.
func WithPublicIP(ip string) Option {
	return func(e *Enricher) { e.publicIP = ip }
}

// WithTimeout bounds the enrichment round-trip.
func WithTimeout(d time.Duration) Option {
	return func(e *Enricher) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithFailureHook registers a callback invoked on every absorbed failure.
func WithFailureHook(fn func()) Option {
	return func(e *Enricher) { e.onFailure = fn }
}

// NewEnricher returns an enricher posting to serviceURL. An empty serviceURL
// disables the external call; Enrich then returns the locally-built context.
func NewEnricher(serviceURL string, log *slog.Logger, opts ...Option) *Enricher {
	e := &Enricher{
		serviceURL: serviceURL,
		timeout:    DefaultTimeout,
		log:        log,
		upstreams:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.client = &http.Client{Timeout: e.timeout}
	return e
}

// Enrich builds the context for the inbound request and posts it to the
// context service. On a 200 response with a parseable body the enhanced
// context is returned and its resolved upstream cached for the stream key;
// on any failure the locally-built context is returned.
func (e *Enricher) Enrich(ctx context.Context, r *http.Request, stream, sessionID string) SessionContext {
	local := e.Build(r, stream, sessionID)
	if e.serviceURL == "" {
		return local
	}

	url := e.serviceURL
	if q := r.URL.RawQuery; q != "" {
		url += "?" + q
	}

	body, err := json.Marshal(local)
	if err != nil {
		return e.fail(local, stream, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return e.fail(local, stream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-session-id", sessionID)

	resp, err := e.client.Do(req)
	if err != nil {
		return e.fail(local, stream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		e.log.Warn("context service returned non-200",
			slog.String("stream", stream),
			slog.Int("status", resp.StatusCode))
		if e.onFailure != nil {
			e.onFailure()
		}
		return local
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return e.fail(local, stream, err)
	}

	var enhanced SessionContext
	if err := json.Unmarshal(respBody, &enhanced); err != nil {
		e.log.Warn("failed to parse enhanced session context",
			slog.String("stream", stream),
			slog.String("error", err.Error()))
		return local
	}

	if up := enhanced.Content.Upstream; up != "" {
		e.mu.Lock()
		e.upstreams[stream] = up
		e.mu.Unlock()
	}
	return enhanced
}

func (e *Enricher) fail(local SessionContext, stream string, err error) SessionContext {
	e.log.Error("failed to get session context",
		slog.String("url", e.serviceURL),
		slog.String("client_ip", local.Connection.ClientIP),
		slog.String("stream", stream),
		slog.String("error", err.Error()))
	if e.onFailure != nil {
		e.onFailure()
	}
	return local
}

// Build assembles the local SessionContext from request metadata.
func (e *Enricher) Build(r *http.Request, stream, sessionID string) SessionContext {
	clientIP := hostOnly(r.RemoteAddr)
	serverIP := hostOnly(r.Host)
	if e.publicIP != "" {
		clientIP = e.publicIP
		serverIP = e.publicIP
	}

	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}

	params := r.URL.Query()
	first := func(keys ...string) string {
		for _, k := range keys {
			if v := params.Get(k); v != "" {
				return v
			}
		}
		return ""
	}

	content := Content{Stream: stream}
	e.mu.RLock()
	content.Upstream = e.upstreams[stream]
	e.mu.RUnlock()

	return SessionContext{
		ID: sessionID,
		Connection: Connection{
			Connected: time.Now().UnixMilli(),
			Domain:    hostOnly(r.Host),
			ServerIP:  serverIP,
			ClientIP:  clientIP,
			SSL:       r.TLS != nil,
			HLS:       strings.HasPrefix(r.URL.Path, "/hls/"),
			Headers: RequestHeaders{
				XListenerID: r.Header.Get("X-Listener-Id"),
				UserAgent:   r.Header.Get("User-Agent"),
				Language:    r.Header.Get("Accept-Language"),
				Referer:     r.Header.Get("Referer"),
			},
			Request: RequestInfo{
				Method:  r.Method,
				URI:     r.URL.String(),
				Headers: headers,
			},
		},
		Listener: Listener{
			Application: ApplicationInfo{
				AdvertisingID: params.Get("advertisingId"),
				UserID:        params.Get("userId"),
				GDPR:          params.Get("gdpr"),
				GDPRConsent:   params.Get("gdpr_consent"),
				DNT:           params.Get("dnt"),
				LSID:          params.Get("lsid"),
				BundleID:      first("bundle-id", "bundleId"),
				StoreID:       first("store-id", "storeId"),
				StoreURL:      first("store-url", "storeUrl"),
				Name:          first("dist", "DIST"),
			},
		},
		Content: content,
	}
}

// CachedUpstream returns the resolved upstream for a stream key, if any.
func (e *Enricher) CachedUpstream(stream string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	up, ok := e.upstreams[stream]
	return up, ok
}

// hostOnly strips a port from a host:port string when one is present.
func hostOnly(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}
