package hls

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/akblv/hls/internal/platform/metrics"
	"github.com/akblv/hls/internal/sessionctx"

	"github.com/go-chi/chi/v5"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	videoContentType    = "video/MP2T"
	audioContentType    = "audio/aac"

	tokenQueryParam = "zt"
)

// Handler exposes the viewer-facing HLS endpoints and the ingest publish
// hooks using go-chi.
type Handler struct {
	svc        *Service
	enricher   *sessionctx.Enricher
	tokens     *TokenService
	transcoder *Transcoder
	log        *slog.Logger
	metrics    *metrics.Metrics

	// tokenGate redirects playlist requests without a valid zt token to a
	// freshly tokenized URL. Off by default; segment requests are never
	// gated.
	tokenGate bool
}

// NewHandler returns a Handler over the given Service. enricher, tokens,
// transcoder and m may be nil to disable enrichment, the token gate, the
// publish hooks, and metric recording respectively (e.g. in tests).
func NewHandler(svc *Service, enricher *sessionctx.Enricher, tokens *TokenService, transcoder *Transcoder, log *slog.Logger, m *metrics.Metrics, tokenGate bool) *Handler {
	return &Handler{
		svc:        svc,
		enricher:   enricher,
		tokens:     tokens,
		transcoder: transcoder,
		log:        log,
		metrics:    m,
		tokenGate:  tokenGate && tokens != nil,
	}
}

// Routes mounts all endpoints on the given router. The ads subtree is
// registered before the stream wildcard so chi resolves it statically.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/validate", h.ValidatePublish)
	r.Post("/done", h.DonePublish)
	r.Get("/ads/{file}", h.GetAdFile)
	r.Get("/ads/{quality}/{file}", h.GetAdFile)
	r.Get("/{stream}/{file}", h.GetStreamFile)
	r.Get("/{stream}/{quality}/{file}", h.GetStreamFile)
}

// ValidatePublish handles the ingest layer's on-publish callback. An
// invalid stream key rejects the publish with 400; a valid one starts the
// transcoder fire-and-forget.
func (h *Handler) ValidatePublish(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	name := r.FormValue("name")
	if !ValidStreamKey(name) {
		h.log.Info("publish rejected",
			slog.String("name", name),
			slog.String("error", ErrInvalidStreamKey.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if h.transcoder != nil {
		h.transcoder.Start(PublishRequest{
			App:      r.FormValue("app"),
			Addr:     r.FormValue("addr"),
			ClientID: r.FormValue("clientid"),
			Call:     r.FormValue("call"),
			TcURL:    r.FormValue("tcurl"),
			Name:     name,
			Type:     r.FormValue("type"),
		})
	}

	h.log.Info("publish accepted",
		slog.String("name", name),
		slog.String("addr", r.FormValue("addr")))
	w.WriteHeader(http.StatusOK)
	if h.metrics != nil {
		h.metrics.IncStreamsPublished()
	}
}

// DonePublish handles the ingest layer's on-done callback. The transcoder
// exits with its input; nothing to tear down here beyond logging.
func (h *Handler) DonePublish(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.log.Info("publish done",
		slog.String("name", r.FormValue("name")),
		slog.String("addr", r.FormValue("addr")))
	w.WriteHeader(http.StatusOK)
}

// GetStreamFile serves playlists and media segments for a stream,
// dispatching on the requested file's extension.
func (h *Handler) GetStreamFile(w http.ResponseWriter, r *http.Request) {
	stream := chi.URLParam(r, "stream")
	quality := chi.URLParam(r, "quality")
	name, ext, ok := splitFile(chi.URLParam(r, "file"))
	if !ok || stream == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch ext {
	case "m3u8":
		h.servePlaylist(w, r, stream, name, quality)
	case "ts":
		h.serveSegment(w, r, stream, name, quality, KindVideo)
	case "aac":
		h.serveSegment(w, r, stream, name, quality, KindAudio)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// GetAdFile serves ad segments from the ad origin. Ad fetches never
// advance the session's cue counter.
func (h *Handler) GetAdFile(w http.ResponseWriter, r *http.Request) {
	quality := chi.URLParam(r, "quality")
	name, ext, ok := splitFile(chi.URLParam(r, "file"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var kind MediaKind
	switch ext {
	case "ts":
		kind = KindVideo
	case "aac":
		kind = KindAudio
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	data, err := h.svc.AdSegment(r.Context(), name, quality, h.sessionKey(r, ""), kind)
	if err != nil {
		h.upstreamError(w, "ad segment", name, err)
		return
	}

	w.Header().Set("Content-Type", kind.contentType())
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) servePlaylist(w http.ResponseWriter, r *http.Request, stream, name, quality string) {
	if h.tokenGate && !h.tokens.Validate(r.URL.Query().Get(tokenQueryParam), stream) {
		h.redirectWithToken(w, r, stream)
		return
	}

	key := h.sessionKey(r, stream)
	var sctx sessionctx.SessionContext
	if h.enricher != nil {
		sctx = h.enricher.Enrich(r.Context(), r, stream, key)
	}

	out, err := h.svc.Playlist(r.Context(), stream, name, quality, key, sctx)
	if err != nil {
		h.upstreamError(w, "playlist", stream, err)
		return
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(out))
}

func (h *Handler) serveSegment(w http.ResponseWriter, r *http.Request, stream, name, quality string, kind MediaKind) {
	data, err := h.svc.Segment(r.Context(), stream, name, quality, h.sessionKey(r, stream), kind)
	if err != nil {
		h.upstreamError(w, "segment", stream, err)
		return
	}

	w.Header().Set("Content-Type", kind.contentType())
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// redirectWithToken answers 307 to the same URL carrying a freshly
// generated token, so unmodified players re-request and pass the gate.
func (h *Handler) redirectWithToken(w http.ResponseWriter, r *http.Request, stream string) {
	q := r.URL.Query()
	q.Set(tokenQueryParam, h.tokens.Generate(stream))
	target := url.URL{Path: r.URL.Path, RawQuery: q.Encode()}

	h.log.Debug("redirecting to tokenized url", slog.String("stream", stream))
	http.Redirect(w, r, target.String(), http.StatusTemporaryRedirect)
}

// sessionKey identifies the viewer: the token's session id when a valid
// token rides on the request, else the client address.
func (h *Handler) sessionKey(r *http.Request, stream string) string {
	if h.tokens != nil {
		if token := r.URL.Query().Get(tokenQueryParam); token != "" {
			if params, err := h.tokens.Params(token); err == nil && (stream == "" || params.Stream == stream) {
				return params.ID
			}
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (h *Handler) upstreamError(w http.ResponseWriter, what, subject string, err error) {
	h.log.Error("fetch failed",
		slog.String("what", what),
		slog.String("subject", subject),
		slog.String("error", err.Error()))
	if errors.Is(err, ErrUpstreamUnavailable) {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
}

// splitFile separates "chunk-42.ts" into name and extension. Files without
// an extension do not resolve to anything servable.
func splitFile(file string) (name, ext string, ok bool) {
	i := strings.LastIndexByte(file, '.')
	if i <= 0 || i == len(file)-1 {
		return "", "", false
	}
	return file[:i], file[i+1:], true
}
