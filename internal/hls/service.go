package hls

import (
	"context"
	"log/slog"

	"github.com/akblv/hls/internal/ads"
	"github.com/akblv/hls/internal/platform/metrics"
	"github.com/akblv/hls/internal/sessionctx"

	"github.com/google/uuid"
)

// Service applies the ad-insertion business logic on top of the origin
// proxy: playlist fetches go through the rewriter, segment fetches advance
// the session cue and metrics, ad fetches update metrics only.
type Service struct {
	registry *Registry
	fetcher  *Fetcher
	rewriter *Rewriter
	decision *ads.Decision // nil disables the advisory ad-decision call
	metrics  *metrics.Metrics
	log      *slog.Logger

	// frequencySegments is the cadence applied to newly created sessions.
	frequencySegments int

	// adBreakSeconds is the total break duration reported to the decision
	// service.
	adBreakSeconds int64
}

// NewService wires the fetch/rewrite/session components. decision and m may
// be nil (e.g. in tests) to disable ad-decision calls and metric recording.
func NewService(registry *Registry, fetcher *Fetcher, rewriter *Rewriter, decision *ads.Decision, m *metrics.Metrics, log *slog.Logger, frequencySegments int, adBreakSeconds int64) *Service {
	return &Service{
		registry:          registry,
		fetcher:           fetcher,
		rewriter:          rewriter,
		decision:          decision,
		metrics:           m,
		log:               log,
		frequencySegments: frequencySegments,
		adBreakSeconds:    adBreakSeconds,
	}
}

// Registry exposes the session registry (for the active-sessions gauge).
func (s *Service) Registry() *Registry { return s.registry }

// Playlist fetches the origin playlist and rewrites it for the viewer's
// session. An empty origin body yields an empty result with no session side
// effects.
func (s *Service) Playlist(ctx context.Context, stream, name, quality, sessionKey string, sctx sessionctx.SessionContext) (string, error) {
	raw, err := s.fetcher.FetchPlaylist(ctx, stream, name, quality)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncUpstreamErrors()
		}
		return "", err
	}

	session := s.registry.GetOrCreate(sessionKey, s.frequencySegments)
	out, inserted := s.rewriter.Rewrite(raw, name, quality, session)
	if inserted {
		if s.metrics != nil {
			s.metrics.IncAdBreaksInserted()
		}
		s.log.Info("inserted ad break",
			slog.String("stream", stream),
			slog.String("quality", quality),
			slog.String("session", sessionKey))
		s.requestAdDecision(sctx)
	}
	return out, nil
}

// requestAdDecision asks the decision service to fill the break just
// inserted. Advisory only: it runs off the request path and its failure is
// absorbed by the decision client.
func (s *Service) requestAdDecision(sctx sessionctx.SessionContext) {
	if s.decision == nil {
		return
	}
	breakID := uuid.NewString()
	go func() {
		resp := s.decision.GetAd(context.Background(), breakID, s.adBreakSeconds, false, sctx)
		s.log.Debug("ad decision",
			slog.String("break_id", breakID),
			slog.String("decision_id", resp.ID),
			slog.Int("ads", len(resp.AdDetails)))
	}()
}

// Segment proxies a media segment from the content origin. On success the
// session cue advances and per-quality metrics record the chunk.
func (s *Service) Segment(ctx context.Context, stream, name, quality, sessionKey string, kind MediaKind) ([]byte, error) {
	data, err := s.fetcher.FetchSegment(ctx, stream, name, quality, kind)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncUpstreamErrors()
		}
		return nil, err
	}

	session := s.registry.GetOrCreate(sessionKey, s.frequencySegments)
	session.OnSegmentServed()
	session.Metrics(quality).Update(name+"."+kind.extension(), int64(len(data)))
	if s.metrics != nil {
		s.metrics.ObserveSegmentServed(quality, int64(len(data)))
	}
	return data, nil
}

// AdSegment proxies an ad segment from the ad origin. Metrics record the
// fetch under the ads namespace; the session cue must not advance, since
// ads do not count toward the next cadence.
func (s *Service) AdSegment(ctx context.Context, name, quality, sessionKey string, kind MediaKind) ([]byte, error) {
	data, err := s.fetcher.FetchAdSegment(ctx, name, quality, kind)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IncUpstreamErrors()
		}
		return nil, err
	}

	session := s.registry.GetOrCreate(sessionKey, s.frequencySegments)
	chunk := buildPath("ads", quality, name, kind.extension())
	session.Metrics(quality).Update(chunk, int64(len(data)))
	if s.metrics != nil {
		s.metrics.ObserveSegmentServed("ads", int64(len(data)))
	}
	return data, nil
}
