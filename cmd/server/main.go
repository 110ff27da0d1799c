package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akblv/hls/internal/ads"
	"github.com/akblv/hls/internal/hls"
	"github.com/akblv/hls/internal/platform/config"
	"github.com/akblv/hls/internal/platform/logger"
	"github.com/akblv/hls/internal/platform/metrics"
	"github.com/akblv/hls/internal/sessionctx"

	"github.com/go-chi/chi/v5"
	"github.com/robfig/cron/v3"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	origin := config.GetEnv("ORIGIN_URL", "http://localhost:8081/hls")
	adOrigin := config.GetEnv("AD_ORIGIN_URL", "http://localhost:8081/ads")
	fetchTimeout := config.GetEnvDuration("FETCH_TIMEOUT", hls.DefaultFetchTimeout)

	frequency := config.GetEnvInt("AD_FREQUENCY_SEGMENTS", 3)
	policyName := config.GetEnv("AD_CADENCE_POLICY", "event")
	adSegmentSeconds := config.GetEnvInt("AD_SEGMENT_SECONDS", 10)
	breakThreshold := config.GetEnvInt("AD_BREAK_THRESHOLD_SECONDS", 120)

	decisionURL := config.GetEnv("AD_DECISION_URL", "")
	catalogURL := config.GetEnv("AD_CATALOG_URL", "")
	catalogTTL := config.GetEnvDuration("AD_CATALOG_TTL", 5*time.Minute)
	codecTTL := config.GetEnvDuration("CODEC_SETTINGS_TTL", 5*time.Minute)
	sweepInterval := config.GetEnvDuration("CACHE_SWEEP_INTERVAL", time.Minute)

	contextURL := config.GetEnv("SESSION_CONTEXT_URL", "")
	publicIP := config.GetEnv("PUBLIC_IP", "")

	tokenGate := config.GetEnvBool("TOKEN_GATE", false)
	tokenSecret := config.GetEnv("TOKEN_SECRET", "")
	tokenHost := config.GetEnv("TOKEN_HOST", "")
	tokenTTL := config.GetEnvDuration("TOKEN_TTL", time.Hour)

	transcodeOutput := config.GetEnv("TRANSCODE_OUTPUT_PATH", "/tmp/hls")

	log := logger.New(logLevel, logFormat)
	met := metrics.New()

	policy := hls.PolicyEventDriven
	if policyName == "duration" {
		policy = hls.PolicyDurationAccumulated
	}

	var decision *ads.Decision
	if decisionURL != "" {
		decision = ads.NewDecision(decisionURL, ads.DefaultRequestTimeout, log, met.IncAdDecisionFailures)
	}

	var catalog *ads.Catalog
	if catalogURL != "" {
		catalog = ads.NewCatalog(catalogURL, ads.DefaultRequestTimeout, catalogTTL, codecTTL, log)
	}

	var enricher *sessionctx.Enricher
	if contextURL != "" {
		opts := []sessionctx.Option{sessionctx.WithFailureHook(met.IncEnrichmentFailures)}
		if publicIP != "" {
			opts = append(opts, sessionctx.WithPublicIP(publicIP))
		}
		enricher = sessionctx.NewEnricher(contextURL, log, opts...)
	}

	var tokens *hls.TokenService
	if tokenSecret != "" {
		tokens = hls.NewTokenService(tokenSecret, tokenHost, tokenTTL)
	}

	registry := hls.NewRegistry()
	fetcher := hls.NewFetcher(origin, adOrigin, fetchTimeout)
	rewriter := hls.NewRewriter(policy, adSegmentSeconds, float64(breakThreshold))
	adBreakSeconds := int64(adSegmentSeconds) * int64(len(hls.DefaultAdSegments))
	svc := hls.NewService(registry, fetcher, rewriter, decision, met, log, frequency, adBreakSeconds)
	transcoder := hls.NewTranscoder(transcodeOutput, log)
	h := hls.NewHandler(svc, enricher, tokens, transcoder, log, met, tokenGate)

	sweeper := cron.New()
	if catalog != nil {
		spec := fmt.Sprintf("@every %s", sweepInterval)
		sweeper.AddFunc(spec, func() {
			removed := catalog.ItemCache().Sweep(time.Now())
			removed += catalog.CodecCache().Sweep(time.Now())
			if removed > 0 {
				log.Debug("cache sweep", "removed", removed)
			}
		})
		sweeper.Start()
		defer sweeper.Stop()
	}

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(registry.Len()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"origin", origin,
		"ad_origin", adOrigin,
		"cadence_policy", policyName,
		"frequency_segments", frequency,
		"token_gate", tokenGate,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
