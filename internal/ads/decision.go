package ads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/akblv/hls/internal/sessionctx"
)

// Zone selects which ad-decision zone fills a break.
type Zone string

const (
	ZonePreroll Zone = "preroll"
	ZoneMidroll Zone = "midroll"
)

// DefaultRequestTimeout bounds every ad-decision call.
const DefaultRequestTimeout = 5 * time.Second

// Decision calls the external ad-decision service. All failures are
// absorbed: GetAd degrades to an empty response and SkipNext only logs.
type Decision struct {
	providerURL string
	client      *http.Client
	log         *slog.Logger
	onFailure   func()
}

// NewDecision returns a decision client for providerURL. timeout <= 0
// selects DefaultRequestTimeout. onFailure, when non-nil, is invoked once
// per absorbed failure.
func NewDecision(providerURL string, timeout time.Duration, log *slog.Logger, onFailure func()) *Decision {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Decision{
		providerURL: providerURL,
		client:      &http.Client{Timeout: timeout},
		log:         log,
		onFailure:   onFailure,
	}
}

// GetAd asks the decision service to fill a break. On any failure (timeout,
// non-2xx, network error, bad body) the empty response is returned so ad
// insertion degrades to "no ad content" instead of failing the viewer's
// request.
func (d *Decision) GetAd(ctx context.Context, breakID string, durationSeconds int64, preroll bool, sctx sessionctx.SessionContext) AdResponse {
	zone := ZoneMidroll
	if preroll {
		zone = ZonePreroll
	}
	url := fmt.Sprintf("%s?breakId=%s&zoneId=%s&duration=%d", d.providerURL, breakID, zone, durationSeconds)

	body, err := d.post(ctx, url, sctx)
	if err != nil {
		d.log.Error("failed to get ad", slog.String("url", url), slog.String("error", err.Error()))
		if d.onFailure != nil {
			d.onFailure()
		}
		return EmptyAdResponse()
	}

	resp := EmptyAdResponse()
	if err := json.Unmarshal(body, &resp); err != nil {
		d.log.Error("failed to parse ad response", slog.String("url", url), slog.String("error", err.Error()))
		if d.onFailure != nil {
			d.onFailure()
		}
		return EmptyAdResponse()
	}
	if resp.AdDetails == nil {
		resp.AdDetails = []AdDetails{}
	}
	return resp
}

// SkipNext notifies the decision service to skip the session's next ad.
// Fire-and-forget: failures are logged, never surfaced.
func (d *Decision) SkipNext(ctx context.Context, sctx sessionctx.SessionContext) {
	url := d.providerURL + "/skip-next"
	if _, err := d.post(ctx, url, sctx); err != nil {
		d.log.Warn("failed to skip next ad", slog.String("url", url), slog.String("error", err.Error()))
		return
	}
	d.log.Debug("skipped next ad", slog.String("url", url))
}

// post sends the session context as JSON with the device IP header and
// returns the response body for 2xx statuses.
func (d *Decision) post(ctx context.Context, url string, sctx sessionctx.SessionContext) ([]byte, error) {
	payload, err := json.Marshal(sctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-Ip", sctx.Connection.ClientIP)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
