package ads

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akblv/hls/internal/sessionctx"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func viewerContext() sessionctx.SessionContext {
	return sessionctx.SessionContext{
		ID:         "sess-1",
		Connection: sessionctx.Connection{ClientIP: "203.0.113.9"},
	}
}

func TestDecision_GetAd(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "203.0.113.9", r.Header.Get("X-Device-Ip"))
		assert.Equal(t, "break-1", r.URL.Query().Get("breakId"))
		assert.Equal(t, "midroll", r.URL.Query().Get("zoneId"))
		assert.Equal(t, "15", r.URL.Query().Get("duration"))

		var sctx sessionctx.SessionContext
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sctx))
		assert.Equal(t, "sess-1", sctx.ID)

		json.NewEncoder(w).Encode(AdResponse{
			ID:        "decision-9",
			AdDetails: []AdDetails{{ID: "creative-1", Duration: 15}},
		})
	}))
	defer provider.Close()

	d := NewDecision(provider.URL, 0, testLogger(), nil)
	resp := d.GetAd(context.Background(), "break-1", 15, false, viewerContext())

	assert.Equal(t, "decision-9", resp.ID)
	require.Len(t, resp.AdDetails, 1)
	assert.Equal(t, "creative-1", resp.AdDetails[0].ID)
}

func TestDecision_GetAd_prerollZone(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "preroll", r.URL.Query().Get("zoneId"))
		json.NewEncoder(w).Encode(EmptyAdResponse())
	}))
	defer provider.Close()

	d := NewDecision(provider.URL, 0, testLogger(), nil)
	d.GetAd(context.Background(), "break-1", 15, true, viewerContext())
}

func TestDecision_GetAd_serverErrorDegrades(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer provider.Close()

	failures := 0
	d := NewDecision(provider.URL, 0, testLogger(), func() { failures++ })
	resp := d.GetAd(context.Background(), "break-1", 15, false, viewerContext())

	assert.Empty(t, resp.ID)
	assert.NotNil(t, resp.AdDetails)
	assert.Empty(t, resp.AdDetails)
	assert.Equal(t, 1, failures)
}

func TestDecision_GetAd_timeoutDegradesWithinBound(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer provider.Close()

	d := NewDecision(provider.URL, 30*time.Millisecond, testLogger(), nil)

	start := time.Now()
	resp := d.GetAd(context.Background(), "break-1", 15, false, viewerContext())
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Empty(t, resp.ID)
	assert.Empty(t, resp.AdDetails)
}

func TestDecision_GetAd_unreachableDegrades(t *testing.T) {
	d := NewDecision("http://127.0.0.1:1", 50*time.Millisecond, testLogger(), nil)
	resp := d.GetAd(context.Background(), "break-1", 15, false, viewerContext())
	assert.Empty(t, resp.ID)
	assert.NotNil(t, resp.AdDetails)
}

func TestDecision_SkipNext(t *testing.T) {
	called := make(chan struct{}, 1)
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/skip-next", r.URL.Path)
		called <- struct{}{}
	}))
	defer provider.Close()

	d := NewDecision(provider.URL, 0, testLogger(), nil)
	d.SkipNext(context.Background(), viewerContext())

	select {
	case <-called:
	default:
		t.Fatal("skip-next endpoint was not called")
	}
}

func TestDecision_SkipNext_failureIsAbsorbed(t *testing.T) {
	d := NewDecision("http://127.0.0.1:1", 50*time.Millisecond, testLogger(), nil)
	// Must not panic or surface anything.
	d.SkipNext(context.Background(), viewerContext())
}
