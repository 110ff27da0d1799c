package ads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/akblv/hls/internal/cache"
)

// Catalog talks to the ad-media service for catalog lookups, codec-setting
// resolution, and transcoded file retrieval. Catalog items and codec
// settings are cached in independently-configured TTL caches.
type Catalog struct {
	serviceURL string
	client     *http.Client
	log        *slog.Logger

	itemsByURL *cache.Cache[CatalogItem]
	codecCache *cache.Cache[CodecSettings]
}

// NewCatalog returns a catalog client. catalogTTL and codecTTL configure the
// two cache instances; timeout <= 0 selects DefaultRequestTimeout.
func NewCatalog(serviceURL string, timeout, catalogTTL, codecTTL time.Duration, log *slog.Logger) *Catalog {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Catalog{
		serviceURL: serviceURL,
		client:     &http.Client{Timeout: timeout},
		log:        log,
		itemsByURL: cache.New[CatalogItem](catalogTTL),
		codecCache: cache.New[CodecSettings](codecTTL),
	}
}

// ItemCache exposes the catalog-item cache for sweep scheduling.
func (c *Catalog) ItemCache() *cache.Cache[CatalogItem] { return c.itemsByURL }

// CodecCache exposes the codec-settings cache for sweep scheduling.
func (c *Catalog) CodecCache() *cache.Cache[CodecSettings] { return c.codecCache }

// ItemByURL resolves the catalog item for a source URL, cached by that URL.
// Items lacking a content hash are returned to the caller but never cached.
func (c *Catalog) ItemByURL(ctx context.Context, sourceURL string) (CatalogItem, error) {
	return c.itemsByURL.Get(sourceURL, func(key string) (CatalogItem, bool, error) {
		requestURL := c.serviceURL + "/media/items/find?url=" + url.QueryEscape(key)
		body, err := c.get(ctx, requestURL, nil)
		if err != nil {
			return CatalogItem{}, false, fmt.Errorf("catalog item for %s: %w", key, err)
		}
		var item CatalogItem
		if err := json.Unmarshal(body, &item); err != nil {
			return CatalogItem{}, false, fmt.Errorf("catalog item for %s: %w", key, err)
		}
		if item.ContentHash == "" {
			c.log.Warn("got ad media item without a content hash",
				slog.String("url", key),
				slog.String("id", item.ID))
			return item, false, nil
		}
		return item, true, nil
	})
}

// ItemsPaginated lists catalog items for a mount. Failures degrade to an
// empty list.
func (c *Catalog) ItemsPaginated(ctx context.Context, mount, from, size, page string) []CatalogItem {
	q := url.Values{}
	q.Set("stream", mount)
	q.Set("page", page)
	q.Set("size", size)
	q.Set("from", from)
	requestURL := c.serviceURL + "/media/items?" + q.Encode()

	body, err := c.get(ctx, requestURL, nil)
	if err != nil {
		c.log.Warn("failed retrieving ad media page",
			slog.String("page", page),
			slog.String("error", err.Error()))
		return []CatalogItem{}
	}
	var items []CatalogItem
	if err := json.Unmarshal(body, &items); err != nil {
		c.log.Warn("failed parsing ad media page",
			slog.String("page", page),
			slog.String("error", err.Error()))
		return []CatalogItem{}
	}
	return items
}

// CodecSettings resolves the transcode setting for a codec parameter set,
// cached by the parameter signature.
func (c *Catalog) CodecSettings(ctx context.Context, info CodecInfo) (CodecSettings, error) {
	return c.codecCache.Get(info.Signature(), func(string) (CodecSettings, bool, error) {
		payload, err := json.Marshal(CodecSettings{
			Codec:      info.Codec,
			BitRate:    info.BitRate,
			SampleRate: info.SampleRate,
			Channels:   info.Channels,
			Profile:    info.Profile,
			Duration:   info.Duration,
		})
		if err != nil {
			return CodecSettings{}, false, err
		}

		requestURL := c.serviceURL + "/codecsettings/codecsetting"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(payload))
		if err != nil {
			return CodecSettings{}, false, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return CodecSettings{}, false, fmt.Errorf("codec settings: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return CodecSettings{}, false, fmt.Errorf("codec settings: status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return CodecSettings{}, false, fmt.Errorf("codec settings: %w", err)
		}

		var settings CodecSettings
		if err := json.Unmarshal(body, &settings); err != nil {
			return CodecSettings{}, false, fmt.Errorf("codec settings: %w", err)
		}
		return settings, true, nil
	})
}

// TranscodedFile fetches the transcoded ad media file matching a codec
// setting. loudnessTarget may be nil.
func (c *Catalog) TranscodedFile(ctx context.Context, mediaID, codecID string, loudnessTarget *int) ([]byte, error) {
	lt := ""
	if loudnessTarget != nil {
		lt = fmt.Sprintf("%d", *loudnessTarget)
	}
	requestURL := fmt.Sprintf("%s/media/items/%s/files/transcoded?codecId=%s&loudnessTarget=%s",
		c.serviceURL, url.PathEscape(mediaID), url.QueryEscape(codecID), url.QueryEscape(lt))

	body, err := c.get(ctx, requestURL, map[string]string{"x-item-id": mediaID})
	if err != nil {
		return nil, fmt.Errorf("transcoded file for %s: %w", mediaID, err)
	}
	return body, nil
}

func (c *Catalog) get(ctx context.Context, requestURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
