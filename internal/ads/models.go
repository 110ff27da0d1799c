// Package ads talks to the external ad-decision and ad-media services.
// Every viewer-facing call degrades to an empty result on failure.
package ads

import (
	"fmt"
	"strconv"
)

// AdDetails describes one ad filling part of a break.
type AdDetails struct {
	ID          string  `json:"id,omitempty"`
	MediaURL    string  `json:"mediaUrl,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	TrackingURL string  `json:"trackingUrl,omitempty"`
}

// AdResponse is the ad-decision result for one break. The zero-content
// response (empty ID, empty details) is the graceful-degradation value.
type AdResponse struct {
	ID        string      `json:"id,omitempty"`
	AdDetails []AdDetails `json:"adDetailsList"`
}

// EmptyAdResponse returns the degraded "no ad content" response.
func EmptyAdResponse() AdResponse {
	return AdResponse{AdDetails: []AdDetails{}}
}

// CatalogItem is one entry of the ad-media catalog, keyed by its source URL.
// Items without a ContentHash have no stable identity and must never be
// cached.
type CatalogItem struct {
	ID          string `json:"id,omitempty"`
	URL         string `json:"url,omitempty"`
	ContentHash string `json:"contentHash,omitempty"`
	Title       string `json:"title,omitempty"`
	Duration    int    `json:"duration,omitempty"`
}

// CodecInfo describes the codec parameters a transcoded ad file must match.
type CodecInfo struct {
	SampleRate string
	BitRate    string
	Codec      string
	Channels   string
	Profile    string  // optional
	Duration   float64 // optional, 0 means unset
}

// Signature returns the cache key for this parameter combination.
func (c CodecInfo) Signature() string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		c.SampleRate, c.BitRate, c.Codec, c.Channels, c.Profile,
		strconv.FormatFloat(c.Duration, 'f', -1, 64))
}

// CodecSettings is the resolved transcode setting for a codec parameter set.
type CodecSettings struct {
	ID         string  `json:"id,omitempty"`
	Codec      string  `json:"codec,omitempty"`
	BitRate    string  `json:"bitRate,omitempty"`
	SampleRate string  `json:"sampleRate,omitempty"`
	Channels   string  `json:"channels,omitempty"`
	Profile    string  `json:"profile,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
}
