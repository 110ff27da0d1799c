// Package sessionctx builds per-request session context payloads and
// optionally enhances them via an external context service.
package sessionctx

// RequestHeaders carries the inbound headers of interest for targeting.
type RequestHeaders struct {
	XListenerID string `json:"xListenerId,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
	Language    string `json:"language,omitempty"`
	Referer     string `json:"referer,omitempty"`
}

// RequestInfo describes the inbound request itself.
type RequestInfo struct {
	Method  string            `json:"method,omitempty"`
	URI     string            `json:"uri,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Connection describes the viewer's connection to this server.
type Connection struct {
	Connected int64          `json:"connected,omitempty"`
	Domain    string         `json:"domain,omitempty"`
	ServerIP  string         `json:"serverIp,omitempty"`
	ClientIP  string         `json:"clientIp,omitempty"`
	SSL       bool           `json:"ssl"`
	HLS       bool           `json:"hls"`
	Headers   RequestHeaders `json:"headers"`
	Request   RequestInfo    `json:"request"`
}

// ApplicationInfo carries the targeting parameters mapped from the query
// string.
type ApplicationInfo struct {
	AdvertisingID string `json:"advertisingId,omitempty"`
	UserID        string `json:"userId,omitempty"`
	GDPR          string `json:"gdpr,omitempty"`
	GDPRConsent   string `json:"gdprConsent,omitempty"`
	DNT           string `json:"dnt,omitempty"`
	LSID          string `json:"lsid,omitempty"`
	BundleID      string `json:"bundleId,omitempty"`
	StoreID       string `json:"storeId,omitempty"`
	StoreURL      string `json:"storeUrl,omitempty"`
	Name          string `json:"name,omitempty"`
}

// Listener wraps the application targeting info.
type Listener struct {
	Application ApplicationInfo `json:"application"`
}

// Content identifies the stream being played and, when known, the resolved
// content upstream.
type Content struct {
	Stream   string `json:"stream,omitempty"`
	Upstream string `json:"upstream,omitempty"`
}

// SessionContext is the per-request payload sent to the context service and
// to the ad-decision service. It is never persisted.
type SessionContext struct {
	ID         string     `json:"id,omitempty"`
	Connection Connection `json:"connection"`
	Listener   Listener   `json:"listener"`
	Content    Content    `json:"content"`
}
