package hls

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidToken is returned when a session token fails to parse or its
// signature does not verify.
var ErrInvalidToken = errors.New("invalid session token")

// TokenParams is the payload carried by a session token. The ID doubles as
// the viewer's session key when the token gate is enabled.
type TokenParams struct {
	ID         string `json:"id"`
	Stream     string `json:"stream"`
	Host       string `json:"host"`
	Expiration int64  `json:"expiration"`
}

// TokenService issues and validates stateless signed session tokens for the
// zt playlist gate.
type TokenService struct {
	secret []byte
	host   string
	ttl    time.Duration
}

// NewTokenService returns a token service signing with secret. host is
// embedded in issued tokens; ttl bounds their validity.
func NewTokenService(secret, host string, ttl time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), host: host, ttl: ttl}
}

// Generate issues a signed token for stream with a fresh session id.
func (t *TokenService) Generate(stream string) string {
	params := TokenParams{
		ID:         uuid.NewString(),
		Stream:     stream,
		Host:       t.host,
		Expiration: time.Now().Add(t.ttl).UnixMilli(),
	}
	payload, _ := json.Marshal(params)
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + t.sign(encoded)
}

// Params verifies the token signature and returns its payload.
func (t *TokenService) Params(token string) (TokenParams, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok || !hmac.Equal([]byte(t.sign(encoded)), []byte(sig)) {
		return TokenParams{}, ErrInvalidToken
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return TokenParams{}, ErrInvalidToken
	}
	var params TokenParams
	if err := json.Unmarshal(payload, &params); err != nil {
		return TokenParams{}, ErrInvalidToken
	}
	return params, nil
}

// Validate reports whether token is well-formed, unexpired, issued for
// stream, and issued by this host.
func (t *TokenService) Validate(token, stream string) bool {
	if token == "" {
		return false
	}
	params, err := t.Params(token)
	if err != nil {
		return false
	}
	if params.Expiration <= time.Now().UnixMilli() {
		return false
	}
	if params.Stream != stream {
		return false
	}
	return params.Host == t.host
}

func (t *TokenService) sign(encoded string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
