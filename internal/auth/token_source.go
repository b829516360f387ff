package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// DefaultRefreshBuffer is how long before expiry a cached token is considered
// stale and re-fetched.
const DefaultRefreshBuffer = 60 * time.Second

// maxTokenResponseBytes bounds the token endpoint response body.
const maxTokenResponseBytes = 64 << 10

// TokenSource supplies the bearer token for a connection attempt. Token is
// called once per dial (including each reconnect attempt), so sources backed
// by short-lived credentials can refresh between attempts.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns the same fixed token on every call.
type StaticTokenSource struct {
	token string
}

// NewStaticTokenSource wraps a fixed token.
func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

// Token implements [TokenSource].
func (s *StaticTokenSource) Token(context.Context) (string, error) {
	if s.token == "" {
		return "", errors.New("auth: static token is empty")
	}
	return s.token, nil
}

// EndpointOption configures an [EndpointTokenSource].
type EndpointOption func(*EndpointTokenSource)

// WithHeaders sets custom headers sent with every token request.
func WithHeaders(h map[string]string) EndpointOption {
	return func(s *EndpointTokenSource) {
		s.headers = h
	}
}

// WithRefreshBuffer sets how long before expiry the cached token is
// re-fetched. The default is [DefaultRefreshBuffer].
func WithRefreshBuffer(d time.Duration) EndpointOption {
	return func(s *EndpointTokenSource) {
		if d > 0 {
			s.refreshBuffer = d
		}
	}
}

// WithHTTPClient overrides the HTTP client used for token requests.
func WithHTTPClient(c *http.Client) EndpointOption {
	return func(s *EndpointTokenSource) {
		if c != nil {
			s.client = c
		}
	}
}

// EndpointTokenSource fetches short-lived JWTs from an HTTP token endpoint
// and caches them until they are within the refresh buffer of expiry. The
// endpoint must respond with a JSON object {"token": "<JWT>"}.
//
// Safe for concurrent use; concurrent callers share one cached token.
type EndpointTokenSource struct {
	url           string
	headers       map[string]string
	refreshBuffer time.Duration
	client        *http.Client

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// NewEndpointTokenSource creates a source fetching tokens from url.
func NewEndpointTokenSource(url string, opts ...EndpointOption) (*EndpointTokenSource, error) {
	if url == "" {
		return nil, errors.New("auth: token endpoint url must not be empty")
	}
	s := &EndpointTokenSource{
		url:           url,
		refreshBuffer: DefaultRefreshBuffer,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Token implements [TokenSource]. It returns the cached token while it has
// more than the refresh buffer left before expiry, otherwise fetches a fresh
// one.
func (s *EndpointTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != "" && time.Until(s.expires) > s.refreshBuffer {
		return s.cached, nil
	}

	token, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}

	s.cached = token
	s.expires = tokenExpiry(token)
	return token, nil
}

// fetch requests a fresh token from the endpoint.
func (s *EndpointTokenSource) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", fmt.Errorf("auth: build token request: %w", err)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth: token endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		return "", fmt.Errorf("auth: read token response: %w", err)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("auth: decode token response: %w", err)
	}
	if payload.Token == "" {
		return "", errors.New("auth: token endpoint returned an empty token")
	}
	return payload.Token, nil
}

// tokenExpiry extracts the expiry claim without verifying the signature —
// the server verifies; the client only needs to know when to refresh. Tokens
// whose expiry cannot be read are treated as already stale, so every call
// re-fetches.
func tokenExpiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
