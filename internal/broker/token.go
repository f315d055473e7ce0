// Package broker talks to the gateway credential broker. It trades the
// service credentials for short-lived access tokens and validates inbound
// webhook signatures.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/RaikyD/cardpay-service/internal/clock"
	"github.com/RaikyD/cardpay-service/internal/logger"
)

// expirySkew refreshes tokens slightly before the broker would reject them.
const expirySkew = 30 * time.Second

var ErrNoToken = errors.New("broker returned an empty token")

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// StatusError is a non-2xx answer from the broker.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("broker token request: status %d", e.Code)
}

func (e *StatusError) HTTPStatus() int {
	return e.Code
}

// TokenSource caches one access token and refreshes it on demand.
// Concurrent callers that find the cache stale share a single request.
type TokenSource struct {
	baseURL string
	creds   Credentials
	client  *http.Client
	clock   clock.Clock

	mu      sync.RWMutex
	token   string
	expires time.Time

	group singleflight.Group
}

func NewTokenSource(baseURL string, creds Credentials, client *http.Client, clk clock.Clock) *TokenSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &TokenSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		client:  client,
		clock:   clk,
	}
}

func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	tok, exp := s.token, s.expires
	s.mu.RUnlock()
	if tok != "" && s.clock.Now().Before(exp) {
		return tok, nil
	}

	v, err, _ := s.group.Do("token", func() (interface{}, error) {
		return s.fetch(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token, e.g. after a 401 from the provider.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.expires = time.Time{}
	s.mu.Unlock()
}

func (s *TokenSource) fetch(ctx context.Context) (string, error) {
	body, err := json.Marshal(s.creds)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("broker token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Code: resp.StatusCode}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode broker token: %w", err)
	}
	if tr.Token == "" {
		return "", ErrNoToken
	}

	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl > expirySkew {
		ttl -= expirySkew
	}

	s.mu.Lock()
	s.token = tr.Token
	s.expires = s.clock.Now().Add(ttl)
	s.mu.Unlock()

	logger.Debug("broker token refreshed", "expires_in", tr.ExpiresIn)
	return tr.Token, nil
}
