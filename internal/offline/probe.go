package offline

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// HTTPProbe treats any 2xx from GET {baseURL}/health as online.
type HTTPProbe struct {
	url    string
	client *http.Client
}

func NewHTTPProbe(baseURL string, timeout time.Duration) *HTTPProbe {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPProbe{
		url:    strings.TrimRight(baseURL, "/") + "/health",
		client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProbe) Online(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
