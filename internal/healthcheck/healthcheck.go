package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const DefaultPath = "/health"

var ErrUnhealthy = errors.New("health endpoint returned non-OK status")

// HTTPProber checks a service by sending GET requests to its health path.
// Only 200 counts as healthy. The caller's context bounds the request.
type HTTPProber struct {
	client *http.Client
	path   string
}

func NewHTTPProber(client *http.Client, path string) *HTTPProber {
	if client == nil {
		client = &http.Client{}
	}
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return &HTTPProber{client: client, path: path}
}

func (p *HTTPProber) Probe(ctx context.Context, baseURL string) error {
	target := strings.TrimRight(baseURL, "/") + p.path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrUnhealthy, res.StatusCode)
	}
	return nil
}
