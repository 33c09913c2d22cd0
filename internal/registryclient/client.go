package registryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

// ErrNotRegistered is returned when the registry has no record of the
// service, typically because it was evicted as stale.
var ErrNotRegistered = errors.New("service not registered")

// Client talks to the registry API of the gateway.
type Client struct {
	base *url.URL
	http *http.Client
}

func NewClient(registryURL string, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(registryURL)
	if err != nil {
		return nil, fmt.Errorf("parse registry url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("registry url %q must be absolute", registryURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{base: base, http: httpClient}, nil
}

func (c *Client) Register(ctx context.Context, reg registry.Registration) (registry.Record, error) {
	body, err := json.Marshal(reg)
	if err != nil {
		return registry.Record{}, fmt.Errorf("encode registration: %w", err)
	}

	res, err := c.do(ctx, http.MethodPost, c.base.JoinPath("registry", "services"), body)
	if err != nil {
		return registry.Record{}, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		return registry.Record{}, unexpected(res)
	}

	var rec registry.Record
	if err := json.NewDecoder(res.Body).Decode(&rec); err != nil {
		return registry.Record{}, fmt.Errorf("decode registration: %w", err)
	}
	return rec, nil
}

func (c *Client) Heartbeat(ctx context.Context, name string) error {
	res, err := c.do(ctx, http.MethodPut, c.base.JoinPath("registry", "services", name, "heartbeat"), nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrNotRegistered
	default:
		return unexpected(res)
	}
}

func (c *Client) Unregister(ctx context.Context, name string) error {
	res, err := c.do(ctx, http.MethodDelete, c.base.JoinPath("registry", "services", name), nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrNotRegistered
	default:
		return unexpected(res)
	}
}

func (c *Client) do(ctx context.Context, method string, target *url.URL, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target.Path, err)
	}
	return res, nil
}

func unexpected(res *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
	return fmt.Errorf("registry responded with status %d: %s", res.StatusCode, bytes.TrimSpace(msg))
}
