package iiif

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// FetchError reports a failed manifest or descriptor retrieval.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetching %s: HTTP %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client retrieves manifests and image-service descriptors.
type Client struct {
	client    *http.Client
	userAgent string
}

// NewClient creates a client with a 30 second timeout.
func NewClient(userAgent string) *Client {
	return &Client{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		userAgent: userAgent,
	}
}

// Manifest fetches and parses a presentation manifest.
func (c *Client) Manifest(ctx context.Context, url string) (*Manifest, error) {
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	return parseManifest(body, url)
}

// CachedManifest loads the manifest from path when it is already on disk,
// otherwise fetches it and stores the raw JSON there for later runs.
func (c *Client) CachedManifest(ctx context.Context, url, path string, force bool) (*Manifest, error) {
	if !force {
		if body, err := os.ReadFile(path); err == nil {
			return parseManifest(body, path)
		}
	}

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	m, err := parseManifest(body, url)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return nil, fmt.Errorf("caching manifest: %w", err)
	}
	return m, nil
}

// Info resolves a page's image-service descriptor. The descriptor lives at
// {service}/info.json by convention; URLs already pointing at it are used
// as-is.
func (c *Client) Info(ctx context.Context, serviceURL string) (*Info, error) {
	url := serviceURL
	if !strings.HasSuffix(url, "/info.json") {
		url = strings.TrimRight(url, "/") + "/info.json"
	}

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var info Info
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parsing descriptor %s: %w", url, err)
	}
	if info.ID == "" {
		// Some services omit @id; the request URL is the next best base.
		info.ID = strings.TrimSuffix(url, "/info.json")
	}
	return &info, nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	return body, nil
}

func parseManifest(body []byte, src string) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", src, err)
	}
	return &m, nil
}
