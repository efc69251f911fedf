package tle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// maxBodyBytes bounds a single HTTP response.
const maxBodyBytes = 50 << 20

// Fetcher retrieves raw TLE data from a file path or an HTTP(S) URL.
type Fetcher struct {
	source     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher for the given source.
func NewFetcher(source string, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		source: source,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Source returns the configured path or URL.
func (f *Fetcher) Source() string {
	return f.source
}

func (f *Fetcher) remote() bool {
	return strings.HasPrefix(f.source, "http://") || strings.HasPrefix(f.source, "https://")
}

// Fetch returns the raw TLE text.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	if !f.remote() {
		data, err := os.ReadFile(f.source)
		if err != nil {
			return nil, fmt.Errorf("reading TLE file: %w", err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.source, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching TLE data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, f.source)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response exceeds %d byte limit", maxBodyBytes)
	}

	f.logger.Debug("fetched TLE data", "source", f.source, "bytes", len(body))
	return body, nil
}

// Load fetches and parses the source.
func (f *Fetcher) Load(ctx context.Context) ([]Entry, error) {
	data, err := f.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return Parse(strings.NewReader(string(data)), f.logger)
}
