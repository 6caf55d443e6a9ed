// Package fetch downloads remote documents for processing.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/billscan/billscan/internal/logger"
)

// ErrTooLarge means the remote document exceeds the configured byte cap.
var ErrTooLarge = errors.New("remote document exceeds size limit")

const defaultUserAgent = "billscan/1.0"

// Config holds fetcher tunables.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		UserAgent: defaultUserAgent,
		Timeout:   30 * time.Second,
		MaxBytes:  10 << 20,
	}
}

// Fetcher downloads documents over HTTP with a size cap.
type Fetcher struct {
	config Config
	client *http.Client
}

// New creates a fetcher.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultConfig().MaxBytes
	}
	return &Fetcher{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Fetch downloads the document at targetURL. Only http and https URLs are
// accepted; the body is capped at MaxBytes.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) ([]byte, error) {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid document URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}

	logger.Debug("fetching document", "url", targetURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch document: unexpected status %d", resp.StatusCode)
	}

	// Read one byte past the cap to distinguish at-limit from over-limit.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read document body: %w", err)
	}
	if int64(len(body)) > f.config.MaxBytes {
		return nil, fmt.Errorf("%w: > %s", ErrTooLarge, humanize.IBytes(uint64(f.config.MaxBytes)))
	}

	logger.Debug("document fetched",
		"url", targetURL,
		"size", humanize.IBytes(uint64(len(body))),
		"content_type", resp.Header.Get("Content-Type"))
	return body, nil
}
