// Package extract downloads shared file attachments and pulls plain text out
// of them so documents can participate in the decision workflow.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ledongthuc/pdf"
)

// Default configuration for attachment handling.
const (
	// DefaultTimeout bounds a single file download.
	DefaultTimeout = 30 * time.Second
	// MaxFileSize caps attachment downloads. Anything larger is rejected
	// rather than buffered.
	MaxFileSize = 32 << 20
)

// Extractor downloads private attachments with a bearer token and extracts
// their text content.
type Extractor struct {
	token      string
	httpClient *http.Client
}

// Opts holds configuration for the extractor.
type Opts struct {
	HTTPClient *http.Client
}

// Option configures the extractor.
type Option func(*Opts)

// WithHTTPClient overrides the HTTP client used for downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// NewExtractor creates an extractor. The token authorizes downloads of
// private attachment URLs; an empty token sends unauthenticated requests.
func NewExtractor(token string, opts ...Option) *Extractor {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Extractor{token: token, httpClient: cfg.HTTPClient}
}

// FetchFile downloads one attachment into memory.
func (e *Extractor) FetchFile(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build file request: %w", err)
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		slog.Error("Extractor file download failed", "error", err, "url", url)
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("Extractor file download rejected", "status", resp.StatusCode, "url", url)
		return nil, fmt.Errorf("file download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file body: %w", err)
	}
	if len(data) > MaxFileSize {
		slog.Error("Extractor file exceeds size cap", "url", url, "cap", MaxFileSize)
		return nil, fmt.Errorf("file exceeds %d byte cap", MaxFileSize)
	}
	slog.Debug("Extractor file downloaded", "url", url, "size", len(data))
	return data, nil
}

// ExtractPDF downloads a PDF attachment and returns its plain text.
func (e *Extractor) ExtractPDF(ctx context.Context, url string) (string, error) {
	data, err := e.FetchFile(ctx, url)
	if err != nil {
		return "", err
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		slog.Error("Extractor failed to parse PDF", "error", err, "url", url)
		return "", fmt.Errorf("failed to parse PDF: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		slog.Error("Extractor failed to extract PDF text", "error", err, "url", url)
		return "", fmt.Errorf("failed to extract PDF text: %w", err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("failed to read PDF text: %w", err)
	}

	slog.Info("Extractor PDF text extracted", "url", url, "text_length", len(text))
	return string(text), nil
}
