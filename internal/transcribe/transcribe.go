// Package transcribe wraps the OpenAI audio transcription API so voice
// messages can participate in the decision workflow as ordinary text.
package transcribe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default configuration for transcription calls.
const (
	// DefaultModel is the speech-to-text model used unless overridden.
	DefaultModel = openai.AudioModelWhisper1
	// DefaultTimeout bounds a single transcription call. Audio uploads are
	// slower than chat completions, so the bound is generous.
	DefaultTimeout = 120 * time.Second
)

// transcriptionService defines the minimal interface for audio transcription,
// allowing tests to substitute a mock for the OpenAI client.
type transcriptionService interface {
	New(ctx context.Context, body openai.AudioTranscriptionNewParams, opts ...option.RequestOption) (*openai.Transcription, error)
}

// ClientInterface is the transcription surface consumed by the event intake.
type ClientInterface interface {
	Transcribe(ctx context.Context, audio io.Reader, filename, mimetype string) (string, error)
}

// Client wraps the OpenAI audio transcription service.
type Client struct {
	transcriptions transcriptionService
	model          openai.AudioModel
	timeout        time.Duration
}

// Opts holds configuration for the transcription client.
type Opts struct {
	APIKey  string
	Model   openai.AudioModel
	Timeout time.Duration
}

// Option configures the transcription client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key, overriding $OPENAI_API_KEY.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the default speech-to-text model.
func WithModel(model openai.AudioModel) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// NewClient initializes a transcription client from options, falling back to
// the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:   DefaultModel,
		Timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		slog.Error("Transcribe client missing API key")
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	cli := openai.NewClient(option.WithAPIKey(apiKey))
	slog.Debug("Transcribe client created", "model", cfg.Model, "timeout", cfg.Timeout)
	return &Client{
		transcriptions: &cli.Audio.Transcriptions,
		model:          cfg.Model,
		timeout:        cfg.Timeout,
	}, nil
}

// Transcribe converts one audio attachment to text. Unlike chat completions,
// failures here propagate as errors; the caller decides how to report them.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename, mimetype string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	slog.Debug("Transcribe invoked", "model", c.model, "filename", filename, "mimetype", mimetype)
	resp, err := c.transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: c.model,
		File:  openai.File(audio, filename, mimetype),
	})
	if err != nil {
		slog.Error("Transcription call failed", "error", err, "filename", filename)
		return "", fmt.Errorf("transcription call failed: %w", err)
	}

	slog.Info("Transcription succeeded", "filename", filename, "text_length", len(resp.Text))
	return resp.Text, nil
}
