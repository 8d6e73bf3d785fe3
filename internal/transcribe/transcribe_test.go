package transcribe

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// mockTranscriptionService implements transcriptionService for testing.
type mockTranscriptionService struct {
	text       string
	err        error
	lastParams openai.AudioTranscriptionNewParams
	calls      int
}

func (m *mockTranscriptionService) New(ctx context.Context, body openai.AudioTranscriptionNewParams, opts ...option.RequestOption) (*openai.Transcription, error) {
	m.calls++
	m.lastParams = body
	if m.err != nil {
		return nil, m.err
	}
	return &openai.Transcription{Text: m.text}, nil
}

func TestTranscribeReturnsText(t *testing.T) {
	mock := &mockTranscriptionService{text: "we should decide this quarter"}
	client := &Client{transcriptions: mock, model: DefaultModel, timeout: DefaultTimeout}

	got, err := client.Transcribe(context.Background(), strings.NewReader("audio-bytes"), "note.ogg", "audio/ogg")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if got != "we should decide this quarter" {
		t.Errorf("unexpected transcript: %q", got)
	}
	if mock.calls != 1 {
		t.Errorf("expected 1 transcription call, got %d", mock.calls)
	}
	if mock.lastParams.Model != DefaultModel {
		t.Errorf("expected model %q, got %q", DefaultModel, mock.lastParams.Model)
	}
}

func TestTranscribePropagatesError(t *testing.T) {
	mock := &mockTranscriptionService{err: errors.New("api down")}
	client := &Client{transcriptions: mock, model: DefaultModel, timeout: time.Second}

	if _, err := client.Transcribe(context.Background(), strings.NewReader("audio"), "note.ogg", "audio/ogg"); err == nil {
		t.Fatal("expected error from failing transcription service")
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Fatal("expected error when no API key is configured")
	}
	if _, err := NewClient(WithAPIKey("test-key")); err != nil {
		t.Fatalf("expected client with explicit key, got error: %v", err)
	}
}
