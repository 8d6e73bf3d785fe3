package genai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/DecisionPipe/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp       *openai.ChatCompletion
	err        error
	lastParams openai.ChatCompletionNewParams
	calls      int
}

func (m *mockChatService) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.calls++
	m.lastParams = params
	return m.resp, m.err
}

func newMockClient(mock *mockChatService) *Client {
	return &Client{chat: mock, model: DefaultModel, temperature: DefaultTemperature, timeout: time.Second}
}

func TestGenerateWithMessagesReturnsContent(t *testing.T) {
	mock := &mockChatService{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "generated reply"}}},
	}}
	client := newMockClient(mock)

	got, err := client.GenerateWithMessages(context.Background(), []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage("persona"),
		openai.UserMessage("question"),
	})
	if err != nil {
		t.Fatalf("GenerateWithMessages failed: %v", err)
	}
	if got != "generated reply" {
		t.Errorf("expected %q, got %q", "generated reply", got)
	}
	if mock.calls != 1 {
		t.Errorf("expected 1 completion call, got %d", mock.calls)
	}
}

func TestGenerateWithMessagesPropagatesError(t *testing.T) {
	mock := &mockChatService{err: errors.New("quota exceeded")}
	client := newMockClient(mock)

	_, err := client.GenerateWithMessages(context.Background(), []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage("hello"),
	})
	if err == nil {
		t.Fatal("expected error from failing completion service")
	}
}

func TestGenerateWithMessagesRejectsEmptyInput(t *testing.T) {
	client := newMockClient(&mockChatService{})
	if _, err := client.GenerateWithMessages(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty message sequence")
	}
}

func TestGenerateWithMessagesNoChoices(t *testing.T) {
	mock := &mockChatService{resp: &openai.ChatCompletion{}}
	client := newMockClient(mock)
	if _, err := client.GenerateWithMessages(context.Background(), []openai.ChatCompletionMessageParamUnion{openai.UserMessage("hi")}); err == nil {
		t.Fatal("expected error when no choices returned")
	}
}

func TestMessagesFromThreadPreservesRolesAndOrder(t *testing.T) {
	thread := models.Thread{
		{Role: models.ChatRoleSystem, Content: "persona"},
		{Role: models.ChatRoleUser, Content: "situation"},
		{Role: models.ChatRoleAssistant, Content: "clarifying question"},
		{Role: models.ChatRoleUser, Content: "answer"},
	}

	messages := MessagesFromThread(thread)
	if len(messages) != len(thread) {
		t.Fatalf("expected %d messages, got %d", len(thread), len(messages))
	}

	if messages[0].OfSystem == nil || messages[0].OfSystem.Content.OfString.Value != "persona" {
		t.Errorf("message 0 should be system %q, got %+v", "persona", messages[0])
	}
	if messages[1].OfUser == nil || messages[1].OfUser.Content.OfString.Value != "situation" {
		t.Errorf("message 1 should be user %q, got %+v", "situation", messages[1])
	}
	if messages[2].OfAssistant == nil || messages[2].OfAssistant.Content.OfString.Value != "clarifying question" {
		t.Errorf("message 2 should be assistant, got %+v", messages[2])
	}
	if messages[3].OfUser == nil || messages[3].OfUser.Content.OfString.Value != "answer" {
		t.Errorf("message 3 should be user %q, got %+v", "answer", messages[3])
	}
}
