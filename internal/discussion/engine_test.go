package discussion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/BTreeMap/DecisionPipe/internal/models"
	"github.com/openai/openai-go"
)

// mockCompleter implements genai.ClientInterface and records every call's
// message sequence.
type mockCompleter struct {
	err   error
	calls [][]openai.ChatCompletionMessageParamUnion
}

func (m *mockCompleter) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	m.calls = append(m.calls, messages)
	if m.err != nil {
		return "", m.err
	}
	return fmt.Sprintf("reply %d", len(m.calls)), nil
}

func threeAgents() []*Agent {
	return []*Agent{
		{Name: "CEO", Role: "moderate the debate", Context: "ceo report"},
		{Name: "CFO", Role: "favorable to in-office work", Context: "cfo report"},
		{Name: "CTO", Role: "favorable to remote work", Context: "cto report"},
	}
}

func collect(t *testing.T, events <-chan models.DiscussionEvent) []models.DiscussionEvent {
	t.Helper()
	var out []models.DiscussionEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestRoundRobinSpeakerOrderAndEventCounts(t *testing.T) {
	mock := &mockCompleter{}
	engine, err := NewEngine(mock, threeAgents())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	events := collect(t, engine.Run(context.Background(), "return to office?"))

	// 6 turns + 3 summaries + 3 preparations.
	if len(events) != 12 {
		t.Fatalf("expected 12 events, got %d", len(events))
	}

	names := []string{"CEO", "CFO", "CTO"}
	for i := 0; i < 6; i++ {
		ev := events[i]
		if ev.Type != models.DiscussionEventTurn {
			t.Errorf("event %d: expected turn, got %q", i, ev.Type)
		}
		if ev.Turn != i {
			t.Errorf("event %d: expected turn index %d, got %d", i, i, ev.Turn)
		}
		if ev.AgentName != names[i%3] {
			t.Errorf("turn %d: expected speaker %q, got %q", i, names[i%3], ev.AgentName)
		}
	}
	for i := 6; i < 9; i++ {
		if events[i].Type != models.DiscussionEventSummary {
			t.Errorf("event %d: expected summary, got %q", i, events[i].Type)
		}
		if events[i].Content != events[6].Content {
			t.Error("all summary events must carry the same text")
		}
	}
	for i := 9; i < 12; i++ {
		if events[i].Type != models.DiscussionEventPreparation {
			t.Errorf("event %d: expected preparation, got %q", i, events[i].Type)
		}
	}

	// With N=3 and T=6, each agent speaks exactly twice.
	spoke := map[string]int{}
	for _, ev := range events[:6] {
		spoke[ev.AgentName]++
	}
	for name, count := range spoke {
		if count != 2 {
			t.Errorf("agent %s spoke %d times, expected 2", name, count)
		}
	}
}

func TestViewRoleFlip(t *testing.T) {
	history := []Message{
		{Sender: "CEO", Content: "we should decide soon"},
		{Sender: "CFO", Content: "office is cheaper"},
		{Sender: "CEO", Content: "culture matters"},
	}

	ceoView := View(history, "CEO")
	if ceoView[0].Role != models.ChatRoleAssistant || ceoView[2].Role != models.ChatRoleAssistant {
		t.Error("CEO's own messages must replay as assistant in CEO's view")
	}
	if ceoView[1].Role != models.ChatRoleUser {
		t.Error("other agents' messages must replay as user in CEO's view")
	}

	cfoView := View(history, "CFO")
	if cfoView[0].Role != models.ChatRoleUser || cfoView[2].Role != models.ChatRoleUser {
		t.Error("CEO's messages must replay as user in CFO's view")
	}
	if cfoView[1].Role != models.ChatRoleAssistant {
		t.Error("CFO's own message must replay as assistant in CFO's view")
	}

	for i, msg := range history {
		if ceoView[i].Content != msg.Content {
			t.Errorf("view must preserve content: %q vs %q", ceoView[i].Content, msg.Content)
		}
	}
}

func TestFailingCompleterStillEmitsAllEvents(t *testing.T) {
	mock := &mockCompleter{err: errors.New("api down")}
	engine, err := NewEngine(mock, threeAgents())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	events := collect(t, engine.Run(context.Background(), "topic"))

	if len(events) != 12 {
		t.Fatalf("expected 12 events despite failures, got %d", len(events))
	}
	for i, ev := range events {
		if !strings.HasPrefix(ev.Content, "I encountered an error:") {
			t.Errorf("event %d should carry sentinel text, got %q", i, ev.Content)
		}
	}

	// 6 turns + 1 shared summary + 3 preparations = 10 completion calls.
	if len(mock.calls) != 10 {
		t.Errorf("expected exactly 10 completion calls, got %d", len(mock.calls))
	}
}

func TestLastTurnCarriesSolutionSuffix(t *testing.T) {
	mock := &mockCompleter{}
	engine, err := NewEngine(mock, threeAgents(), WithTurns(2), WithLastTurnSuffix(" Propose your solution now."))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	collect(t, engine.Run(context.Background(), "topic"))

	// Call 1 is the second (final) turn; its last message is the turn prompt.
	secondTurn := mock.calls[1]
	last := secondTurn[len(secondTurn)-1]
	if last.OfUser == nil {
		t.Fatal("final message of a turn call must be a user message")
	}
	if !strings.Contains(last.OfUser.Content.OfString.Value, "Propose your solution now.") {
		t.Errorf("final turn prompt missing last-turn suffix: %q", last.OfUser.Content.OfString.Value)
	}

	firstTurn := mock.calls[0]
	first := firstTurn[len(firstTurn)-1]
	if strings.Contains(first.OfUser.Content.OfString.Value, "Propose your solution now.") {
		t.Error("non-final turns must not carry the last-turn suffix")
	}
}

func TestTurnCallsIncludePersonaAndView(t *testing.T) {
	mock := &mockCompleter{}
	engine, err := NewEngine(mock, threeAgents(), WithTurns(3))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	collect(t, engine.Run(context.Background(), "topic"))

	// Third turn (CTO) sees two prior transcript entries, both as user
	// messages since neither was its own.
	third := mock.calls[2]
	if third[0].OfSystem == nil || !strings.Contains(third[0].OfSystem.Content.OfString.Value, "CTO") {
		t.Errorf("turn call must open with the speaker's persona system message")
	}
	// system + 2 history + turn prompt
	if len(third) != 4 {
		t.Fatalf("expected 4 messages in third turn call, got %d", len(third))
	}
	if third[1].OfUser == nil || third[2].OfUser == nil {
		t.Error("other speakers' history must replay as user messages")
	}
}

func TestDuplicateNamesKeepDistinctViews(t *testing.T) {
	agents := []*Agent{
		{ID: "U1", Name: "Alex", Role: "moderate the debate", Context: "first report"},
		{ID: "U2", Name: "Alex", Role: "share your perspective", Context: "second report"},
	}
	mock := &mockCompleter{}
	engine, err := NewEngine(mock, agents, WithTurns(2))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	events := collect(t, engine.Run(context.Background(), "topic"))

	// Events must be routable by ID even when names collide.
	ids := []string{"U1", "U2"}
	for i := 0; i < 2; i++ {
		if events[i].AgentID != ids[i] {
			t.Errorf("turn %d: expected agent ID %q, got %q", i, ids[i], events[i].AgentID)
		}
	}

	// Second speaker's call replays the first speaker's message as a user
	// message, not its own, despite the shared name.
	second := mock.calls[1]
	if len(second) != 3 {
		t.Fatalf("expected 3 messages in second turn call, got %d", len(second))
	}
	if second[1].OfUser == nil {
		t.Error("another agent's message must replay as user even with an identical name")
	}
}

func TestNewEngineRejectsZeroAgents(t *testing.T) {
	if _, err := NewEngine(&mockCompleter{}, nil); err != models.ErrNoAgents {
		t.Errorf("expected ErrNoAgents, got %v", err)
	}
}
