// Package discussion implements the multi-agent round-robin discussion
// engine. One autonomous agent per participant, seeded with that
// participant's report, speaks in a fixed rotation over a shared transcript;
// the run ends with one shared summary and per-agent preparation notes.
package discussion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/DecisionPipe/internal/genai"
	"github.com/BTreeMap/DecisionPipe/internal/models"
)

// DefaultTurns is the canonical number of round-robin turns.
const DefaultTurns = 6

// Fixed prompt text for the engine. The last-turn suffix and turn count are
// the configuration surface; the persona template is shared by all agents.
const (
	agentSystemTemplate = "You are %s, %s. %s. Provide a concise, complete thought in one sentence. " +
		"Do not continue a previous sentence. Ensure your response is a full, grammatically complete sentence."

	turnPromptTemplate = "Previous context: %s. Provide your perspective in a single, complete sentence."

	defaultLastTurnSuffix = " This is the final turn: propose your solution."

	summaryPrompt = "Summarize the discussion so far into three key points that everyone should agree on."

	preparationPrompt = "Based on this discussion, tell the person you represent what they should prepare before the upcoming meeting."
)

// sentinelFormat is the user-visible text substituted for a failed completion
// call inside a run. The engine is monotonic: it never stops early.
const sentinelFormat = "I encountered an error: %v"

// Agent is one autonomous party in the discussion.
type Agent struct {
	// ID is the agent's unique identity; it keys the role flip in View and
	// event routing. Defaults to Name when empty.
	ID string
	// Name is the participant's display name. Names may collide between
	// agents; only ID is required to be unique.
	Name string
	// Role is the agent's stance or function in the debate.
	Role string
	// Context is the participant's persisted report, seeded as persona
	// background.
	Context string
}

// Message is one entry of the shared discussion transcript. Sender is the
// speaking agent's ID.
type Message struct {
	Sender  string
	Content string
}

// View replays the shared transcript from one agent's perspective: messages
// the viewer (an agent ID) sent become assistant messages, everything else
// becomes user messages. It is a pure function of its inputs; per-agent views
// are never stored.
func View(history []Message, viewer string) models.Thread {
	out := make(models.Thread, 0, len(history))
	for _, msg := range history {
		role := models.ChatRoleUser
		if msg.Sender == viewer {
			role = models.ChatRoleAssistant
		}
		out = append(out, models.ChatMessage{Role: role, Content: msg.Content})
	}
	return out
}

// Engine runs one discussion among a fixed set of agents.
type Engine struct {
	agents         []*Agent
	genaiClient    genai.ClientInterface
	turns          int
	lastTurnSuffix string
	history        []Message
}

// Option configures a discussion engine.
type Option func(*Engine)

// WithTurns overrides the number of round-robin turns.
func WithTurns(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.turns = n
		}
	}
}

// WithLastTurnSuffix overrides the text appended to the final turn's prompt.
func WithLastTurnSuffix(suffix string) Option {
	return func(e *Engine) { e.lastTurnSuffix = suffix }
}

// NewEngine creates an engine over the given agents. Agent order is the
// speaking order and must be deterministic (the caller passes registry
// registration order).
func NewEngine(genaiClient genai.ClientInterface, agents []*Agent, opts ...Option) (*Engine, error) {
	if len(agents) == 0 {
		return nil, models.ErrNoAgents
	}
	for _, agent := range agents {
		if agent.ID == "" {
			agent.ID = agent.Name
		}
	}
	e := &Engine{
		agents:         agents,
		genaiClient:    genaiClient,
		turns:          DefaultTurns,
		lastTurnSuffix: defaultLastTurnSuffix,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes the discussion and streams events to the returned channel:
// exactly turns turn events, then one summary event per agent (same text),
// then one preparation event per agent, in that order. The channel is
// unbuffered, so each turn is delivered to the consumer before the next one
// is generated; the channel is closed when the run completes. Completion
// failures inside the run surface as sentinel event text, never as an early
// stop.
func (e *Engine) Run(ctx context.Context, initialPrompt string) <-chan models.DiscussionEvent {
	events := make(chan models.DiscussionEvent)

	go func() {
		defer close(events)
		slog.Info("Discussion engine starting", "agents", len(e.agents), "turns", e.turns)

		current := initialPrompt
		for turn := 0; turn < e.turns; turn++ {
			speaker := e.agents[turn%len(e.agents)]
			prompt := current
			if turn == e.turns-1 {
				prompt += e.lastTurnSuffix
			}

			reply := e.generateResponse(ctx, speaker, prompt)
			events <- models.DiscussionEvent{
				Type:      models.DiscussionEventTurn,
				Turn:      turn,
				AgentID:   speaker.ID,
				AgentName: speaker.Name,
				Content:   reply,
			}

			e.history = append(e.history, Message{Sender: speaker.ID, Content: reply})
			current = reply
		}

		summary := e.generateSummary(ctx)
		for _, agent := range e.agents {
			events <- models.DiscussionEvent{
				Type:      models.DiscussionEventSummary,
				AgentID:   agent.ID,
				AgentName: agent.Name,
				Content:   summary,
			}
		}

		for _, agent := range e.agents {
			preparation := e.generateClosing(ctx, agent, preparationPrompt)
			events <- models.DiscussionEvent{
				Type:      models.DiscussionEventPreparation,
				AgentID:   agent.ID,
				AgentName: agent.Name,
				Content:   preparation,
			}
		}

		slog.Info("Discussion engine finished", "agents", len(e.agents), "turns", e.turns, "transcript_length", len(e.history))
	}()

	return events
}

// generateResponse performs one turn completion for the speaking agent using
// the agent's persona, its view of the shared transcript, and the turn prompt.
func (e *Engine) generateResponse(ctx context.Context, agent *Agent, previousMessage string) string {
	thread := models.Thread{{Role: models.ChatRoleSystem, Content: fmt.Sprintf(agentSystemTemplate, agent.Name, agent.Role, agent.Context)}}
	thread = append(thread, View(e.history, agent.ID)...)
	thread = thread.Append(models.ChatRoleUser, fmt.Sprintf(turnPromptTemplate, previousMessage))

	reply, err := e.genaiClient.GenerateWithMessages(ctx, genai.MessagesFromThread(thread))
	if err != nil {
		slog.Error("Discussion turn completion failed, substituting sentinel", "error", err, "agent", agent.Name)
		return fmt.Sprintf(sentinelFormat, err)
	}
	return reply
}

// generateSummary issues one completion call over the first agent's
// accumulated view; the same summary text is broadcast to every agent.
func (e *Engine) generateSummary(ctx context.Context) string {
	return e.generateClosing(ctx, e.agents[0], summaryPrompt)
}

// generateClosing performs one post-discussion completion (summary or
// preparation) from the given agent's perspective.
func (e *Engine) generateClosing(ctx context.Context, agent *Agent, prompt string) string {
	thread := models.Thread{{Role: models.ChatRoleSystem, Content: fmt.Sprintf(agentSystemTemplate, agent.Name, agent.Role, agent.Context)}}
	thread = append(thread, View(e.history, agent.ID)...)
	thread = thread.Append(models.ChatRoleUser, prompt)

	reply, err := e.genaiClient.GenerateWithMessages(ctx, genai.MessagesFromThread(thread))
	if err != nil {
		slog.Error("Discussion closing completion failed, substituting sentinel", "error", err, "agent", agent.Name)
		return fmt.Sprintf(sentinelFormat, err)
	}
	return reply
}
