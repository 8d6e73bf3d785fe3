// Package bot implements the single-party dialogue bots that walk one
// participant through the collect / clarify / respond / report protocol.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/DecisionPipe/internal/genai"
	"github.com/BTreeMap/DecisionPipe/internal/models"
	"github.com/BTreeMap/DecisionPipe/internal/store"
)

// CompletionFailureSentinel is returned in place of a completion service
// reply when a call fails. It is user-visible text, never an error; callers
// must deliver it like any other reply.
const CompletionFailureSentinel = "⚠️ I ran into a problem reaching the assistant. Please try again in a moment."

// Prompt text for the two bot flavors. The flavors differ only in persona and
// report structure, not in protocol.
const (
	leadershipSystemPrompt = "You are a leadership advisor helping executives make important decisions. " +
		"First understand their situation, then ask one clarifying question if needed, and finally provide a comprehensive report."

	leadershipReportPrompt = "Based on our discussion, please generate a really concise report that includes the situation overview in one sentence.\n" +
		"Format it professionally for sharing with team members. Only include the report, no headers or footers, and don't style the text."

	teamMemberSystemPrompt = "You are facilitating a discussion with team member %s about the situation described in this leadership report: %s\n" +
		"Your goal is to understand their perspective deeply and create a comprehensive summary of their views."

	teamMemberInputSuffix = "\n\nPlease provide one clarifying question to understand better my true priorities and preferences."

	teamMemberReportPrompt = "Based on our discussion, please generate a comprehensive summary of the team member's perspective that includes:\n" +
		"1. Key Points and Opinions\n" +
		"2. Main Concerns\n" +
		"3. Suggested Solutions\n" +
		"4. Additional Insights\n" +
		"Format it professionally for integration with other team members' feedback."
)

// DialogueBot wraps one conversation thread through the fixed four-operation
// protocol. A bot instance serves exactly one protocol pass and is replaced
// when the participant moves to the next flavor.
type DialogueBot struct {
	kind         models.ReportKind
	systemPrompt string
	inputSuffix  string
	reportPrompt string

	genaiClient genai.ClientInterface
	reports     store.Store

	thread models.Thread
	seeded bool
}

// NewLeadershipBot creates a bot that collects a decision situation and
// produces a leadership report.
func NewLeadershipBot(genaiClient genai.ClientInterface, reports store.Store) *DialogueBot {
	return &DialogueBot{
		kind:         models.ReportKindLeadership,
		systemPrompt: leadershipSystemPrompt,
		reportPrompt: leadershipReportPrompt,
		genaiClient:  genaiClient,
		reports:      reports,
	}
}

// NewTeamMemberBot creates a bot that collects a stakeholder's opinion on a
// leadership report and produces a team-member report.
func NewTeamMemberBot(genaiClient genai.ClientInterface, reports store.Store, memberName, leadershipReport string) *DialogueBot {
	return &DialogueBot{
		kind:         models.ReportKindTeamMember,
		systemPrompt: fmt.Sprintf(teamMemberSystemPrompt, memberName, leadershipReport),
		inputSuffix:  teamMemberInputSuffix,
		reportPrompt: teamMemberReportPrompt,
		genaiClient:  genaiClient,
		reports:      reports,
	}
}

// Kind returns the report flavor this bot produces.
func (b *DialogueBot) Kind() models.ReportKind {
	return b.kind
}

// Thread returns a copy of the bot's conversation thread.
func (b *DialogueBot) Thread() models.Thread {
	out := make(models.Thread, len(b.thread))
	copy(out, b.thread)
	return out
}

// CollectInitialInput seeds the thread with the persona system message and
// the participant's raw input. No completion call is made. Calling it twice
// is a protocol error.
func (b *DialogueBot) CollectInitialInput(text string) error {
	if b.seeded {
		slog.Error("DialogueBot CollectInitialInput called twice", "kind", b.kind)
		return models.ErrAlreadySeeded
	}
	b.thread = b.thread.Append(models.ChatRoleSystem, b.systemPrompt)
	b.thread = b.thread.Append(models.ChatRoleUser, text+b.inputSuffix)
	b.seeded = true
	slog.Debug("DialogueBot seeded", "kind", b.kind, "input_length", len(text))
	return nil
}

// AskClarifyingQuestion performs one completion call over the current thread
// and returns the generated question. On completion failure it returns the
// sentinel text; failures never propagate past this boundary.
func (b *DialogueBot) AskClarifyingQuestion(ctx context.Context) string {
	reply, err := b.genaiClient.GenerateWithMessages(ctx, genai.MessagesFromThread(b.thread))
	if err != nil {
		slog.Error("DialogueBot completion failure degraded to sentinel", "error", err, "kind", b.kind, "operation", "ask_clarifying_question")
		reply = CompletionFailureSentinel
	}
	b.thread = b.thread.Append(models.ChatRoleAssistant, reply)
	return reply
}

// HandleResponse appends the participant's answer to the thread. No
// completion call is made.
func (b *DialogueBot) HandleResponse(text string) error {
	if !b.seeded {
		slog.Error("DialogueBot HandleResponse before seeding", "kind", b.kind)
		return models.ErrNotSeeded
	}
	b.thread = b.thread.Append(models.ChatRoleUser, text)
	return nil
}

// GenerateReport appends the kind-specific report instruction, performs one
// completion call, and persists the result keyed by (kind, participant,
// timestamp). On completion failure it returns the sentinel text and persists
// nothing. Calling it on an unseeded bot is a protocol error.
func (b *DialogueBot) GenerateReport(ctx context.Context, participant string) (string, error) {
	if !b.seeded {
		slog.Error("DialogueBot GenerateReport before seeding", "kind", b.kind)
		return "", models.ErrNotSeeded
	}

	b.thread = b.thread.Append(models.ChatRoleUser, b.reportPrompt)
	report, err := b.genaiClient.GenerateWithMessages(ctx, genai.MessagesFromThread(b.thread))
	if err != nil {
		slog.Error("DialogueBot completion failure degraded to sentinel", "error", err, "kind", b.kind, "operation", "generate_report", "participant", participant)
		return CompletionFailureSentinel, nil
	}
	b.thread = b.thread.Append(models.ChatRoleAssistant, report)

	artifact := models.Report{
		Kind:        b.kind,
		Participant: participant,
		Timestamp:   models.NewReportTimestamp(time.Now()),
		Body:        report,
	}
	if err := b.reports.AddReport(artifact); err != nil {
		slog.Error("DialogueBot failed to persist report", "error", err, "kind", b.kind, "participant", participant)
		return "", fmt.Errorf("failed to persist report: %w", err)
	}

	slog.Info("DialogueBot report generated", "kind", b.kind, "participant", participant, "ts", artifact.Timestamp)
	return report, nil
}
