// Package flow implements the session stepper: the per-participant state
// machine that walks each human through the decision workflow, fans the
// leadership report out to stakeholders, and launches the multi-agent
// discussion once every participant has filed a report.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/DecisionPipe/internal/bot"
	"github.com/BTreeMap/DecisionPipe/internal/discussion"
	"github.com/BTreeMap/DecisionPipe/internal/genai"
	"github.com/BTreeMap/DecisionPipe/internal/messaging"
	"github.com/BTreeMap/DecisionPipe/internal/models"
	"github.com/BTreeMap/DecisionPipe/internal/session"
	"github.com/BTreeMap/DecisionPipe/internal/store"
	"github.com/BTreeMap/DecisionPipe/internal/util"
)

// ErrNoBotAttached indicates a stage handler ran on a session without the
// bot its stage requires. The transition is aborted without advancing state.
var ErrNoBotAttached = errors.New("no dialogue bot attached to session")

// User-visible prompt text sent by stage handlers.
const (
	situationPrompt = "Sure thing! Tell me about the decision you need to make — what's the situation?"

	recipientsPrompt = "Got it. Who should weigh in on this decision? Mention them (for example <@U12345>) and I'll reach out to each of them."

	opinionPromptTemplate = "Hi %s! A decision is being discussed and your perspective is needed. Here is the current report:\n\n%s\n\nWhat's your take on this situation?"

	opinionAckPrompt = "Thanks! Your perspective has been recorded. I'll follow up once everyone has weighed in."

	discussionRoles = "sharing your perspective on the decision"
	moderatorRole   = "moderating the debate"

	finalAnalysisSystemPrompt = "You are an expert analyst synthesizing multiple perspectives on a team decision."

	finalAnalysisPromptTemplate = "Analyze the following information and create a comprehensive report:\n\n" +
		"1. Summary of the discussion:\n%s\n\n" +
		"2. Leadership report:\n%s\n\n" +
		"3. Team member reports:\n%s\n\n" +
		"Provide the top three arguments for the proposal, the top three arguments against it, " +
		"the main misunderstandings between the parties, and the key clarifications still needed."
)

// Coordinator owns the participant registry and dispatches inbound messages
// to the handler for the sender's current stage. It is driven by a single
// event worker; handlers assume no concurrent mutation of a session.
type Coordinator struct {
	registry    session.Registry
	msgService  messaging.Service
	genaiClient genai.ClientInterface
	reports     store.Store

	discussionTurns int
	handlers        map[models.SessionStage]handlerFunc

	botID string
}

type handlerFunc func(ctx context.Context, sess *session.Session, msg models.InboundMessage) error

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDiscussionTurns overrides the number of discussion turns.
func WithDiscussionTurns(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.discussionTurns = n
		}
	}
}

// NewCoordinator creates the session stepper with its collaborators.
func NewCoordinator(registry session.Registry, msgService messaging.Service, genaiClient genai.ClientInterface, reports store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry:        registry,
		msgService:      msgService,
		genaiClient:     genaiClient,
		reports:         reports,
		discussionTurns: discussion.DefaultTurns,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.handlers = map[models.SessionStage]handlerFunc{
		models.StageNew:                   c.handleNew,
		models.StageAwaitingSituation:     c.handleSituation,
		models.StageAwaitingClarification: c.handleClarification,
		models.StageAwaitingRecipients:    c.handleRecipients,
		models.StageAwaitingOpinion:       c.handleOpinion,
		models.StageAwaitingOpinionAnswer: c.handleOpinionAnswer,
	}
	return c
}

// HandleEvent routes one inbound message through the sender's stage handler.
// Protocol errors abort the transition without advancing state.
func (c *Coordinator) HandleEvent(ctx context.Context, msg models.InboundMessage) error {
	if msg.ParticipantID == "" {
		return models.ErrEmptyParticipant
	}

	sess := c.registry.Ensure(msg.ParticipantID)
	if msg.Channel != "" {
		sess.Channel = msg.Channel
	}
	if msg.ThreadTS != "" {
		sess.ThreadTS = msg.ThreadTS
	}
	sess.UpdatedAt = time.Now()

	handler, ok := c.handlers[sess.Stage]
	if !ok {
		// AWAITING_DISCUSSION_BARRIER and anything unknown: no input expected.
		slog.Debug("Coordinator ignoring message for stage without handler", "participant_id", msg.ParticipantID, "stage", sess.Stage)
		return nil
	}

	slog.Debug("Coordinator dispatching event", "participant_id", msg.ParticipantID, "stage", sess.Stage, "text_length", len(msg.Text))
	if err := handler(ctx, sess, msg); err != nil {
		slog.Error("Coordinator stage handler failed", "error", err, "participant_id", msg.ParticipantID, "stage", sess.Stage)
		return err
	}
	return nil
}

// resolveBotID returns the bot's own user identity, cached after the first
// successful lookup. App-mention text always contains the bot's mention; an
// empty result on lookup failure means no exclusion, which parks a phantom
// session for the bot, so the failure is logged loudly.
func (c *Coordinator) resolveBotID(ctx context.Context) string {
	if c.botID != "" {
		return c.botID
	}
	id, err := c.msgService.BotUserID(ctx)
	if err != nil {
		slog.Warn("Coordinator could not resolve bot identity, mention exclusion disabled", "error", err)
		return ""
	}
	c.botID = id
	return id
}

// handleNew attaches a leadership bot and prompts for the situation.
func (c *Coordinator) handleNew(ctx context.Context, sess *session.Session, msg models.InboundMessage) error {
	name, err := c.msgService.ResolveDisplayName(ctx, sess.ParticipantID)
	if err != nil {
		slog.Warn("Coordinator could not resolve display name, using identity", "error", err, "participant_id", sess.ParticipantID)
		name = sess.ParticipantID
	}
	sess.DisplayName = name
	sess.Bot = bot.NewLeadershipBot(c.genaiClient, c.reports)
	sess.Stage = models.StageAwaitingSituation

	if err := c.msgService.SendThreadMessage(ctx, sess.Channel, sess.ThreadTS, situationPrompt); err != nil {
		return fmt.Errorf("failed to prompt for situation: %w", err)
	}
	slog.Info("Coordinator started leadership flow", "participant_id", sess.ParticipantID, "display_name", name)
	return nil
}

// handleSituation seeds the leadership bot and relays its clarifying question.
func (c *Coordinator) handleSituation(ctx context.Context, sess *session.Session, msg models.InboundMessage) error {
	if sess.Bot == nil {
		return ErrNoBotAttached
	}
	if err := sess.Bot.CollectInitialInput(msg.Text); err != nil {
		return err
	}
	question := sess.Bot.AskClarifyingQuestion(ctx)
	if err := c.msgService.SendThreadMessage(ctx, sess.Channel, sess.ThreadTS, question); err != nil {
		return fmt.Errorf("failed to send clarifying question: %w", err)
	}
	sess.Stage = models.StageAwaitingClarification
	return nil
}

// handleClarification records the leader's answer and asks for recipients.
func (c *Coordinator) handleClarification(ctx context.Context, sess *session.Session, msg models.InboundMessage) error {
	if sess.Bot == nil {
		return ErrNoBotAttached
	}
	if err := sess.Bot.HandleResponse(msg.Text); err != nil {
		return err
	}
	if err := c.msgService.SendThreadMessage(ctx, sess.Channel, sess.ThreadTS, recipientsPrompt); err != nil {
		return fmt.Errorf("failed to prompt for recipients: %w", err)
	}
	sess.Stage = models.StageAwaitingRecipients
	return nil
}

// handleRecipients generates the leadership report and fans it out to every
// mentioned stakeholder plus the leader. One recipient's routing failure
// never aborts delivery to the rest. The leader is deliberately included in
// their own recipient list and walks the team-member branch like everyone
// else.
func (c *Coordinator) handleRecipients(ctx context.Context, sess *session.Session, msg models.InboundMessage) error {
	if sess.Bot == nil {
		return ErrNoBotAttached
	}

	recipients := ParseMentions(msg.Text, sess.ParticipantID, c.resolveBotID(ctx))

	report, err := sess.Bot.GenerateReport(ctx, sess.ParticipantID)
	if err != nil {
		return err
	}
	if report == bot.CompletionFailureSentinel {
		// Degraded mode: show the sentinel and stay at this stage so the
		// leader can retry by sending recipients again.
		if sendErr := c.msgService.SendThreadMessage(ctx, sess.Channel, sess.ThreadTS, report); sendErr != nil {
			slog.Error("Coordinator failed to deliver sentinel text", "error", sendErr, "participant_id", sess.ParticipantID)
		}
		return nil
	}

	slog.Info("Coordinator fanning out leadership report", "leader", sess.ParticipantID, "recipients", len(recipients))
	for _, id := range recipients {
		rs := c.registry.Ensure(id)

		if rs.DisplayName == "" {
			name, nameErr := c.msgService.ResolveDisplayName(ctx, id)
			if nameErr != nil {
				slog.Warn("Coordinator could not resolve recipient display name", "error", nameErr, "participant_id", id)
				name = id
			}
			rs.DisplayName = name
		}

		channel, dmErr := c.msgService.OpenDirectChannel(ctx, id)
		if dmErr != nil {
			slog.Error("Coordinator failed to open direct channel, skipping recipient", "error", dmErr, "participant_id", id)
			continue
		}
		rs.Channel = channel
		rs.Stage = models.StageAwaitingOpinion
		rs.Bot = nil
		rs.UpdatedAt = time.Now()

		text := fmt.Sprintf(opinionPromptTemplate, rs.DisplayName, report)
		if sendErr := c.msgService.SendMessage(ctx, channel, text); sendErr != nil {
			slog.Error("Coordinator failed to deliver report to recipient", "error", sendErr, "participant_id", id)
			continue
		}
	}
	return nil
}

// handleOpinion seeds a team-member bot from the latest leadership report
// and relays its clarifying question.
func (c *Coordinator) handleOpinion(ctx context.Context, sess *session.Session, msg models.InboundMessage) error {
	leadership, err := c.reports.LatestReportOfKind(models.ReportKindLeadership)
	if err != nil {
		return fmt.Errorf("cannot seed team member bot: %w", err)
	}

	b := bot.NewTeamMemberBot(c.genaiClient, c.reports, sess.DisplayName, leadership.Body)
	if err := b.CollectInitialInput(msg.Text); err != nil {
		return err
	}
	sess.Bot = b

	question := b.AskClarifyingQuestion(ctx)
	if err := c.msgService.SendMessage(ctx, sess.Channel, question); err != nil {
		return fmt.Errorf("failed to send clarifying question: %w", err)
	}
	sess.Stage = models.StageAwaitingOpinionAnswer
	return nil
}

// handleOpinionAnswer records the answer, generates the team-member report,
// and checks the discussion barrier.
func (c *Coordinator) handleOpinionAnswer(ctx context.Context, sess *session.Session, msg models.InboundMessage) error {
	if sess.Bot == nil {
		return ErrNoBotAttached
	}
	if err := sess.Bot.HandleResponse(msg.Text); err != nil {
		return err
	}

	report, err := sess.Bot.GenerateReport(ctx, sess.ParticipantID)
	if err != nil {
		return err
	}
	if report == bot.CompletionFailureSentinel {
		if sendErr := c.msgService.SendMessage(ctx, sess.Channel, report); sendErr != nil {
			slog.Error("Coordinator failed to deliver sentinel text", "error", sendErr, "participant_id", sess.ParticipantID)
		}
		// Stay at this stage; the participant can answer again to retry.
		return nil
	}

	if err := c.msgService.SendMessage(ctx, sess.Channel, opinionAckPrompt); err != nil {
		slog.Error("Coordinator failed to send acknowledgement", "error", err, "participant_id", sess.ParticipantID)
	}
	sess.Stage = models.StageAwaitingDiscussion
	slog.Info("Coordinator participant reached discussion barrier", "participant_id", sess.ParticipantID)

	return c.checkDiscussionBarrier(ctx)
}

// checkDiscussionBarrier launches the discussion exactly once, after every
// registered participant has reached the barrier stage. The check-then-launch
// is made atomic by the registry's TryLaunch compare-and-swap.
func (c *Coordinator) checkDiscussionBarrier(ctx context.Context) error {
	if !c.registry.AllAtStage(models.StageAwaitingDiscussion) {
		return nil
	}
	if !c.registry.TryLaunch() {
		slog.Debug("Coordinator discussion already launched, skipping")
		return nil
	}
	return c.runDiscussion(ctx)
}

// runDiscussion constructs one agent per participant from their persisted
// reports, runs the round-robin engine, and routes its events: turns to a
// broadcast channel, summaries and preparation notes to each participant's
// direct channel. After the run a final analysis combining the discussion
// summary with the persisted reports is posted to the broadcast channel.
func (c *Coordinator) runDiscussion(ctx context.Context) error {
	sessions := c.registry.Snapshot()

	var agents []*discussion.Agent
	var teamReports []string
	byID := make(map[string]*session.Session, len(sessions))
	for i, sess := range sessions {
		report, err := c.reports.LatestReport(models.ReportKindTeamMember, sess.ParticipantID)
		if err != nil {
			slog.Error("Coordinator missing team member report, excluding agent", "error", err, "participant_id", sess.ParticipantID)
			continue
		}
		role := discussionRoles
		if i == 0 {
			role = moderatorRole
		}
		agents = append(agents, &discussion.Agent{
			ID:      sess.ParticipantID,
			Name:    sess.DisplayName,
			Role:    role,
			Context: report.Body,
		})
		teamReports = append(teamReports, sess.DisplayName+":\n"+report.Body)
		byID[sess.ParticipantID] = sess
	}
	if len(agents) == 0 {
		return models.ErrNoAgents
	}

	initialPrompt := "The team needs to reach a decision."
	var leadershipBody string
	if leadership, err := c.reports.LatestReportOfKind(models.ReportKindLeadership); err == nil {
		leadershipBody = leadership.Body
		initialPrompt = "The issue we need to resolve is described in this report: " + leadership.Body
	} else {
		slog.Warn("Coordinator launching discussion without leadership report", "error", err)
	}

	broadcast := c.openBroadcastChannel(ctx, sessions)

	engine, err := discussion.NewEngine(c.genaiClient, agents, discussion.WithTurns(c.discussionTurns))
	if err != nil {
		return err
	}

	slog.Info("Coordinator launching discussion", "agents", len(agents), "turns", c.discussionTurns, "broadcast", broadcast)
	var summary string
	for ev := range engine.Run(ctx, initialPrompt) {
		if ev.Type == models.DiscussionEventSummary && summary == "" {
			summary = ev.Content
		}
		c.routeDiscussionEvent(ctx, ev, broadcast, byID)
	}

	c.postFinalAnalysis(ctx, broadcast, summary, leadershipBody, teamReports)
	slog.Info("Coordinator discussion complete", "agents", len(agents))
	return nil
}

// postFinalAnalysis issues one completion combining the discussion summary,
// the leadership report, and the team member reports, and posts the result to
// the broadcast channel. A completion failure skips the analysis; the
// discussion output has already reached everyone.
func (c *Coordinator) postFinalAnalysis(ctx context.Context, broadcast, summary, leadership string, teamReports []string) {
	thread := models.Thread{{Role: models.ChatRoleSystem, Content: finalAnalysisSystemPrompt}}
	thread = thread.Append(models.ChatRoleUser, fmt.Sprintf(finalAnalysisPromptTemplate, summary, leadership, strings.Join(teamReports, "\n\n")))

	analysis, err := c.genaiClient.GenerateWithMessages(ctx, genai.MessagesFromThread(thread))
	if err != nil {
		slog.Error("Coordinator final analysis completion failed, skipping", "error", err)
		return
	}
	text := "*Final analysis*\n\n" + analysis
	if err := c.msgService.SendMessage(ctx, broadcast, text); err != nil {
		slog.Error("Coordinator failed to deliver final analysis", "error", err)
	}
}

// openBroadcastChannel creates the discussion channel, falling back to the
// first participant's direct channel when creation fails.
func (c *Coordinator) openBroadcastChannel(ctx context.Context, sessions []*session.Session) string {
	// Channel names must be unique; a random suffix avoids collisions when
	// several discussions run in one workspace on the same day.
	name := util.GenerateRandomID("decision-discussion-"+strings.ToLower(models.NewReportTimestamp(time.Now()))+"-", 6)
	channel, err := c.msgService.CreateBroadcastChannel(ctx, name)
	if err == nil {
		return channel
	}
	slog.Error("Coordinator failed to create broadcast channel, falling back to direct channel", "error", err, "name", name)
	if len(sessions) > 0 {
		return sessions[0].Channel
	}
	return ""
}

// routeDiscussionEvent delivers one engine event. Routing keys on the agent's
// identity, never the display name, since names may collide. Delivery
// failures are logged and never interrupt the run.
func (c *Coordinator) routeDiscussionEvent(ctx context.Context, ev models.DiscussionEvent, broadcast string, byID map[string]*session.Session) {
	switch ev.Type {
	case models.DiscussionEventTurn:
		text := fmt.Sprintf("*%s*: %s", ev.AgentName, ev.Content)
		if err := c.msgService.SendMessage(ctx, broadcast, text); err != nil {
			slog.Error("Coordinator failed to broadcast turn", "error", err, "turn", ev.Turn, "agent", ev.AgentID)
		}
	case models.DiscussionEventSummary:
		sess, ok := byID[ev.AgentID]
		if !ok {
			return
		}
		text := "Here is the summary of the discussion:\n\n" + ev.Content
		if err := c.msgService.SendMessage(ctx, sess.Channel, text); err != nil {
			slog.Error("Coordinator failed to deliver summary", "error", err, "agent", ev.AgentID)
		}
	case models.DiscussionEventPreparation:
		sess, ok := byID[ev.AgentID]
		if !ok {
			return
		}
		text := "To prepare for the meeting:\n\n" + ev.Content
		if err := c.msgService.SendMessage(ctx, sess.Channel, text); err != nil {
			slog.Error("Coordinator failed to deliver preparation notes", "error", err, "agent", ev.AgentID)
		}
	}
}
