// Package models defines the core data structures for DecisionPipe.
//
// It includes chat threads, session stages, reports, and inbound/discussion
// events, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// ChatRole identifies the author of a chat message as seen by the
// completion service.
type ChatRole string

const (
	// ChatRoleSystem establishes persona and context; always first in a thread.
	ChatRoleSystem ChatRole = "system"
	// ChatRoleUser marks messages authored by the human participant.
	ChatRoleUser ChatRole = "user"
	// ChatRoleAssistant marks messages generated by the completion service.
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage is a single role-tagged message. Immutable once appended to a
// thread.
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// Thread is an ordered, append-only sequence of chat messages. Ordering is
// discussion order and must be preserved exactly when replayed to the
// completion service.
type Thread []ChatMessage

// Append returns the thread with a new message appended.
func (t Thread) Append(role ChatRole, content string) Thread {
	return append(t, ChatMessage{Role: role, Content: content})
}

// SessionStage identifies where a participant is in the decision workflow.
// Stage is the sole driver of branching in the session stepper.
type SessionStage string

const (
	// StageNew is the implicit stage of a participant with no session yet.
	StageNew SessionStage = ""
	// StageAwaitingSituation waits for the leader to describe the decision.
	StageAwaitingSituation SessionStage = "AWAITING_SITUATION"
	// StageAwaitingClarification waits for the leader's answer to the
	// clarifying question.
	StageAwaitingClarification SessionStage = "AWAITING_CLARIFICATION_ANSWER"
	// StageAwaitingRecipients waits for the leader to mention stakeholders.
	StageAwaitingRecipients SessionStage = "AWAITING_RECIPIENTS"
	// StageAwaitingOpinion waits for a stakeholder's initial opinion on the
	// leadership report.
	StageAwaitingOpinion SessionStage = "AWAITING_OPINION"
	// StageAwaitingOpinionAnswer waits for a stakeholder's answer to the
	// clarifying question about their opinion.
	StageAwaitingOpinionAnswer SessionStage = "AWAITING_OPINION_ANSWER"
	// StageAwaitingDiscussion marks a participant who has filed a report and
	// is waiting at the discussion barrier.
	StageAwaitingDiscussion SessionStage = "AWAITING_DISCUSSION_BARRIER"
)

// IsValidSessionStage checks if the given stage is known.
func IsValidSessionStage(s SessionStage) bool {
	switch s {
	case StageNew, StageAwaitingSituation, StageAwaitingClarification,
		StageAwaitingRecipients, StageAwaitingOpinion,
		StageAwaitingOpinionAnswer, StageAwaitingDiscussion:
		return true
	default:
		return false
	}
}

// ReportKind distinguishes the two report artifact flavors.
type ReportKind string

const (
	// ReportKindLeadership is the leader's situation + recommendations report.
	ReportKindLeadership ReportKind = "leadership"
	// ReportKindTeamMember is a stakeholder's opinions/concerns report.
	ReportKindTeamMember ReportKind = "team_member"
)

// ReportTimestampLayout is fixed-width so that lexicographic comparison of
// timestamp strings matches chronological order.
const ReportTimestampLayout = "20060102-150405"

// NewReportTimestamp formats t in the sortable report timestamp layout.
func NewReportTimestamp(t time.Time) string {
	return t.UTC().Format(ReportTimestampLayout)
}

// Report is a persisted report artifact, keyed by (kind, participant,
// timestamp). Multiple reports may exist per participant; "latest" is the
// maximum timestamp string.
type Report struct {
	Kind        ReportKind `json:"kind"`
	Participant string     `json:"participant"`
	Timestamp   string     `json:"timestamp"`
	Body        string     `json:"body"`
}

// FileRef describes an attachment on an inbound message.
type FileRef struct {
	Name     string `json:"name"`
	Mimetype string `json:"mimetype"`
	URL      string `json:"url"`
}

// InboundMessage is the event shape consumed by the session stepper.
type InboundMessage struct {
	ParticipantID string    `json:"participant_id"`
	Text          string    `json:"text"`
	Channel       string    `json:"channel"`
	ThreadTS      string    `json:"thread_ts,omitempty"`
	Files         []FileRef `json:"files,omitempty"`
}

// DiscussionEventType identifies the kind of event emitted by the discussion
// engine.
type DiscussionEventType string

const (
	// DiscussionEventTurn carries one agent's reply for one round-robin turn.
	DiscussionEventTurn DiscussionEventType = "turn"
	// DiscussionEventSummary carries the shared discussion summary.
	DiscussionEventSummary DiscussionEventType = "summary"
	// DiscussionEventPreparation carries one agent's preparation notes.
	DiscussionEventPreparation DiscussionEventType = "preparation"
)

// DiscussionEvent is one streamed output of a discussion run. For a run with
// N agents and T turns, exactly T turn events, N summary events, and N
// preparation events are emitted, in that relative order.
type DiscussionEvent struct {
	Type DiscussionEventType `json:"type"`
	Turn int                 `json:"turn,omitempty"`
	// AgentID is the agent's unique identity, used for routing. AgentName is
	// the human-readable name and may collide between agents.
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Content   string `json:"content"`
}

// Validation and protocol error variables.
var (
	ErrEmptyParticipant   = errors.New("participant cannot be empty")
	ErrEmptyReportBody    = errors.New("report body cannot be empty")
	ErrInvalidReportKind  = errors.New("invalid report kind")
	ErrInvalidStage       = errors.New("invalid session stage")
	ErrAlreadySeeded      = errors.New("bot thread already seeded")
	ErrNotSeeded          = errors.New("bot thread not seeded")
	ErrNoReportFound      = errors.New("no report found")
	ErrNoAgents           = errors.New("discussion requires at least one agent")
	ErrDiscussionLaunched = errors.New("discussion already launched")
)

// IsValidReportKind checks if the given report kind is supported.
func IsValidReportKind(k ReportKind) bool {
	return k == ReportKindLeadership || k == ReportKindTeamMember
}

// Validate performs validation on a Report structure before persistence.
func (r *Report) Validate() error {
	if !IsValidReportKind(r.Kind) {
		return ErrInvalidReportKind
	}
	if r.Participant == "" {
		return ErrEmptyParticipant
	}
	if r.Body == "" {
		return ErrEmptyReportBody
	}
	return nil
}

// APIResponse is the standard JSON envelope returned by the HTTP API.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a success API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: "ok", Result: result}
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: "error", Message: message}
}
