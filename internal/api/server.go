package api

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/DecisionPipe/internal/extract"
	"github.com/BTreeMap/DecisionPipe/internal/flow"
	"github.com/BTreeMap/DecisionPipe/internal/genai"
	"github.com/BTreeMap/DecisionPipe/internal/messaging"
	"github.com/BTreeMap/DecisionPipe/internal/models"
	"github.com/BTreeMap/DecisionPipe/internal/session"
	"github.com/BTreeMap/DecisionPipe/internal/store"
	"github.com/BTreeMap/DecisionPipe/internal/transcribe"
)

// Default server configuration.
const (
	// DefaultAddr is the listen address used unless overridden.
	DefaultAddr = ":8080"
	// DefaultEventQueueSize caps the inbound event buffer between the webhook
	// and the event worker.
	DefaultEventQueueSize = 64
	// DefaultEventTimeout bounds processing of one inbound event. The final
	// event of a workflow runs the whole discussion, so the bound is generous.
	DefaultEventTimeout = 10 * time.Minute
)

// Coordinator is the event sink driven by the server's worker. Satisfied by
// *flow.Coordinator; extracted so webhook tests can substitute a recorder.
type Coordinator interface {
	HandleEvent(ctx context.Context, msg models.InboundMessage) error
}

// fileExtractor is the attachment-content surface consumed by event intake.
type fileExtractor interface {
	FetchFile(ctx context.Context, url string) ([]byte, error)
	ExtractPDF(ctx context.Context, url string) (string, error)
}

// Server owns the HTTP endpoints and the serial event worker that feeds the
// session stepper. One worker goroutine consumes the event queue, so stage
// handlers never observe concurrent mutation of a session.
type Server struct {
	addr          string
	signingSecret string

	coordinator Coordinator
	registry    session.Registry
	st          store.Store
	transcriber transcribe.ClientInterface
	extractor   fileExtractor

	events chan models.InboundMessage
	mux    *http.ServeMux
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr            string
	BotToken        string
	SigningSecret   string
	QueueSize       int
	DiscussionTurns int
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr overrides the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithBotToken sets the bot token used for message delivery and attachment
// downloads.
func WithBotToken(token string) Option {
	return func(o *Opts) { o.BotToken = token }
}

// WithSigningSecret sets the secret used to verify webhook signatures. When
// empty, signature verification is skipped.
func WithSigningSecret(secret string) Option {
	return func(o *Opts) { o.SigningSecret = secret }
}

// WithQueueSize overrides the inbound event buffer size.
func WithQueueSize(n int) Option {
	return func(o *Opts) {
		if n > 0 {
			o.QueueSize = n
		}
	}
}

// WithDiscussionTurns overrides the number of discussion turns.
func WithDiscussionTurns(n int) Option {
	return func(o *Opts) { o.DiscussionTurns = n }
}

// NewServer creates a server over already-constructed collaborators.
func NewServer(coordinator Coordinator, registry session.Registry, st store.Store, transcriber transcribe.ClientInterface, extractor fileExtractor, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, QueueSize: DefaultEventQueueSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		addr:          cfg.Addr,
		signingSecret: cfg.SigningSecret,
		coordinator:   coordinator,
		registry:      registry,
		st:            st,
		transcriber:   transcriber,
		extractor:     extractor,
		events:        make(chan models.InboundMessage, cfg.QueueSize),
		mux:           http.NewServeMux(),
	}
	s.mux.HandleFunc("/slack/events", s.eventsHandler)
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/api/v1/sessions", s.sessionsHandler)
	s.mux.HandleFunc("/api/v1/reports", s.reportsHandler)
	return s
}

// Run wires all modules from options and serves until the listener fails.
// This is the composition root used by the command-line entrypoint.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, transcribeOpts []transcribe.Option, apiOpts []Option) error {
	cfg := Opts{Addr: DefaultAddr, QueueSize: DefaultEventQueueSize}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	msgService, err := messaging.NewSlackService(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("failed to create messaging service: %w", err)
	}

	st, err := buildStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	genaiClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to create completion client: %w", err)
	}
	transcriber, err := transcribe.NewClient(transcribeOpts...)
	if err != nil {
		return fmt.Errorf("failed to create transcription client: %w", err)
	}
	extractor := extract.NewExtractor(cfg.BotToken)

	registry := session.NewInMemoryRegistry()
	var flowOpts []flow.Option
	if cfg.DiscussionTurns > 0 {
		flowOpts = append(flowOpts, flow.WithDiscussionTurns(cfg.DiscussionTurns))
	}
	coordinator := flow.NewCoordinator(registry, msgService, genaiClient, st, flowOpts...)

	srv := NewServer(coordinator, registry, st, transcriber, extractor, apiOpts...)
	return srv.Start()
}

// buildStore selects a store backend from the configured DSN: PostgreSQL for
// connection strings, SQLite for file paths, in-memory when unset.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	switch {
	case cfg.DSN == "":
		slog.Info("No database DSN configured, using in-memory store")
		return store.NewInMemoryStore(), nil
	case store.DetectDSNType(cfg.DSN) == "postgres":
		slog.Info("Using PostgreSQL store")
		return store.NewPostgresStore(storeOpts...)
	default:
		slog.Info("Using SQLite store", "path", cfg.DSN)
		return store.NewSQLiteStore(storeOpts...)
	}
}

// Start launches the event worker and serves HTTP on the configured address.
func (s *Server) Start() error {
	go s.eventWorker()
	slog.Info("DecisionPipe API running", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.mux)
}

// eventWorker drains the inbound event queue serially. Attachment ingestion
// happens here rather than in the webhook handler so the platform's delivery
// deadline is never spent on downloads.
func (s *Server) eventWorker() {
	for msg := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultEventTimeout)
		s.ingestAttachments(ctx, &msg)
		if err := s.coordinator.HandleEvent(ctx, msg); err != nil {
			slog.Error("Server event worker: handling failed", "error", err, "participant_id", msg.ParticipantID)
		}
		cancel()
	}
}

// ingestAttachments converts audio and PDF attachments to text appended to
// the message body. A failed attachment is logged and skipped; the text that
// was already present still goes through.
func (s *Server) ingestAttachments(ctx context.Context, msg *models.InboundMessage) {
	for _, f := range msg.Files {
		switch {
		case isAudioMimetype(f.Mimetype):
			if s.transcriber == nil || s.extractor == nil {
				slog.Warn("Server: audio attachment ignored, transcription not configured", "filename", f.Name)
				continue
			}
			data, err := s.extractor.FetchFile(ctx, f.URL)
			if err != nil {
				slog.Error("Server: failed to download audio attachment", "error", err, "filename", f.Name)
				continue
			}
			text, err := s.transcriber.Transcribe(ctx, bytes.NewReader(data), f.Name, f.Mimetype)
			if err != nil {
				slog.Error("Server: failed to transcribe audio attachment", "error", err, "filename", f.Name)
				continue
			}
			msg.Text = appendAttachmentText(msg.Text, text)
		case f.Mimetype == "application/pdf":
			if s.extractor == nil {
				slog.Warn("Server: PDF attachment ignored, extraction not configured", "filename", f.Name)
				continue
			}
			text, err := s.extractor.ExtractPDF(ctx, f.URL)
			if err != nil {
				slog.Error("Server: failed to extract PDF attachment", "error", err, "filename", f.Name)
				continue
			}
			msg.Text = appendAttachmentText(msg.Text, text)
		default:
			slog.Debug("Server: ignoring unsupported attachment", "filename", f.Name, "mimetype", f.Mimetype)
		}
	}
}

// isAudioMimetype reports whether an attachment is a voice message.
func isAudioMimetype(mimetype string) bool {
	return strings.HasPrefix(mimetype, "audio/")
}

// appendAttachmentText joins extracted attachment text onto the message body.
func appendAttachmentText(body, extracted string) string {
	extracted = strings.TrimSpace(extracted)
	if extracted == "" {
		return body
	}
	if body == "" {
		return extracted
	}
	return body + "\n\n" + extracted
}

// healthHandler provides a health check endpoint for monitoring.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":              "healthy",
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
		"participants":        s.registry.Len(),
		"discussion_launched": s.registry.Launched(),
		"queued_events":       len(s.events),
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}

// sessionView is the JSON shape returned by the sessions endpoint.
type sessionView struct {
	ParticipantID string              `json:"participant_id"`
	DisplayName   string              `json:"display_name,omitempty"`
	Stage         models.SessionStage `json:"stage"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// sessionsHandler returns all participant sessions (GET /api/v1/sessions).
func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.sessionsHandler invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessions := s.registry.Snapshot()
	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, sessionView{
			ParticipantID: sess.ParticipantID,
			DisplayName:   sess.DisplayName,
			Stage:         sess.Stage,
			UpdatedAt:     sess.UpdatedAt,
		})
	}
	slog.Debug("Server.sessionsHandler returning sessions", "count", len(views))
	writeJSONResponse(w, http.StatusOK, models.Success(views))
}

// reportsHandler returns persisted reports of one kind
// (GET /api/v1/reports?kind=leadership|team_member).
func (s *Server) reportsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.reportsHandler invoked", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	kind := models.ReportKind(r.URL.Query().Get("kind"))
	if !models.IsValidReportKind(kind) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid or missing report kind"))
		return
	}

	reports, err := s.st.ListReports(kind)
	if err != nil {
		slog.Error("Server.reportsHandler: failed to list reports", "error", err, "kind", kind)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch reports"))
		return
	}
	slog.Debug("Server.reportsHandler returning reports", "kind", kind, "count", len(reports))
	writeJSONResponse(w, http.StatusOK, models.Success(reports))
}
