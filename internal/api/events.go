package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/DecisionPipe/internal/models"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// maxEventBody caps the webhook request body.
const maxEventBody = 1 << 20

// eventEnvelope carries the outer fields of a callback delivery that the
// events package does not expose directly.
type eventEnvelope struct {
	EventID string `json:"event_id"`
}

// eventsHandler receives Events API deliveries (POST /slack/events): it
// verifies the request signature, answers URL verification challenges,
// deduplicates redeliveries by event ID, and enqueues workflow messages for
// the serial event worker. The platform retries deliveries that are not
// acknowledged quickly, so no workflow processing happens on this path.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.eventsHandler: processing delivery", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server.eventsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		slog.Warn("Server.eventsHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read request body"))
		return
	}

	if s.signingSecret != "" {
		if err := verifySignature(r.Header, s.signingSecret, body); err != nil {
			slog.Warn("Server.eventsHandler: signature verification failed", "error", err)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid request signature"))
			return
		}
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		slog.Warn("Server.eventsHandler: failed to parse event", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid event payload"))
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			slog.Warn("Server.eventsHandler: failed to parse challenge", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid challenge payload"))
			return
		}
		slog.Info("Server.eventsHandler: answering URL verification challenge")
		w.Header().Set("Content-Type", "text/plain")
		if _, err := w.Write([]byte(challenge.Challenge)); err != nil {
			slog.Error("Server.eventsHandler: failed to write challenge response", "error", err)
		}

	case slackevents.CallbackEvent:
		var envelope eventEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			slog.Warn("Server.eventsHandler: failed to parse envelope", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid event envelope"))
			return
		}
		s.handleCallbackEvent(w, envelope.EventID, event.InnerEvent)

	default:
		slog.Debug("Server.eventsHandler: ignoring event type", "type", event.Type)
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
	}
}

// handleCallbackEvent converts one inner event to a workflow message,
// deduplicates it, and enqueues it.
func (s *Server) handleCallbackEvent(w http.ResponseWriter, eventID string, inner slackevents.EventsAPIInnerEvent) {
	msg := inboundFromEvent(inner)
	if msg == nil {
		slog.Debug("Server.eventsHandler: no workflow message in event", "inner_type", inner.Type)
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
		return
	}

	if eventID != "" {
		fresh, err := s.st.RecordInbound(eventID, msg.ParticipantID)
		if err != nil {
			slog.Error("Server.eventsHandler: dedup check failed", "error", err, "event_id", eventID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to record event"))
			return
		}
		if !fresh {
			slog.Info("Server.eventsHandler: duplicate delivery skipped", "event_id", eventID, "participant_id", msg.ParticipantID)
			writeJSONResponse(w, http.StatusOK, models.Success(nil))
			return
		}
	}

	select {
	case s.events <- *msg:
		slog.Debug("Server.eventsHandler: event enqueued", "event_id", eventID, "participant_id", msg.ParticipantID)
		writeJSONResponse(w, http.StatusOK, models.Success(nil))
	default:
		slog.Error("Server.eventsHandler: event queue full, dropping delivery", "event_id", eventID, "participant_id", msg.ParticipantID)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Event queue full"))
	}
}

// inboundFromEvent maps an inner event to a workflow message. Returns nil for
// events the workflow does not consume (bot echoes, channel joins, edits).
func inboundFromEvent(inner slackevents.EventsAPIInnerEvent) *models.InboundMessage {
	switch ev := inner.Data.(type) {
	case *slackevents.AppMentionEvent:
		return &models.InboundMessage{
			ParticipantID: ev.User,
			Text:          ev.Text,
			Channel:       ev.Channel,
			ThreadTS:      threadAnchor(ev.ThreadTimeStamp, ev.TimeStamp),
		}
	case *slackevents.MessageEvent:
		if ev.BotID != "" || ev.User == "" {
			return nil
		}
		if ev.SubType != "" && ev.SubType != "file_share" {
			return nil
		}
		msg := &models.InboundMessage{
			ParticipantID: ev.User,
			Text:          ev.Text,
			Channel:       ev.Channel,
			ThreadTS:      threadAnchor(ev.ThreadTimeStamp, ev.TimeStamp),
		}
		for _, f := range ev.Files {
			msg.Files = append(msg.Files, models.FileRef{
				Name:     f.Name,
				Mimetype: f.Mimetype,
				URL:      f.URLPrivateDownload,
			})
		}
		return msg
	default:
		return nil
	}
}

// threadAnchor picks the thread to reply into: the existing thread when the
// message is already threaded, otherwise the message itself.
func threadAnchor(threadTS, ts string) string {
	if threadTS != "" {
		return threadTS
	}
	return ts
}

// verifySignature checks the platform's HMAC request signature.
func verifySignature(header http.Header, secret string, body []byte) error {
	sv, err := slack.NewSecretsVerifier(header, secret)
	if err != nil {
		return err
	}
	if _, err := sv.Write(body); err != nil {
		return err
	}
	return sv.Ensure()
}
