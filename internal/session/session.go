// Package session tracks per-participant workflow state and provides the
// participant registry with the discussion-launch barrier.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/DecisionPipe/internal/bot"
	"github.com/BTreeMap/DecisionPipe/internal/models"
)

// Session is the per-participant record driving the session stepper. One
// exists per known participant, created lazily on first inbound message and
// never destroyed for the life of the process.
type Session struct {
	ParticipantID string
	Stage         models.SessionStage
	Bot           *bot.DialogueBot
	// Channel is the DM channel used to reach this participant.
	Channel string
	// ThreadTS anchors replies to the participant's originating thread.
	ThreadTS    string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Registry maps participant identities to their sessions. Implementations
// must provide an atomic check-and-set for the one-time discussion launch.
type Registry interface {
	// Get returns the session for a participant, or nil if unknown.
	Get(participantID string) *Session

	// Ensure returns the existing session for a participant, creating and
	// registering an empty one (stage NEW) if absent.
	Ensure(participantID string) *Session

	// Snapshot returns all sessions in registration order.
	Snapshot() []*Session

	// Len returns the number of registered participants.
	Len() int

	// AllAtStage reports whether every registered session is at the given
	// stage. Returns false for an empty registry.
	AllAtStage(stage models.SessionStage) bool

	// TryLaunch atomically flips the discussion-launched flag. It returns
	// true exactly once per registry lifetime; the caller that receives true
	// is the designated launcher.
	TryLaunch() bool

	// Launched reports whether the discussion has been launched.
	Launched() bool
}

// InMemoryRegistry is the process-lifetime registry implementation. The
// insertion-order slice makes Snapshot deterministic, which fixes the
// discussion agent order.
type InMemoryRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	order    []string
	launched bool
}

// NewInMemoryRegistry creates an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{sessions: make(map[string]*Session)}
}

// Get returns the session for a participant, or nil if unknown.
func (r *InMemoryRegistry) Get(participantID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[participantID]
}

// Ensure returns the existing session for a participant, registering a new
// one at stage NEW if absent.
func (r *InMemoryRegistry) Ensure(participantID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[participantID]; ok {
		return s
	}
	now := time.Now()
	s := &Session{
		ParticipantID: participantID,
		Stage:         models.StageNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.sessions[participantID] = s
	r.order = append(r.order, participantID)
	slog.Debug("Registry registered participant", "participant_id", participantID, "total", len(r.order))
	return s
}

// Snapshot returns all sessions in registration order.
func (r *InMemoryRegistry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

// Len returns the number of registered participants.
func (r *InMemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// AllAtStage reports whether every registered session is at the given stage.
func (r *InMemoryRegistry) AllAtStage(stage models.SessionStage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) == 0 {
		return false
	}
	for _, s := range r.sessions {
		if s.Stage != stage {
			return false
		}
	}
	return true
}

// TryLaunch atomically flips the discussion-launched flag, returning true
// exactly once.
func (r *InMemoryRegistry) TryLaunch() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.launched {
		return false
	}
	r.launched = true
	slog.Info("Registry discussion launch claimed")
	return true
}

// Launched reports whether the discussion has been launched.
func (r *InMemoryRegistry) Launched() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.launched
}
