// Package store provides storage backends for DecisionPipe.
//
// It persists report artifacts keyed by (kind, participant, timestamp) and
// inbound event deduplication records, with in-memory, SQLite, and PostgreSQL
// implementations.
package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/BTreeMap/DecisionPipe/internal/models"
)

// Store defines the persistence surface consumed by bots and the session
// stepper.
type Store interface {
	// AddReport persists one report artifact.
	AddReport(r models.Report) error

	// LatestReport returns the report with the maximum timestamp for the
	// given kind and participant, or models.ErrNoReportFound if none exists.
	LatestReport(kind models.ReportKind, participant string) (*models.Report, error)

	// LatestReportOfKind returns the report with the maximum timestamp for
	// the given kind across all participants, or models.ErrNoReportFound if
	// none exists.
	LatestReportOfKind(kind models.ReportKind) (*models.Report, error)

	// ListReports returns all reports of the given kind, ordered by
	// (participant, timestamp).
	ListReports(kind models.ReportKind) ([]models.Report, error)

	// RecordInbound inserts an inbound event dedup record. Returns false if
	// the event ID was already recorded (duplicate delivery).
	RecordInbound(eventID, participantID string) (bool, error)

	// Close releases underlying resources.
	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite file path as the store DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string as the store DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a simple in-memory store used in tests and when no DSN is
// configured.
type InMemoryStore struct {
	mu      sync.RWMutex
	reports []models.Report
	seen    map[string]string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{seen: make(map[string]string)}
}

// AddReport persists one report artifact in memory.
func (s *InMemoryStore) AddReport(r models.Report) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

// LatestReport returns the report with the maximum timestamp for the given
// kind and participant.
func (s *InMemoryStore) LatestReport(kind models.ReportKind, participant string) (*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Report
	for i := range s.reports {
		r := s.reports[i]
		if r.Kind != kind || r.Participant != participant {
			continue
		}
		if latest == nil || r.Timestamp > latest.Timestamp {
			latest = &r
		}
	}
	if latest == nil {
		return nil, models.ErrNoReportFound
	}
	out := *latest
	return &out, nil
}

// LatestReportOfKind returns the report with the maximum timestamp for the
// given kind across all participants.
func (s *InMemoryStore) LatestReportOfKind(kind models.ReportKind) (*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Report
	for i := range s.reports {
		r := s.reports[i]
		if r.Kind != kind {
			continue
		}
		if latest == nil || r.Timestamp > latest.Timestamp {
			latest = &r
		}
	}
	if latest == nil {
		return nil, models.ErrNoReportFound
	}
	out := *latest
	return &out, nil
}

// ListReports returns all reports of the given kind ordered by
// (participant, timestamp).
func (s *InMemoryStore) ListReports(kind models.ReportKind) ([]models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Report
	for _, r := range s.reports {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Participant != out[j].Participant {
			return out[i].Participant < out[j].Participant
		}
		return out[i].Timestamp < out[j].Timestamp
	})
	return out, nil
}

// RecordInbound inserts an inbound event dedup record.
func (s *InMemoryStore) RecordInbound(eventID, participantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[eventID]; dup {
		return false, nil
	}
	s.seen[eventID] = participantID
	return true, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
