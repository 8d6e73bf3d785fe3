// Package store provides storage backends for DecisionPipe.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "embed"

	"github.com/BTreeMap/DecisionPipe/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists reports and dedup records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run PostgreSQL migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// AddReport persists one report artifact.
func (s *PostgresStore) AddReport(r models.Report) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO reports (kind, participant, ts, body) VALUES ($1, $2, $3, $4)`,
		string(r.Kind), r.Participant, r.Timestamp, r.Body)
	if err != nil {
		slog.Error("PostgresStore AddReport failed", "error", err, "kind", r.Kind, "participant", r.Participant)
		return fmt.Errorf("failed to insert report for %s: %w", r.Participant, err)
	}
	slog.Debug("PostgresStore AddReport succeeded", "kind", r.Kind, "participant", r.Participant, "ts", r.Timestamp)
	return nil
}

// LatestReport returns the report with the maximum timestamp for the given
// kind and participant.
func (s *PostgresStore) LatestReport(kind models.ReportKind, participant string) (*models.Report, error) {
	row := s.db.QueryRow(`SELECT kind, participant, ts, body FROM reports WHERE kind = $1 AND participant = $2 ORDER BY ts DESC LIMIT 1`,
		string(kind), participant)
	var r models.Report
	if err := row.Scan(&r.Kind, &r.Participant, &r.Timestamp, &r.Body); err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNoReportFound
		}
		slog.Error("PostgresStore LatestReport scan failed", "error", err, "kind", kind, "participant", participant)
		return nil, fmt.Errorf("failed to query latest report: %w", err)
	}
	return &r, nil
}

// LatestReportOfKind returns the report with the maximum timestamp for the
// given kind across all participants.
func (s *PostgresStore) LatestReportOfKind(kind models.ReportKind) (*models.Report, error) {
	row := s.db.QueryRow(`SELECT kind, participant, ts, body FROM reports WHERE kind = $1 ORDER BY ts DESC LIMIT 1`, string(kind))
	var r models.Report
	if err := row.Scan(&r.Kind, &r.Participant, &r.Timestamp, &r.Body); err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNoReportFound
		}
		slog.Error("PostgresStore LatestReportOfKind scan failed", "error", err, "kind", kind)
		return nil, fmt.Errorf("failed to query latest report: %w", err)
	}
	return &r, nil
}

// ListReports returns all reports of the given kind ordered by
// (participant, timestamp).
func (s *PostgresStore) ListReports(kind models.ReportKind) ([]models.Report, error) {
	rows, err := s.db.Query(`SELECT kind, participant, ts, body FROM reports WHERE kind = $1 ORDER BY participant, ts`, string(kind))
	if err != nil {
		slog.Error("PostgresStore ListReports query failed", "error", err, "kind", kind)
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var out []models.Report
	for rows.Next() {
		var r models.Report
		if err := rows.Scan(&r.Kind, &r.Participant, &r.Timestamp, &r.Body); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordInbound inserts an inbound event dedup record. Returns false on a
// duplicate event ID.
func (s *PostgresStore) RecordInbound(eventID, participantID string) (bool, error) {
	res, err := s.db.Exec(`INSERT INTO inbound_dedup (event_id, participant_id) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`,
		eventID, participantID)
	if err != nil {
		slog.Error("PostgresStore RecordInbound failed", "error", err, "event_id", eventID)
		return false, fmt.Errorf("failed to record inbound event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
