// Package store provides storage backends for DecisionPipe.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/DecisionPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists reports and dedup records in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file path).
// The parent directory is created if it does not exist.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// AddReport persists one report artifact.
func (s *SQLiteStore) AddReport(r models.Report) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO reports (kind, participant, ts, body) VALUES (?, ?, ?, ?)`,
		string(r.Kind), r.Participant, r.Timestamp, r.Body)
	if err != nil {
		slog.Error("SQLiteStore AddReport failed", "error", err, "kind", r.Kind, "participant", r.Participant)
		return fmt.Errorf("failed to insert report for %s: %w", r.Participant, err)
	}
	slog.Debug("SQLiteStore AddReport succeeded", "kind", r.Kind, "participant", r.Participant, "ts", r.Timestamp)
	return nil
}

// LatestReport returns the report with the maximum timestamp for the given
// kind and participant.
func (s *SQLiteStore) LatestReport(kind models.ReportKind, participant string) (*models.Report, error) {
	row := s.db.QueryRow(`SELECT kind, participant, ts, body FROM reports WHERE kind = ? AND participant = ? ORDER BY ts DESC LIMIT 1`,
		string(kind), participant)
	var r models.Report
	if err := row.Scan(&r.Kind, &r.Participant, &r.Timestamp, &r.Body); err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNoReportFound
		}
		slog.Error("SQLiteStore LatestReport scan failed", "error", err, "kind", kind, "participant", participant)
		return nil, fmt.Errorf("failed to query latest report: %w", err)
	}
	return &r, nil
}

// LatestReportOfKind returns the report with the maximum timestamp for the
// given kind across all participants.
func (s *SQLiteStore) LatestReportOfKind(kind models.ReportKind) (*models.Report, error) {
	row := s.db.QueryRow(`SELECT kind, participant, ts, body FROM reports WHERE kind = ? ORDER BY ts DESC LIMIT 1`, string(kind))
	var r models.Report
	if err := row.Scan(&r.Kind, &r.Participant, &r.Timestamp, &r.Body); err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNoReportFound
		}
		slog.Error("SQLiteStore LatestReportOfKind scan failed", "error", err, "kind", kind)
		return nil, fmt.Errorf("failed to query latest report: %w", err)
	}
	return &r, nil
}

// ListReports returns all reports of the given kind ordered by
// (participant, timestamp).
func (s *SQLiteStore) ListReports(kind models.ReportKind) ([]models.Report, error) {
	rows, err := s.db.Query(`SELECT kind, participant, ts, body FROM reports WHERE kind = ? ORDER BY participant, ts`, string(kind))
	if err != nil {
		slog.Error("SQLiteStore ListReports query failed", "error", err, "kind", kind)
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
func (s *SQLiteStore) RecordInbound(eventID, participantID string) (bool, error) {
	res, err := s.db.Exec(`INSERT OR IGNORE INTO inbound_dedup (event_id, participant_id) VALUES (?, ?)`,
		eventID, participantID)
	if err != nil {
		slog.Error("SQLiteStore RecordInbound failed", "error", err, "event_id", eventID)
		return false, fmt.Errorf("failed to record inbound event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
