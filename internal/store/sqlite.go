package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS ab_tests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    subject_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    variant TEXT NOT NULL,
    viewed_offer INTEGER NOT NULL DEFAULT 0,
    viewed_benefits INTEGER NOT NULL DEFAULT 0,
    viewed_testimonials INTEGER NOT NULL DEFAULT 0,
    viewed_form INTEGER NOT NULL DEFAULT 0,
    started_form INTEGER NOT NULL DEFAULT 0,
    submitted_form INTEGER NOT NULL DEFAULT 0,
    clicked_cta INTEGER NOT NULL DEFAULT 0,
    time_on_page_seconds INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_ab_tests_subject_session ON ab_tests(subject_id, session_id);
CREATE INDEX IF NOT EXISTS idx_ab_tests_subject_variant ON ab_tests(subject_id, variant);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for health checks and for
// sharing the file with the kv backend.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) FindABTest(ctx context.Context, subjectID, sessionID string) (*ABTest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM ab_tests WHERE subject_id = ? AND session_id = ?`,
		subjectID, sessionID,
	)
	t, err := scanABTest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ab test: %w", err)
	}
	return t, nil
}

// CreateABTest inserts a record for (subject, session). If one already
// exists it is returned unchanged, keeping its original variant.
func (s *SQLiteStore) CreateABTest(ctx context.Context, subjectID, sessionID, variant string) (*ABTest, error) {
	now := time.Now().Unix()

	// INSERT OR IGNORE keeps the unique index as the single source of truth
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO ab_tests (subject_id, session_id, variant, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		subjectID, sessionID, variant, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ab test: %w", err)
	}

	return s.FindABTest(ctx, subjectID, sessionID)
}

func (s *SQLiteStore) SetFlag(ctx context.Context, id int64, flag Flag) error {
	column, ok := flagColumns[flag]
	if !ok {
		return fmt.Errorf("unknown flag %q", flag)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE ab_tests SET `+column+` = 1, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", flag, err)
	}
	return requireRow(result)
}

func (s *SQLiteStore) SetTimeOnPage(ctx context.Context, id int64, seconds int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE ab_tests SET time_on_page_seconds = ?, updated_at = ? WHERE id = ?`,
		seconds, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set time on page: %w", err)
	}
	return requireRow(result)
}

func (s *SQLiteStore) ListABTests(ctx context.Context, subjectID string) ([]*ABTest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM ab_tests WHERE subject_id = ? ORDER BY created_at, id`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ab tests: %w", err)
	}
	defer rows.Close()

	var tests []*ABTest
	for rows.Next() {
		t, err := scanABTest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ab test: %w", err)
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

func (s *SQLiteStore) GetVariantStats(ctx context.Context, subjectID string) ([]VariantStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			variant,
			COUNT(*) AS views,
			COALESCE(SUM(submitted_form), 0) AS conversions,
			COALESCE(AVG(time_on_page_seconds), 0) AS avg_time
		FROM ab_tests
		WHERE subject_id = ?
		GROUP BY variant
		ORDER BY variant
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get variant stats: %w", err)
	}
	defer rows.Close()

	var stats []VariantStats
	for rows.Next() {
		var vs VariantStats
		if err := rows.Scan(&vs.Variant, &vs.Views, &vs.Conversions, &vs.AvgTimeOnPageSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats = append(stats, vs)
	}
	return stats, rows.Err()
}

func (s *SQLiteStore) ListSubjects(ctx context.Context) ([]SubjectSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, COUNT(*), COALESCE(SUM(submitted_form), 0), MIN(created_at)
		FROM ab_tests
		GROUP BY subject_id
		ORDER BY MIN(created_at) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	defer rows.Close()

	var subjects []SubjectSummary
	for rows.Next() {
		var ss SubjectSummary
		var firstSeen int64
		if err := rows.Scan(&ss.SubjectID, &ss.Sessions, &ss.Conversions, &firstSeen); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		ss.FirstSeen = unixTime(firstSeen)
		subjects = append(subjects, ss)
	}
	return subjects, rows.Err()
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0)
}
