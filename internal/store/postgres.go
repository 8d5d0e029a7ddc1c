package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore keeps A/B test records in a shared PostgreSQL database, for
// deployments where several servers record into one place.
type PostgresStore struct {
	db *sql.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ab_tests (
    id BIGSERIAL PRIMARY KEY,
    subject_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    variant TEXT NOT NULL,
    viewed_offer BOOLEAN NOT NULL DEFAULT FALSE,
    viewed_benefits BOOLEAN NOT NULL DEFAULT FALSE,
    viewed_testimonials BOOLEAN NOT NULL DEFAULT FALSE,
    viewed_form BOOLEAN NOT NULL DEFAULT FALSE,
    started_form BOOLEAN NOT NULL DEFAULT FALSE,
    submitted_form BOOLEAN NOT NULL DEFAULT FALSE,
    clicked_cta BOOLEAN NOT NULL DEFAULT FALSE,
    time_on_page_seconds INTEGER NOT NULL DEFAULT 0,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    UNIQUE (subject_id, session_id)
);

CREATE INDEX IF NOT EXISTS idx_ab_tests_subject_variant ON ab_tests(subject_id, variant);
`

// OpenPostgres connects, pings and applies the schema.
func OpenPostgres(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open DB: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return NewPostgres(db), nil
}

// NewPostgres wraps an open connection. The schema must already exist.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) FindABTest(ctx context.Context, subjectID, sessionID string) (*ABTest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM ab_tests WHERE subject_id = $1 AND session_id = $2`,
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

func (s *PostgresStore) CreateABTest(ctx context.Context, subjectID, sessionID, variant string) (*ABTest, error) {
	now := time.Now().Unix()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ab_tests (subject_id, session_id, variant, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (subject_id, session_id) DO NOTHING`,
		subjectID, sessionID, variant, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ab test: %w", err)
	}

	return s.FindABTest(ctx, subjectID, sessionID)
}

func (s *PostgresStore) SetFlag(ctx context.Context, id int64, flag Flag) error {
	column, ok := flagColumns[flag]
	if !ok {
		return fmt.Errorf("unknown flag %q", flag)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE ab_tests SET `+column+` = TRUE, updated_at = $1 WHERE id = $2`,
		time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", flag, err)
	}
	return requireRow(result)
}

func (s *PostgresStore) SetTimeOnPage(ctx context.Context, id int64, seconds int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE ab_tests SET time_on_page_seconds = $1, updated_at = $2 WHERE id = $3`,
		seconds, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set time on page: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) ListABTests(ctx context.Context, subjectID string) ([]*ABTest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM ab_tests WHERE subject_id = $1 ORDER BY created_at, id`,
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

func (s *PostgresStore) GetVariantStats(ctx context.Context, subjectID string) ([]VariantStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			variant,
			COUNT(*) AS views,
			COUNT(*) FILTER (WHERE submitted_form) AS conversions,
			COALESCE(AVG(time_on_page_seconds), 0)::float8 AS avg_time
		FROM ab_tests
		WHERE subject_id = $1
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

func (s *PostgresStore) ListSubjects(ctx context.Context) ([]SubjectSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, COUNT(*), COUNT(*) FILTER (WHERE submitted_form), MIN(created_at)
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
