package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// Store defines the interface for A/B test record storage
type Store interface {
	// Record operations
	FindABTest(ctx context.Context, subjectID, sessionID string) (*ABTest, error)
	CreateABTest(ctx context.Context, subjectID, sessionID, variant string) (*ABTest, error)
	SetFlag(ctx context.Context, id int64, flag Flag) error
	SetTimeOnPage(ctx context.Context, id int64, seconds int) error

	// Reporting
	ListABTests(ctx context.Context, subjectID string) ([]*ABTest, error)
	GetVariantStats(ctx context.Context, subjectID string) ([]VariantStats, error)
	ListSubjects(ctx context.Context) ([]SubjectSummary, error)

	// Lifecycle
	Close() error
}

// flagColumns maps each flag to its column. Columns are never built from
// caller input.
var flagColumns = map[Flag]string{
	FlagViewedOffer:        "viewed_offer",
	FlagViewedBenefits:     "viewed_benefits",
	FlagViewedTestimonials: "viewed_testimonials",
	FlagViewedForm:         "viewed_form",
	FlagStartedForm:        "started_form",
	FlagSubmittedForm:      "submitted_form",
	FlagClickedCTA:         "clicked_cta",
}

const selectColumns = `id, subject_id, session_id, variant,
	viewed_offer, viewed_benefits, viewed_testimonials, viewed_form,
	started_form, submitted_form, clicked_cta, time_on_page_seconds,
	created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanABTest reads one row selected with selectColumns. Timestamps are unix
// seconds in both backends.
func scanABTest(row scanner) (*ABTest, error) {
	var t ABTest
	var flags [7]bool
	var createdAt, updatedAt int64

	err := row.Scan(&t.ID, &t.SubjectID, &t.SessionID, &t.Variant,
		&flags[0], &flags[1], &flags[2], &flags[3], &flags[4], &flags[5], &flags[6],
		&t.TimeOnPageSeconds, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.Flags = make(map[Flag]bool, len(AllFlags))
	for i, f := range AllFlags {
		if flags[i] {
			t.Flags[f] = true
		}
	}
	t.CreatedAt = unixTime(createdAt)
	t.UpdatedAt = unixTime(updatedAt)
	return &t, nil
}
