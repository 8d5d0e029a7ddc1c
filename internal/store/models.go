package store

import "time"

// Flag is a funnel milestone recorded on an A/B test record. Flags only
// ever move from false to true.
type Flag string

const (
	FlagViewedOffer        Flag = "viewed_offer"
	FlagViewedBenefits     Flag = "viewed_benefits"
	FlagViewedTestimonials Flag = "viewed_testimonials"
	FlagViewedForm         Flag = "viewed_form"
	FlagStartedForm        Flag = "started_form"
	FlagSubmittedForm      Flag = "submitted_form"
	FlagClickedCTA         Flag = "clicked_cta"
)

// AllFlags lists every funnel flag in funnel order.
var AllFlags = []Flag{
	FlagViewedOffer,
	FlagViewedBenefits,
	FlagViewedTestimonials,
	FlagViewedForm,
	FlagStartedForm,
	FlagSubmittedForm,
	FlagClickedCTA,
}

// Valid reports whether f names a known funnel column.
func (f Flag) Valid() bool {
	for _, known := range AllFlags {
		if f == known {
			return true
		}
	}
	return false
}

// ABTest is one visitor's participation in an experiment on a subject
// (a property landing page). At most one exists per (subject, session).
type ABTest struct {
	ID                int64
	SubjectID         string
	SessionID         string
	Variant           string
	Flags             map[Flag]bool
	TimeOnPageSeconds int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Has reports whether flag f has been set.
func (t *ABTest) Has(f Flag) bool {
	return t.Flags[f]
}

type VariantStats struct {
	Variant              string
	Views                int
	Conversions          int
	AvgTimeOnPageSeconds float64
}

type SubjectSummary struct {
	SubjectID   string
	Sessions    int
	Conversions int
	FirstSeen   time.Time
}
