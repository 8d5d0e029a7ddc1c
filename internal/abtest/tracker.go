package abtest

import (
	"context"
	"sync"

	"github.com/offerpage/offerpage/internal/logger"
	"github.com/offerpage/offerpage/internal/store"
)

// Status is the outcome of a best-effort tracking call. Tracking never
// returns an error; callers that care can inspect the status.
type Status int

const (
	StatusOK Status = iota
	// StatusIgnored means the call was a no-op by design (unknown event,
	// flag already set).
	StatusIgnored
	// StatusSkipped means the tracker has no record to write to.
	StatusSkipped
	// StatusFailed means the store could not be reached.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusIgnored:
		return "ignored"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event names accepted by TrackEvent.
const (
	EventViewOffer        = "view_offer"
	EventViewBenefits     = "view_benefits"
	EventViewTestimonials = "view_testimonials"
	EventViewForm         = "view_form"
	EventStartForm        = "start_form"
	EventSubmitForm       = "submit_form"
	EventClickCTA         = "click_cta"
)

var eventFlags = map[string]store.Flag{
	EventViewOffer:        store.FlagViewedOffer,
	EventViewBenefits:     store.FlagViewedBenefits,
	EventViewTestimonials: store.FlagViewedTestimonials,
	EventViewForm:         store.FlagViewedForm,
	EventStartForm:        store.FlagStartedForm,
	EventSubmitForm:       store.FlagSubmittedForm,
	EventClickCTA:         store.FlagClickedCTA,
}

// FlagForEvent returns the funnel flag an event name sets.
func FlagForEvent(name string) (store.Flag, bool) {
	f, ok := eventFlags[name]
	return f, ok
}

// Tracker records one visitor's funnel progress on one subject.
type Tracker struct {
	store store.Store
	log   *logger.Logger

	mu        sync.Mutex
	subjectID string
	sessionID string
	variant   string
	recordID  int64
	flags     map[store.Flag]bool
}

func NewTracker(st store.Store, log *logger.Logger) *Tracker {
	if log == nil {
		log = logger.Default()
	}
	return &Tracker{store: st, log: log, flags: make(map[store.Flag]bool)}
}

// InitializeTest upserts the record for (subjectID, sessionID). An existing
// record is reused, so there is at most one per pair.
func (t *Tracker) InitializeTest(ctx context.Context, subjectID, sessionID, variant string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.subjectID = subjectID
	t.sessionID = sessionID
	t.variant = variant

	rec, err := t.store.FindABTest(ctx, subjectID, sessionID)
	if err != nil {
		rec, err = t.store.CreateABTest(ctx, subjectID, sessionID, variant)
	}
	if err != nil {
		t.log.Warn("ab test init failed", "subject", subjectID, "session", sessionID, "error", err)
		t.recordID = 0
		return StatusFailed
	}

	t.recordID = rec.ID
	t.variant = rec.Variant
	t.flags = make(map[store.Flag]bool, len(rec.Flags))
	for f, set := range rec.Flags {
		if set {
			t.flags[f] = true
		}
	}
	return StatusOK
}

// Variant returns the variant of the initialized record.
func (t *Tracker) Variant() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.variant
}

// RecordID returns the store id of the initialized record, or 0.
func (t *Tracker) RecordID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recordID
}

// TrackEvent sets the funnel flag mapped to name. Unknown names and flags
// that are already set are ignored.
func (t *Tracker) TrackEvent(ctx context.Context, name string) Status {
	flag, ok := eventFlags[name]
	if !ok {
		return StatusIgnored
	}
	return t.setFlag(ctx, flag)
}

// TrackFormSubmit sets the submission flag.
func (t *Tracker) TrackFormSubmit(ctx context.Context) Status {
	return t.setFlag(ctx, store.FlagSubmittedForm)
}

// TrackTimeOnPage overwrites the time-on-page observation.
func (t *Tracker) TrackTimeOnPage(ctx context.Context, seconds int) Status {
	t.mu.Lock()
	id := t.recordID
	t.mu.Unlock()

	if id == 0 {
		return StatusSkipped
	}
	if seconds < 0 {
		seconds = 0
	}
	if err := t.store.SetTimeOnPage(ctx, id, seconds); err != nil {
		t.log.Warn("time on page update failed", "record", id, "error", err)
		return StatusFailed
	}
	return StatusOK
}

func (t *Tracker) setFlag(ctx context.Context, flag store.Flag) Status {
	t.mu.Lock()
	id := t.recordID
	already := t.flags[flag]
	t.mu.Unlock()

	if id == 0 {
		return StatusSkipped
	}
	if already {
		return StatusIgnored
	}

	if err := t.store.SetFlag(ctx, id, flag); err != nil {
		t.log.Warn("funnel update failed", "record", id, "flag", string(flag), "error", err)
		return StatusFailed
	}

	t.mu.Lock()
	t.flags[flag] = true
	t.mu.Unlock()
	return StatusOK
}
