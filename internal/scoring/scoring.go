// Package scoring turns a lead's engagement signals into a 0-100 score, a
// letter grade and the itemized reasons behind it.
package scoring

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusNew              Status = "new"
	StatusContacted        Status = "contacted"
	StatusFollowingUp      Status = "following_up"
	StatusMeetingScheduled Status = "meeting_scheduled"
	StatusOfferMade        Status = "offer_made"
	StatusClosed           Status = "closed"
	StatusNotInterested    Status = "not_interested"
)

var statusPoints = map[Status]int{
	StatusNew:              0,
	StatusContacted:        3,
	StatusFollowingUp:      5,
	StatusMeetingScheduled: 10,
	StatusOfferMade:        8,
	StatusClosed:           0,
	StatusNotInterested:    -10,
}

// ParseStatus normalizes s and reports whether it is a known status.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	_, ok := statusPoints[st]
	return st, ok
}

// Factors are the engagement signals for one lead.
type Factors struct {
	HasPhone      bool   `json:"has_phone"`
	HasEmail      bool   `json:"has_email"`
	EmailOpened   bool   `json:"email_opened"`
	LinkClicked   bool   `json:"link_clicked"`
	ClickCount    int    `json:"click_count"`
	CampaignsSent int    `json:"campaigns_sent"`
	Status        Status `json:"status"`

	// ResponseTimeHours is nil when the lead has not responded.
	ResponseTimeHours *float64 `json:"response_time_hours,omitempty"`
}

type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// GradeFor maps a clamped score to its grade.
func GradeFor(score int) Grade {
	switch {
	case score >= 80:
		return GradeA
	case score >= 60:
		return GradeB
	case score >= 40:
		return GradeC
	case score >= 20:
		return GradeD
	default:
		return GradeF
	}
}

// Label is the dashboard wording for a grade.
func (g Grade) Label() string {
	switch g {
	case GradeA:
		return "Hot"
	case GradeB:
		return "Warm"
	case GradeC:
		return "Interested"
	case GradeD:
		return "Cool"
	default:
		return "Cold"
	}
}

type Result struct {
	Score   int      `json:"score"`
	Grade   Grade    `json:"grade"`
	Reasons []string `json:"reasons"`
}

const (
	maxExtraClicks    = 3
	pointsPerClick    = 5
	pointsPerCampaign = 2
	maxCampaignPoints = 10
)

// Score applies the additive point model. Reasons are appended in a fixed
// order and the total is clamped to [0, 100].
func Score(f Factors) Result {
	total := 0
	reasons := make([]string, 0, 8)
	add := func(points int, reason string) {
		total += points
		reasons = append(reasons, reason)
	}

	if f.HasPhone {
		add(10, "Has phone number (+10)")
	}
	if f.HasEmail {
		add(10, "Has email address (+10)")
	}

	if f.EmailOpened {
		add(15, "Opened email (+15)")
	}
	if f.LinkClicked {
		add(20, "Clicked link (+20)")
	}
	if f.ClickCount > 1 {
		pts := min(f.ClickCount-1, maxExtraClicks) * pointsPerClick
		add(pts, fmt.Sprintf("Multiple clicks (+%d)", pts))
	}

	if f.CampaignsSent > 0 {
		// Compared before multiplying so huge counts cannot overflow.
		pts := maxCampaignPoints
		if f.CampaignsSent < maxCampaignPoints/pointsPerCampaign {
			pts = f.CampaignsSent * pointsPerCampaign
		}
		add(pts, fmt.Sprintf("Campaigns received (+%d)", pts))
	}

	if h := f.ResponseTimeHours; h != nil && *h > 0 {
		switch {
		case *h < 1:
			add(10, "Fast response (<1h) (+10)")
		case *h < 24:
			add(7, "Quick response (<24h) (+7)")
		case *h < 72:
			add(4, "Response within 3 days (+4)")
		}
	}

	st, _ := ParseStatus(string(f.Status))
	if pts := statusPoints[st]; pts != 0 {
		add(pts, fmt.Sprintf("Status: %s (%+d)", st, pts))
	}

	score := max(0, min(total, 100))
	return Result{Score: score, Grade: GradeFor(score), Reasons: reasons}
}

// ScoreBatch scores each lead in order.
func ScoreBatch(leads []Factors) []Result {
	out := make([]Result, len(leads))
	for i, f := range leads {
		out[i] = Score(f)
	}
	return out
}

// Hours is a convenience for building Factors literally.
func Hours(h float64) *float64 { return &h }
