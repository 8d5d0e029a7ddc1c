package scoring

import (
	"math"
	"slices"
	"testing"
)

func TestScore_Empty(t *testing.T) {
	r := Score(Factors{})
	if r.Score != 0 {
		t.Errorf("got score %d, want 0", r.Score)
	}
	if r.Grade != GradeF {
		t.Errorf("got grade %s, want F", r.Grade)
	}
	if len(r.Reasons) != 0 {
		t.Errorf("got reasons %v, want none", r.Reasons)
	}
}

func TestScore_ReasonOrder(t *testing.T) {
	r := Score(Factors{
		HasPhone:          true,
		HasEmail:          true,
		EmailOpened:       true,
		LinkClicked:       true,
		ClickCount:        3,
		CampaignsSent:     2,
		ResponseTimeHours: Hours(5),
		Status:            StatusContacted,
	})

	want := []string{
		"Has phone number (+10)",
		"Has email address (+10)",
		"Opened email (+15)",
		"Clicked link (+20)",
		"Multiple clicks (+10)",
		"Campaigns received (+4)",
		"Quick response (<24h) (+7)",
		"Status: contacted (+3)",
	}
	if len(r.Reasons) != len(want) {
		t.Fatalf("got %d reasons %v, want %d", len(r.Reasons), r.Reasons, len(want))
	}
	for i := range want {
		if r.Reasons[i] != want[i] {
			t.Errorf("reason %d: got %q, want %q", i, r.Reasons[i], want[i])
		}
	}
	if r.Score != 79 {
		t.Errorf("got score %d, want 79", r.Score)
	}
	if r.Grade != GradeB {
		t.Errorf("got grade %s, want B", r.Grade)
	}
}

func TestScore_ClampedToHundred(t *testing.T) {
	r := Score(Factors{
		HasPhone:          true,
		HasEmail:          true,
		EmailOpened:       true,
		LinkClicked:       true,
		ClickCount:        20,
		CampaignsSent:     50,
		ResponseTimeHours: Hours(0.5),
		Status:            StatusMeetingScheduled,
	})
	if r.Score != 100 {
		t.Errorf("got score %d, want 100", r.Score)
	}
	if r.Reasons[4] != "Multiple clicks (+15)" {
		t.Errorf("got %q, want capped click bonus", r.Reasons[4])
	}
	if r.Reasons[5] != "Campaigns received (+10)" {
		t.Errorf("got %q, want capped campaign bonus", r.Reasons[5])
	}
}

func TestScore_ClampedToZero(t *testing.T) {
	r := Score(Factors{Status: StatusNotInterested})
	if r.Score != 0 {
		t.Errorf("got score %d, want 0", r.Score)
	}
	if len(r.Reasons) != 1 || r.Reasons[0] != "Status: not_interested (-10)" {
		t.Errorf("got reasons %v", r.Reasons)
	}
}

func TestScore_ResponseTime(t *testing.T) {
	tests := []struct {
		hours  *float64
		reason string
	}{
		{nil, ""},
		{Hours(0), ""},
		{Hours(-2), ""},
		{Hours(0.9), "Fast response (<1h) (+10)"},
		{Hours(1), "Quick response (<24h) (+7)"},
		{Hours(23.9), "Quick response (<24h) (+7)"},
		{Hours(24), "Response within 3 days (+4)"},
		{Hours(71), "Response within 3 days (+4)"},
		{Hours(72), ""},
	}
	for _, tt := range tests {
		r := Score(Factors{ResponseTimeHours: tt.hours})
		got := ""
		if len(r.Reasons) > 0 {
			got = r.Reasons[0]
		}
		if got != tt.reason {
			t.Errorf("hours %v: got %q, want %q", tt.hours, got, tt.reason)
		}
	}
}

func TestScore_StatusTable(t *testing.T) {
	tests := map[Status]int{
		StatusNew:              0,
		StatusContacted:        3,
		StatusFollowingUp:      5,
		StatusMeetingScheduled: 10,
		StatusOfferMade:        8,
		StatusClosed:           0,
		Status("archived"):     0,
	}
	base := Factors{HasPhone: true, HasEmail: true, EmailOpened: true}
	for st, pts := range tests {
		f := base
		f.Status = st
		if got := Score(f).Score; got != 35+pts {
			t.Errorf("status %s: got %d, want %d", st, got, 35+pts)
		}
	}
}

func TestScore_StatusIsNormalized(t *testing.T) {
	r := Score(Factors{Status: " Contacted"})
	if r.Score != 3 || len(r.Reasons) != 1 || r.Reasons[0] != "Status: contacted (+3)" {
		t.Errorf("got %+v", r)
	}
}

func TestScore_HugeCountsStayCapped(t *testing.T) {
	r := Score(Factors{ClickCount: math.MaxInt, CampaignsSent: math.MaxInt})
	want := []string{"Multiple clicks (+15)", "Campaigns received (+10)"}
	if r.Score != 25 || !slices.Equal(r.Reasons, want) {
		t.Errorf("got %+v", r)
	}

	if r := Score(Factors{ClickCount: math.MinInt, CampaignsSent: math.MinInt}); r.Score != 0 || len(r.Reasons) != 0 {
		t.Errorf("negative counts: got %+v", r)
	}
}

func TestScore_SingleClickHasNoBonus(t *testing.T) {
	r := Score(Factors{LinkClicked: true, ClickCount: 1})
	if r.Score != 20 || len(r.Reasons) != 1 {
		t.Errorf("got %+v", r)
	}
}

func TestScore_BooleanMonotonic(t *testing.T) {
	flips := []func(*Factors){
		func(f *Factors) { f.HasPhone = true },
		func(f *Factors) { f.HasEmail = true },
		func(f *Factors) { f.EmailOpened = true },
		func(f *Factors) { f.LinkClicked = true },
	}
	bases := []Factors{
		{},
		{Status: StatusNotInterested},
		{CampaignsSent: 3, ResponseTimeHours: Hours(2)},
		{HasPhone: true, HasEmail: true, EmailOpened: true, LinkClicked: true, ClickCount: 5, CampaignsSent: 5, ResponseTimeHours: Hours(0.2), Status: StatusMeetingScheduled},
	}
	for bi, base := range bases {
		for fi, flip := range flips {
			f := base
			flip(&f)
			before, after := Score(base).Score, Score(f).Score
			if after < before {
				t.Errorf("base %d flip %d: score dropped from %d to %d", bi, fi, before, after)
			}
			if after < 0 || after > 100 {
				t.Errorf("base %d flip %d: score %d out of bounds", bi, fi, after)
			}
		}
	}
}

func TestGradeFor(t *testing.T) {
	tests := []struct {
		score int
		want  Grade
	}{
		{100, GradeA},
		{80, GradeA},
		{79, GradeB},
		{60, GradeB},
		{59, GradeC},
		{40, GradeC},
		{39, GradeD},
		{20, GradeD},
		{19, GradeF},
		{0, GradeF},
	}
	for _, tt := range tests {
		if got := GradeFor(tt.score); got != tt.want {
			t.Errorf("GradeFor(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestGrade_Label(t *testing.T) {
	if GradeA.Label() != "Hot" || GradeF.Label() != "Cold" || GradeC.Label() != "Interested" {
		t.Errorf("unexpected labels: %s %s %s", GradeA.Label(), GradeF.Label(), GradeC.Label())
	}
}

func TestParseStatus(t *testing.T) {
	st, ok := ParseStatus(" Offer_Made ")
	if !ok || st != StatusOfferMade {
		t.Errorf("got %q %v, want offer_made true", st, ok)
	}
	if _, ok := ParseStatus("ghosted"); ok {
		t.Error("expected unknown status to be rejected")
	}
}

func TestScoreBatch(t *testing.T) {
	out := ScoreBatch([]Factors{{HasPhone: true}, {}})
	if len(out) != 2 || out[0].Score != 10 || out[1].Score != 0 {
		t.Errorf("got %+v", out)
	}
}
