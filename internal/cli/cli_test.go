package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/offerpage/offerpage/internal/campaign"
	"github.com/offerpage/offerpage/internal/dispatch"
	"github.com/offerpage/offerpage/internal/offer"
	"github.com/offerpage/offerpage/internal/stats"
	"github.com/offerpage/offerpage/internal/store"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{250000, "250,000"},
		{1234567, "1,234,567"},
		{-1500, "-1,500"},
	}
	for _, tc := range tests {
		if got := formatNumber(tc.n); got != tc.want {
			t.Errorf("formatNumber(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" A, B ,,C ")
	if strings.Join(got, "|") != "A|B|C" {
		t.Errorf("got %v, want [A B C]", got)
	}
	if splitList("") != nil {
		t.Error("empty input should give nil")
	}
}

func TestReadCampaignFile_AndBuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaign.yaml")
	body := `
id: spring
template:
  id: intro
  channel: sms
  body: "Hi {first_name}, we can offer {cash_offer}."
leads:
  - id: l1
    first_name: Dana
    phone: "+15125550100"
    offer:
      min_offer_amount: 100000
      max_offer_amount: 120000
  - id: l2
    first_name: Eli
    email: eli@example.com
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cf, err := readCampaignFile(path)
	if err != nil {
		t.Fatalf("readCampaignFile: %v", err)
	}
	payloads, skipped, err := buildCampaign(campaign.NewRenderer(campaign.Sender{}), cf)
	if err != nil {
		t.Fatalf("buildCampaign: %v", err)
	}

	if len(payloads) != 1 {
		t.Fatalf("got %d payloads, want 1", len(payloads))
	}
	p := payloads[0]
	if p.Channel != dispatch.ChannelSMS || p.To != "+15125550100" || p.CampaignID != "spring" {
		t.Errorf("got payload %+v", p)
	}
	if want := "Hi Dana, we can offer $100,000 - $120,000."; p.Body != want {
		t.Errorf("got body %q, want %q", p.Body, want)
	}
	if len(skipped) != 1 || skipped[0] != "l2" {
		t.Errorf("got skipped %v, want [l2]", skipped)
	}
}

func TestReadCampaignFile_BadChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaign.yaml")
	os.WriteFile(path, []byte("template:\n  channel: fax\n"), 0o600)
	if _, err := readCampaignFile(path); err == nil {
		t.Error("expected error for unknown channel")
	}
}

func TestPrintResults(t *testing.T) {
	res := stats.Analyze([]string{"A", "B"}, []store.VariantStats{
		{Variant: "A", Views: 100, Conversions: 5},
		{Variant: "B", Views: 100, Conversions: 20},
	})
	var buf bytes.Buffer
	printResults(&buf, res)

	out := buf.String()
	if !strings.Contains(out, "← LEADING") {
		t.Errorf("missing leader marker:\n%s", out)
	}
	if !strings.Contains(out, `"B" is the winner`) {
		t.Errorf("expected B to be called the winner:\n%s", out)
	}
}

func TestExportCSV(t *testing.T) {
	records := []*store.ABTest{{
		SubjectID:         "p1",
		SessionID:         "s1",
		Variant:           "A",
		Flags:             map[store.Flag]bool{store.FlagViewedOffer: true},
		TimeOnPageSeconds: 30,
	}}
	var buf bytes.Buffer
	if err := exportCSV(&buf, records); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if !strings.HasPrefix(lines[0], "created_at,session_id,variant,viewed_offer") {
		t.Errorf("got header %q", lines[0])
	}
	if !strings.Contains(lines[1], ",s1,A,true,false") || !strings.HasSuffix(lines[1], ",30") {
		t.Errorf("got row %q", lines[1])
	}
}

func TestBuildCampaign_DefaultOffer(t *testing.T) {
	cf := &campaignFile{
		ID:       "c2",
		Template: campaign.Template{ID: "t", Channel: dispatch.ChannelEmail, Subject: "Offer for {address}", Body: "{cash_offer}"},
		Offer:    offer.FixedRecord(90000),
		Leads: []campaign.Lead{
			{ID: "a", Email: "a@example.com", Address: "1 Elm St"},
			{ID: "b", Email: "b@example.com", Offer: offer.FixedRecord(150000)},
		},
	}
	payloads, _, err := buildCampaign(campaign.NewRenderer(campaign.Sender{}), cf)
	if err != nil {
		t.Fatal(err)
	}
	if len(payloads) != 2 {
		t.Fatalf("got %d payloads, want 2", len(payloads))
	}
	if payloads[0].Body != "$90,000" || payloads[0].Subject != "Offer for 1 Elm St" {
		t.Errorf("got %+v, want campaign default offer", payloads[0])
	}
	if payloads[1].Body != "$150,000" {
		t.Errorf("got body %q, want lead's own offer", payloads[1].Body)
	}
}
