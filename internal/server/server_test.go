package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offerpage/offerpage/internal/campaign"
	"github.com/offerpage/offerpage/internal/dispatch"
	"github.com/offerpage/offerpage/internal/geo"
	"github.com/offerpage/offerpage/internal/kv"
	"github.com/offerpage/offerpage/internal/logger"
	"github.com/offerpage/offerpage/internal/offer"
	"github.com/offerpage/offerpage/internal/store"
)

const testToken = "t0ken"

type fixture struct {
	srv   *Server
	store *store.SQLiteStore
	kv    *kv.Memory
	queue *dispatch.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "nowhere" {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`[{"lat":"30.2672","lon":"-97.7431"}]`))
	}))
	t.Cleanup(provider.Close)

	mem := kv.NewMemory()
	g := geo.NewClient(kv.WithPrefix(mem, "geo:"),
		geo.WithBaseURL(provider.URL),
		geo.WithHTTPClient(provider.Client()),
		geo.WithMinInterval(0),
		geo.WithLogger(logger.Discard()),
	)

	q := dispatch.NewQueue(kv.WithPrefix(mem, "dispatch:"),
		dispatch.SenderFunc(func(context.Context, dispatch.Payload) error { return nil }),
		dispatch.WithInitialOnline(false),
		dispatch.WithLogger(logger.Discard()),
	)

	srv := New(Deps{
		Store:     st,
		KV:        mem,
		Geo:       g,
		Queue:     q,
		Campaigns: campaign.NewRenderer(campaign.Sender{CompanyName: "Acme Homes", AgentName: "Sam"}),
		Log:       logger.Discard(),
	}, Options{
		Token:       testToken,
		Offer:       offer.Options{Currency: "USD", Locale: "en-US"},
		Experiments: map[string][]string{"layout": {"ultra-simple", "urgency"}},
	})
	return &fixture{srv: srv, store: st, kv: mem, queue: q}
}

func (f *fixture) do(t *testing.T, method, path, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	var got HealthResponse
	decodeBody(t, rec, &got)
	assert.Equal(t, "ok", got.Status)
	assert.False(t, got.DispatchOnline)
	require.NotNil(t, got.Geocode)
}

func TestBeacon_RecordsFunnel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, body := range []string{
		`{"subject":"123-main","session":"s1","variant":"B","event":"init"}`,
		`{"subject":"123-main","session":"s1","variant":"B","event":"view_offer"}`,
		`{"subject":"123-main","session":"s1","variant":"B","event":"submit_form"}`,
		`{"subject":"123-main","session":"s1","variant":"B","event":"time","seconds":42}`,
		`{"subject":"123-main","session":"s1","variant":"B","event":"no_such_event"}`,
	} {
		rec := f.do(t, http.MethodPost, "/b", body, false)
		assert.Equal(t, http.StatusNoContent, rec.Code, body)
	}

	rec, err := f.store.FindABTest(ctx, "123-main", "s1")
	require.NoError(t, err)
	assert.Equal(t, "B", rec.Variant)
	assert.True(t, rec.Has(store.FlagViewedOffer))
	assert.True(t, rec.Has(store.FlagSubmittedForm))
	assert.Equal(t, 42, rec.TimeOnPageSeconds)

	all, err := f.store.ListABTests(ctx, "123-main")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestBeacon_Malformed(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/b", `{`, false).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/b", `{"subject":"x"}`, false).Code)
}

func TestVariant_StickyPerSession(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/variant", `{"experiment":"layout"}`, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var first variantResponse
	decodeBody(t, rec, &first)
	require.NotEmpty(t, first.Session)
	assert.Contains(t, []string{"ultra-simple", "urgency"}, first.Variant)

	for _, key := range []string{"ab_session_id", "ab_variant:layout"} {
		exp, ok := f.kv.Expiry("session:" + first.Session + ":" + key)
		require.True(t, ok, key)
		assert.WithinDuration(t, time.Now().Add(DefaultSessionTTL), exp, time.Minute, key)
	}

	for i := 0; i < 5; i++ {
		rec = f.do(t, http.MethodPost, "/api/variant", `{"experiment":"layout","session":"`+first.Session+`"}`, false)
		var again variantResponse
		decodeBody(t, rec, &again)
		assert.Equal(t, first.Variant, again.Variant)
		assert.Equal(t, first.Session, again.Session)
	}

	rec = f.do(t, http.MethodPost, "/api/variant", `{"experiment":"headline","session":"s9"}`, false)
	var simple variantResponse
	decodeBody(t, rec, &simple)
	assert.Contains(t, []string{"A", "B"}, simple.Variant)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/variant", `{}`, false).Code)
}

func TestOfferFormat(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/offers/format",
		`{"offer":{"min_offer_amount":100000,"max_offer_amount":120000}}`, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var got offerFormatResponse
	decodeBody(t, rec, &got)
	assert.Equal(t, offer.KindRange, got.Kind)
	assert.Equal(t, "$100,000 - $120,000", got.Formatted)
	assert.Equal(t, 110000.0, got.Average)
	assert.True(t, got.Valid)

	rec = f.do(t, http.MethodPost, "/api/offers/format",
		`{"offer":{"cash_offer_amount":110000},"currency":"EUR","locale":"de-DE","short_form":true}`, false)
	decodeBody(t, rec, &got)
	assert.Equal(t, "110.000\u00a0€", got.Formatted)
	assert.Equal(t, "$110,000", got.Template)
}

func TestScore(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/score", `{"has_phone":true,"has_email":true,"status":"offer_made"}`, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var got scoreResponse
	decodeBody(t, rec, &got)
	assert.Greater(t, got.Score, 0)
	assert.NotEmpty(t, got.Label)
	assert.NotEmpty(t, got.Reasons)

	rec = f.do(t, http.MethodPost, "/api/score/batch", `[{},{"has_phone":true}]`, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var batch []scoreResponse
	decodeBody(t, rec, &batch)
	require.Len(t, batch, 2)
	assert.Less(t, batch[0].Score, batch[1].Score)
}

func TestGeocode(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/geocode", `{"address":"123 Main St, Austin TX"}`, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var c geo.Coordinates
	decodeBody(t, rec, &c)
	assert.InDelta(t, 30.2672, c.Latitude, 1e-9)
	assert.InDelta(t, -97.7431, c.Longitude, 1e-9)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/geocode", `{"address":"nowhere"}`, false).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/geocode", `{}`, false).Code)

	// Second lookup is served from cache.
	f.do(t, http.MethodPost, "/api/geocode", `{"address":"123 Main St, Austin TX"}`, false)
	rec = f.do(t, http.MethodGet, "/api/geocode/stats", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var st geoCounts
	decodeBody(t, rec, &st)
	assert.Equal(t, 1, st.Hits)
	assert.Equal(t, 2, st.Fetches)
}

func TestGeocode_Batch(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/geocode", `{"addresses":["1 Elm St","nowhere"]}`, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var found map[string]geo.Coordinates
	decodeBody(t, rec, &found)
	assert.Contains(t, found, "1 Elm St")
	assert.NotContains(t, found, "nowhere")

	addrs := make([]string, maxGeocodeBatch+1)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("%d Elm St", i)
	}
	body, err := json.Marshal(map[string]any{"addresses": addrs})
	require.NoError(t, err)
	rec = f.do(t, http.MethodPost, "/api/geocode", string(body), false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Oversized batches never reach the provider.
	assert.Equal(t, 2, f.srv.Geo.Stats().Fetches)
}

func TestAuth(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/results", "", false).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/results", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/results?token="+testToken, "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, tokenCookieName, cookies[0].Name)

	req = httptest.NewRequest(http.MethodGet, "/api/results", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDispatchAndCampaign(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/dispatch", `{"channel":"sms","to":"+15125550100","body":"hi"}`, true)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/dispatch", `{"channel":"fax","to":"1"}`, true).Code)

	rec = f.do(t, http.MethodPost, "/api/campaigns/send", `{
		"campaign_id":"c1",
		"template":{"id":"t1","channel":"sms","body":"Hi {first_name}, {company_name} can pay {cash_offer}."},
		"leads":[
			{"id":"l1","first_name":"Dana","phone":"+15125550101","offer":{"cash_offer_amount":250000}},
			{"id":"l2","first_name":"Eli","email":"eli@example.com"}
		]}`, true)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var sent campaignSendResponse
	decodeBody(t, rec, &sent)
	assert.Len(t, sent.Queued, 1)
	require.Len(t, sent.Skipped, 1)
	assert.Equal(t, "l2", sent.Skipped[0].LeadID)

	rec = f.do(t, http.MethodGet, "/api/dispatch", "", true)
	var list dispatchListResponse
	decodeBody(t, rec, &list)
	assert.False(t, list.Online)
	require.Len(t, list.Pending, 2)
	assert.Equal(t, "Hi Dana, Acme Homes can pay $250,000.", list.Pending[1].Payload.Body)
	assert.Equal(t, "c1", list.Pending[1].Payload.CampaignID)
}

func TestResults(t *testing.T) {
	f := newFixture(t)

	for i, v := range []string{"A", "A", "B", "B"} {
		body := `{"subject":"p1","session":"s` + string(rune('0'+i)) + `","variant":"` + v + `","event":"view_offer"}`
		f.do(t, http.MethodPost, "/b", body, false)
	}
	f.do(t, http.MethodPost, "/b", `{"subject":"p1","session":"s2","variant":"B","event":"submit_form"}`, false)

	rec := f.do(t, http.MethodGet, "/api/results", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var subjects []store.SubjectSummary
	decodeBody(t, rec, &subjects)
	require.Len(t, subjects, 1)
	assert.Equal(t, 4, subjects[0].Sessions)

	rec = f.do(t, http.MethodGet, "/api/results/p1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var got resultsResponse
	decodeBody(t, rec, &got)
	assert.Equal(t, "B", got.Results.LeadingVariant)
	assert.Len(t, got.Funnel, 2)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/results/missing", "", true).Code)
}

func TestTrackerJS(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/ot.js", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/javascript", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `var S="http://example.com"`)
	assert.Contains(t, body, "'ab_session_id'")
	assert.Contains(t, body, "'ab_variant:'+subject")
	assert.NotContains(t, body, "indexOf(variant)", "a pinned variant is never reassigned")
}

func TestTrackerJS_QuotesHost(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/ot.js", nil)
	req.Host = "example.com';alert(1);'"
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `var S="http://example.com';alert(1);'";`)
}
