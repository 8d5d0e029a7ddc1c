package sender

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offerpage/offerpage/internal/dispatch"
	"github.com/offerpage/offerpage/internal/logger"
)

type fakeSES struct {
	in  *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSES_Send(t *testing.T) {
	fake := &fakeSES{}
	s := NewSES(fake, "Offers <offers@example.com>", "agent@example.com", logger.Discard())

	err := s.Send(context.Background(), dispatch.Payload{
		Channel:    dispatch.ChannelEmail,
		To:         "dana@example.com",
		Subject:    "Your offer",
		Body:       "Hello",
		LeadID:     "lead-1",
		CampaignID: "camp-1",
	})
	require.NoError(t, err)

	require.NotNil(t, fake.in)
	assert.Equal(t, "Offers <offers@example.com>", aws.ToString(fake.in.FromEmailAddress))
	assert.Equal(t, []string{"dana@example.com"}, fake.in.Destination.ToAddresses)
	assert.Equal(t, []string{"agent@example.com"}, fake.in.ReplyToAddresses)
	assert.Equal(t, "Your offer", aws.ToString(fake.in.Content.Simple.Subject.Data))
	assert.Equal(t, "Hello", aws.ToString(fake.in.Content.Simple.Body.Text.Data))
	assert.Len(t, fake.in.EmailTags, 2)
}

func TestSES_Errors(t *testing.T) {
	fake := &fakeSES{err: errors.New("throttled")}
	s := NewSES(fake, "offers@example.com", "", logger.Discard())

	err := s.Send(context.Background(), dispatch.Payload{Channel: dispatch.ChannelEmail, To: "a@b.c"})
	assert.ErrorContains(t, err, "throttled")

	err = s.Send(context.Background(), dispatch.Payload{Channel: dispatch.ChannelSMS, To: "+1"})
	assert.Error(t, err)

	err = NewSES(fake, "", "", logger.Discard()).Send(context.Background(), dispatch.Payload{Channel: dispatch.ChannelEmail, To: "a@b.c"})
	assert.Error(t, err)
}

func TestHTTPProvider_Send(t *testing.T) {
	var got providerRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	h := NewHTTPProvider(srv.URL, "secret", srv.Client(), logger.Discard())
	err := h.Send(context.Background(), dispatch.Payload{Channel: dispatch.ChannelSMS, To: "+15125550100", Body: "hi", LeadID: "l1"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, providerRequest{Channel: "sms", To: "+15125550100", Body: "hi", LeadID: "l1"}, got)
}

func TestHTTPProvider_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid number", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	h := NewHTTPProvider(srv.URL, "", nil, logger.Discard())
	err := h.Send(context.Background(), dispatch.Payload{Channel: dispatch.ChannelVoice, To: "+1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "invalid number")
}

func TestRouter(t *testing.T) {
	var sms, email int
	r := NewRouter().
		Handle(dispatch.ChannelSMS, dispatch.SenderFunc(func(context.Context, dispatch.Payload) error { sms++; return nil })).
		Handle(dispatch.ChannelEmail, dispatch.SenderFunc(func(context.Context, dispatch.Payload) error { email++; return nil }))

	require.NoError(t, r.Send(context.Background(), dispatch.Payload{Channel: dispatch.ChannelSMS}))
	require.NoError(t, r.Send(context.Background(), dispatch.Payload{Channel: dispatch.ChannelEmail}))
	assert.Error(t, r.Send(context.Background(), dispatch.Payload{Channel: dispatch.ChannelVoice}))
	assert.Equal(t, 1, sms)
	assert.Equal(t, 1, email)
}
