package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/offerpage/offerpage/internal/dispatch"
	"github.com/offerpage/offerpage/internal/logger"
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPProvider posts sms and voice payloads as JSON to a messaging
// provider. Any non-2xx status is a failed send.
type HTTPProvider struct {
	endpoint string
	token    string
	client   HTTPDoer
	log      *logger.Logger
}

func NewHTTPProvider(endpoint, token string, client HTTPDoer, log *logger.Logger) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = logger.Default()
	}
	return &HTTPProvider{endpoint: endpoint, token: token, client: client, log: log}
}

type providerRequest struct {
	Channel    string `json:"channel"`
	To         string `json:"to"`
	Body       string `json:"body"`
	LeadID     string `json:"lead_id,omitempty"`
	CampaignID string `json:"campaign_id,omitempty"`
}

func (h *HTTPProvider) Send(ctx context.Context, p dispatch.Payload) error {
	body, err := json.Marshal(providerRequest{
		Channel:    string(p.Channel),
		To:         p.To,
		Body:       p.Body,
		LeadID:     p.LeadID,
		CampaignID: p.CampaignID,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s send: %w", p.Channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s send: provider returned %d: %s", p.Channel, resp.StatusCode, bytes.TrimSpace(msg))
	}

	h.log.Info("message sent", "channel", string(p.Channel), "phone", p.To)
	return nil
}
