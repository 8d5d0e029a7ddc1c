package dispatch

import (
	"context"
	"net/http"
	"time"

	"github.com/offerpage/offerpage/internal/logger"
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Monitor probes a reachability URL and reports transitions to the queue.
type Monitor struct {
	queue    *Queue
	url      string
	interval time.Duration
	http     HTTPDoer
	log      *logger.Logger
}

func NewMonitor(q *Queue, url string, interval time.Duration, client HTTPDoer) *Monitor {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{queue: q, url: url, interval: interval, http: client, log: q.log}
}

// Check performs one probe and applies the result. Any response, even an
// error status, counts as online.
func (m *Monitor) Check(ctx context.Context) bool {
	online := m.probe(ctx)
	if ctx.Err() != nil {
		return m.queue.Online()
	}
	m.queue.SetOnline(ctx, online)
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.url, nil)
	if err != nil {
		m.log.Warn("connectivity probe misconfigured", "url", m.url, "error", err)
		return false
	}
	resp, err := m.http.Do(req)
	if err != nil {
		m.log.Debug("connectivity probe failed", "url", m.url, "error", err)
		return false
	}
	resp.Body.Close()
	return true
}
