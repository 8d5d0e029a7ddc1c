// Package dispatch buffers outbound lead communications in a durable FIFO
// and drains it through a Sender while the service is online. Failed sends
// move to the back of the queue and are dropped after a fixed number of
// attempts.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/offerpage/offerpage/internal/kv"
	"github.com/offerpage/offerpage/internal/logger"
)

const (
	queueKey = "dispatch_queue"

	DefaultMaxAttempts  = 3
	DefaultSuccessPause = time.Second
	DefaultFailurePause = 3 * time.Second
)

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelVoice Channel = "voice"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelVoice:
		return true
	}
	return false
}

// Payload is one outbound message.
type Payload struct {
	Channel    Channel `json:"channel"`
	To         string  `json:"to"`
	Subject    string  `json:"subject,omitempty"`
	Body       string  `json:"body"`
	LeadID     string  `json:"lead_id,omitempty"`
	CampaignID string  `json:"campaign_id,omitempty"`
}

// Request is a queued payload with its delivery bookkeeping.
type Request struct {
	ID           string    `json:"id"`
	Payload      Payload   `json:"payload"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	AttemptCount int       `json:"attempt_count"`
}

// Sender delivers a payload. A non-nil error counts as a failed attempt.
type Sender interface {
	Send(ctx context.Context, p Payload) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, p Payload) error

func (f SenderFunc) Send(ctx context.Context, p Payload) error { return f(ctx, p) }

// Queue is safe for concurrent use. At most one drain loop runs at a time.
type Queue struct {
	kv     kv.Store
	sender Sender
	log    *logger.Logger

	maxAttempts  int
	successPause time.Duration
	failurePause time.Duration
	sleep        func(context.Context, time.Duration) error
	now          func() time.Time
	newID        func() string
	onDrop       func(Request, error)
	onSent       func(Request)

	// Background drains run on ctx; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards online, draining, closed and every read-modify-write of
	// the persisted list.
	mu       sync.Mutex
	online   bool
	draining bool
	closed   bool
	wg       sync.WaitGroup

	// Set after a failed write. While non-nil it is the authoritative
	// list and every save retries the store with it.
	fallback []Request
	// A read failed, so the store may hold items fallback lacks.
	unread bool
}

type Option func(*Queue)

func WithMaxAttempts(n int) Option {
	return func(q *Queue) { q.maxAttempts = n }
}

func WithSuccessPause(d time.Duration) Option {
	return func(q *Queue) { q.successPause = d }
}

func WithFailurePause(d time.Duration) Option {
	return func(q *Queue) { q.failurePause = d }
}

// WithSleep replaces the context-aware pause between sends.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(q *Queue) { q.sleep = fn }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(q *Queue) { q.newID = fn }
}

func WithLogger(l *logger.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// WithInitialOnline sets the connectivity state before the first
// SetOnline call. Queues start online.
func WithInitialOnline(online bool) Option {
	return func(q *Queue) { q.online = online }
}

// WithOnDrop is called when a request is dropped after its final attempt.
func WithOnDrop(fn func(Request, error)) Option {
	return func(q *Queue) { q.onDrop = fn }
}

// WithOnSent is called after each successful send.
func WithOnSent(fn func(Request)) Option {
	return func(q *Queue) { q.onSent = fn }
}

func NewQueue(store kv.Store, sender Sender, opts ...Option) *Queue {
	q := &Queue{
		kv:           store,
		sender:       sender,
		log:          logger.Default(),
		maxAttempts:  DefaultMaxAttempts,
		successPause: DefaultSuccessPause,
		failurePause: DefaultFailurePause,
		sleep:        sleepContext,
		now:          time.Now,
		newID:        uuid.NewString,
		online:       true,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.ctx, q.cancel = context.WithCancel(context.Background())
	if q.maxAttempts < 1 {
		q.maxAttempts = 1
	}
	return q
}

// Enqueue appends p with zero attempts and, when online and idle, starts a
// background drain.
func (q *Queue) Enqueue(ctx context.Context, p Payload) (Request, error) {
	if !p.Channel.Valid() {
		return Request{}, fmt.Errorf("unknown channel %q", p.Channel)
	}
	if p.To == "" {
		return Request{}, errors.New("payload has no recipient")
	}

	req := Request{
		ID:         q.newID(),
		Payload:    p,
		EnqueuedAt: q.now().UTC(),
	}

	q.mu.Lock()
	items := q.load(ctx)
	items = append(items, req)
	q.save(ctx, items)
	q.mu.Unlock()

	q.log.Info("dispatch queued", "id", req.ID, "channel", string(p.Channel), "to", p.To)
	q.kick()
	return req, nil
}

// SetOnline records a connectivity transition. Going online with queued
// items starts a background drain; going offline stops the running drain
// before its next send.
func (q *Queue) SetOnline(ctx context.Context, online bool) {
	q.mu.Lock()
	changed := q.online != online
	q.online = online
	q.mu.Unlock()

	if changed {
		q.log.Info("dispatch connectivity changed", "online", online)
	}
	if online {
		q.kick()
	}
}

func (q *Queue) Online() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// Pending returns a copy of the queued requests in order.
func (q *Queue) Pending(ctx context.Context) []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx)
}

func (q *Queue) Len(ctx context.Context) int {
	return len(q.Pending(ctx))
}

// Wait blocks until background drains started so far have finished.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Close stops scheduling drains and interrupts the running one before its
// next send. Queued items stay persisted. Enqueue keeps working.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
}

// kick starts a background drain when one could make progress.
func (q *Queue) kick() {
	q.mu.Lock()
	if !q.online || q.draining || q.closed {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		q.drainLoop(q.ctx)
	}()
}

// Drain processes the queue on the calling goroutine until it is empty,
// the queue goes offline or is closed, or ctx is done. It returns
// immediately when another drain is already running.
func (q *Queue) Drain(ctx context.Context) {
	q.mu.Lock()
	if q.draining || q.closed {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	q.drainLoop(ctx)
}

// drainLoop runs with q.draining set. Every exit clears it in the same
// critical section that decided to stop, so a kick racing the exit either
// sees the items or finds draining already false.
func (q *Queue) drainLoop(ctx context.Context) {
	for {
		q.mu.Lock()
		if ctx.Err() != nil || !q.online || q.closed {
			q.draining = false
			q.mu.Unlock()
			return
		}
		items := q.load(ctx)
		if len(items) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		head := items[0]
		q.mu.Unlock()

		err := q.sender.Send(ctx, head.Payload)

		q.mu.Lock()
		items = q.load(ctx)
		idx := indexOf(items, head.ID)
		if idx < 0 {
			// Removed by someone else while sending.
			q.mu.Unlock()
			continue
		}
		items = append(items[:idx:idx], items[idx+1:]...)

		var pause time.Duration
		var dropped bool
		if err == nil {
			pause = q.successPause
		} else {
			head.AttemptCount++
			if head.AttemptCount >= q.maxAttempts {
				dropped = true
			} else {
				items = append(items, head)
			}
			pause = q.failurePause
		}
		q.save(ctx, items)
		q.mu.Unlock()

		switch {
		case err == nil:
			q.log.Info("dispatch sent", "id", head.ID, "channel", string(head.Payload.Channel))
			if q.onSent != nil {
				q.onSent(head)
			}
		case dropped:
			q.log.Error("dispatch dropped", "id", head.ID, "attempts", head.AttemptCount, "error", err)
			if q.onDrop != nil {
				q.onDrop(head, err)
			}
		default:
			q.log.Warn("dispatch failed, requeued", "id", head.ID, "attempts", head.AttemptCount, "error", err)
		}

		if pause > 0 {
			if err := q.sleep(ctx, pause); err != nil {
				q.mu.Lock()
				q.draining = false
				q.mu.Unlock()
				return
			}
		}
	}
}

func indexOf(items []Request, id string) int {
	for i, r := range items {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// load returns the queued list: the in-memory copy while the store is
// behind, otherwise the persisted one. Callers hold q.mu.
func (q *Queue) load(ctx context.Context) []Request {
	if q.fallback != nil {
		return append([]Request(nil), q.fallback...)
	}
	items, err := q.read(ctx)
	if err != nil {
		q.log.Warn("dispatch queue read failed", "error", err)
		q.unread = true
		return nil
	}
	return items
}

func (q *Queue) read(ctx context.Context) ([]Request, error) {
	raw, err := q.kv.Get(ctx, queueKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var items []Request
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		q.log.Warn("dispatch queue corrupt, resetting", "error", err)
		return nil, nil
	}
	return items, nil
}

// save persists items. After a failed read the persisted list is merged in
// first so items this process never saw are not overwritten; until that
// read succeeds, or when the write fails, items are kept in memory.
// Callers hold q.mu.
func (q *Queue) save(ctx context.Context, items []Request) {
	if q.unread {
		persisted, err := q.read(ctx)
		if err != nil {
			q.log.Warn("dispatch queue read failed", "error", err)
			q.fallback = append([]Request{}, items...)
			return
		}
		items = mergeUnseen(persisted, items)
		q.unread = false
	}

	if items == nil {
		items = []Request{}
	}
	data, err := json.Marshal(items)
	if err == nil {
		err = q.kv.Set(ctx, queueKey, string(data))
	}
	if err != nil {
		q.log.Warn("dispatch queue write failed", "error", err)
		q.fallback = append([]Request{}, items...)
		return
	}
	q.fallback = nil
}

// mergeUnseen puts the persisted requests missing from items ahead of them.
func mergeUnseen(persisted, items []Request) []Request {
	var merged []Request
	for _, r := range persisted {
		if indexOf(items, r.ID) < 0 {
			merged = append(merged, r)
		}
	}
	return append(merged, items...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
