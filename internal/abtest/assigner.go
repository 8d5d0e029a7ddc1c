// Package abtest pins one experiment variant per visitor session and
// records the visitor's funnel progress against a subject page.
package abtest

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"

	"github.com/google/uuid"

	"github.com/offerpage/offerpage/internal/kv"
	"github.com/offerpage/offerpage/internal/logger"
)

const (
	sessionKey       = "ab_session_id"
	variantKeyPrefix = "ab_variant:"
)

// SimpleVariants is the two-way split used by most tests.
var SimpleVariants = []string{"A", "B"}

// LayoutVariants are the landing page layouts under test.
var LayoutVariants = []string{"ultra-simple", "email-first", "progressive", "social-proof", "urgency"}

// Assigner hands out sticky session ids and variants backed by a kv store
// scoped to one visitor. An Assigner is not safe for concurrent use; create
// one per visitor scope.
type Assigner struct {
	kv    kv.Store
	intn  func(n int) int
	newID func() string
	log   *logger.Logger

	// Values used when the kv store is unavailable. They keep repeated
	// calls on this instance consistent.
	fallbackSession  string
	fallbackVariants map[string]string
}

type Option func(*Assigner)

// WithRand sets the entropy source. intn must return a value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(a *Assigner) { a.intn = intn }
}

// WithIDGenerator replaces uuid.NewString for session ids.
func WithIDGenerator(fn func() string) Option {
	return func(a *Assigner) { a.newID = fn }
}

func WithLogger(l *logger.Logger) Option {
	return func(a *Assigner) { a.log = l }
}

func NewAssigner(store kv.Store, opts ...Option) *Assigner {
	a := &Assigner{
		kv:               store,
		intn:             cryptoIntn,
		newID:            uuid.NewString,
		log:              logger.Default(),
		fallbackVariants: make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SessionID returns the persisted session id, creating and persisting a new
// random one on first use.
func (a *Assigner) SessionID(ctx context.Context) string {
	id, err := a.kv.Get(ctx, sessionKey)
	if err == nil && id != "" {
		return id
	}
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		a.log.Warn("session id read failed", "error", err)
		if a.fallbackSession == "" {
			a.fallbackSession = a.newID()
		}
		return a.fallbackSession
	}
	if a.fallbackSession != "" {
		return a.fallbackSession
	}

	id = a.newID()
	if err := a.kv.Set(ctx, sessionKey, id); err != nil {
		a.log.Warn("session id write failed", "error", err)
		a.fallbackSession = id
	}
	return id
}

// Variant returns the variant pinned for experiment, drawing one uniformly
// from set on first use. A pinned value is never reassigned, even if it is
// no longer part of set. An empty set yields "".
func (a *Assigner) Variant(ctx context.Context, experiment string, set []string) string {
	key := variantKeyPrefix + experiment

	v, err := a.kv.Get(ctx, key)
	if err == nil && v != "" {
		return v
	}
	if len(set) == 0 {
		return ""
	}
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		a.log.Warn("variant read failed", "experiment", experiment, "error", err)
		if cached, ok := a.fallbackVariants[experiment]; ok {
			return cached
		}
		v = set[a.draw(len(set))]
		a.fallbackVariants[experiment] = v
		return v
	}
	if cached, ok := a.fallbackVariants[experiment]; ok {
		return cached
	}

	v = set[a.draw(len(set))]
	if err := a.kv.Set(ctx, key, v); err != nil {
		a.log.Warn("variant write failed", "experiment", experiment, "error", err)
		a.fallbackVariants[experiment] = v
	}
	return v
}

func (a *Assigner) draw(n int) int {
	i := a.intn(n)
	if i < 0 || i >= n {
		i = 0
	}
	return i
}

func cryptoIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
