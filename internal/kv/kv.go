// Package kv defines the durable key-value storage the client-side
// components persist into (session ids, pinned variants, the geocode cache
// and the dispatch queue) together with its backends.
package kv

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kv: key not found")

// Store is a minimal durable key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Expirer is implemented by stores that can drop a key after a time.
type Expirer interface {
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error
}

// Memory is an in-process Store. Safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	data    map[string]string
	expires map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string), expires: make(map[string]time.Time)}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	if exp, ok := m.expires[key]; ok && !time.Now().Before(exp) {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.data[key] = value
	delete(m.expires, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) SetTTL(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	m.data[key] = value
	m.expires[key] = time.Now().Add(ttl)
	m.mu.Unlock()
	return nil
}

// Expiry reports when key expires, if it was stored with a TTL.
func (m *Memory) Expiry(key string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exp, ok := m.expires[key]
	return exp, ok
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	delete(m.expires, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// Len reports the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

type prefixed struct {
	inner  Store
	prefix string
}

// WithPrefix scopes every key of inner under prefix. Closing the returned
// store does not close inner.
func WithPrefix(inner Store, prefix string) Store {
	return &prefixed{inner: inner, prefix: prefix}
}

func (p *prefixed) Get(ctx context.Context, key string) (string, error) {
	return p.inner.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key, value string) error {
	return p.inner.Set(ctx, p.prefix+key, value)
}

func (p *prefixed) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return setTTL(ctx, p.inner, p.prefix+key, value, ttl)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.inner.Delete(ctx, p.prefix+key)
}

func (p *prefixed) Close() error { return nil }

type expiring struct {
	Store
	ttl time.Duration
}

// WithTTL makes every Set on the returned store expire after ttl. Stores
// that cannot expire keys keep them. Closing it does not close inner.
func WithTTL(inner Store, ttl time.Duration) Store {
	return &expiring{Store: inner, ttl: ttl}
}

func (e *expiring) Set(ctx context.Context, key, value string) error {
	return setTTL(ctx, e.Store, key, value, e.ttl)
}

func (e *expiring) Close() error { return nil }

func setTTL(ctx context.Context, s Store, key, value string, ttl time.Duration) error {
	if ex, ok := s.(Expirer); ok && ttl > 0 {
		return ex.SetTTL(ctx, key, value, ttl)
	}
	return s.Set(ctx, key, value)
}
