// Package geo resolves street addresses to coordinates through a
// Nominatim-style HTTP provider, with a durable 30-day cache and a
// process-wide minimum spacing between outbound lookups.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/offerpage/offerpage/internal/kv"
	"github.com/offerpage/offerpage/internal/logger"
)

const (
	DefaultBaseURL     = "https://nominatim.openstreetmap.org"
	DefaultMinInterval = time.Second
	DefaultTTL         = 30 * 24 * time.Hour
	DefaultUserAgent   = "offerpage/1.0"

	cacheKey = "geocode_cache"
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type cacheEntry struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	FetchedAt int64   `json:"fetched_at"` // unix ms
}

// Stats counts cache behaviour since the client was created.
type Stats struct {
	Hits    int
	Misses  int
	Fetches int
}

// Client geocodes addresses. It is safe for concurrent use; concurrent
// callers serialize behind the rate gate.
type Client struct {
	cache       kv.Store
	http        HTTPDoer
	baseURL     string
	userAgent   string
	minInterval time.Duration
	ttl         time.Duration
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
	log         *logger.Logger

	// gate serializes "wait, then stamp lastFetch".
	gate      sync.Mutex
	lastFetch time.Time

	// cacheMu guards read-modify-write of the cache blob and stats.
	cacheMu sync.Mutex
	stats   Stats
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithHTTPClient(d HTTPDoer) Option {
	return func(c *Client) { c.http = d }
}

func WithMinInterval(d time.Duration) Option {
	return func(c *Client) { c.minInterval = d }
}

func WithTTL(d time.Duration) Option {
	return func(c *Client) { c.ttl = d }
}

// WithClock replaces time.Now and the context-aware sleep used by the gate.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		c.now = now
		c.sleep = sleep
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

func NewClient(cache kv.Store, opts ...Option) *Client {
	c := &Client{
		cache:       cache,
		http:        &http.Client{Timeout: 15 * time.Second},
		baseURL:     DefaultBaseURL,
		userAgent:   DefaultUserAgent,
		minInterval: DefaultMinInterval,
		ttl:         DefaultTTL,
		now:         time.Now,
		sleep:       sleepContext,
		log:         logger.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Geocode returns the coordinates for address, or nil when the provider has
// no result or cannot be reached. Failed lookups are not cached. The error
// is non-nil only when ctx is done.
func (c *Client) Geocode(ctx context.Context, address string) (*Coordinates, error) {
	if coords, ok := c.lookup(ctx, address); ok {
		return coords, nil
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	coords, err := c.fetch(ctx, address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.log.Warn("geocode failed", "address", address, "error", err)
		return nil, nil
	}
	if coords == nil {
		return nil, nil
	}

	c.store(ctx, address, *coords)
	return coords, nil
}

// GeocodeMany geocodes addresses one at a time, calling onProgress after
// each. The result holds only successful lookups.
func (c *Client) GeocodeMany(ctx context.Context, addresses []string, onProgress func(done, total int)) (map[string]Coordinates, error) {
	out := make(map[string]Coordinates, len(addresses))
	for i, addr := range addresses {
		coords, err := c.Geocode(ctx, addr)
		if err != nil {
			return out, err
		}
		if coords != nil {
			out[addr] = *coords
		}
		if onProgress != nil {
			onProgress(i+1, len(addresses))
		}
	}
	return out, nil
}

func (c *Client) Stats() Stats {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	return c.stats
}

// Purge removes every cached entry.
func (c *Client) Purge(ctx context.Context) error {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if err := c.cache.Delete(ctx, cacheKey); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("purge geocode cache: %w", err)
	}
	return nil
}

func (c *Client) lookup(ctx context.Context, address string) (*Coordinates, bool) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	entries := c.readCache(ctx)
	if e, ok := entries[address]; ok {
		c.stats.Hits++
		return &Coordinates{Latitude: e.Latitude, Longitude: e.Longitude}, true
	}
	c.stats.Misses++
	return nil, false
}

func (c *Client) store(ctx context.Context, address string, coords Coordinates) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	entries := c.readCache(ctx)
	entries[address] = cacheEntry{
		Latitude:  coords.Latitude,
		Longitude: coords.Longitude,
		FetchedAt: c.now().UnixMilli(),
	}
	c.writeCache(ctx, entries)
}

// readCache loads the cache, drops expired entries and writes the pruned
// map back when anything was removed. Storage errors yield an empty cache.
// Callers hold cacheMu.
func (c *Client) readCache(ctx context.Context) map[string]cacheEntry {
	entries := make(map[string]cacheEntry)

	raw, err := c.cache.Get(ctx, cacheKey)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			c.log.Warn("geocode cache read failed", "error", err)
		}
		return entries
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		c.log.Warn("geocode cache corrupt, resetting", "error", err)
		return make(map[string]cacheEntry)
	}

	if c.prune(entries) > 0 {
		c.writeCache(ctx, entries)
	}
	return entries
}

func (c *Client) writeCache(ctx context.Context, entries map[string]cacheEntry) {
	c.prune(entries)
	data, err := json.Marshal(entries)
	if err != nil {
		c.log.Warn("geocode cache encode failed", "error", err)
		return
	}
	if err := c.cache.Set(ctx, cacheKey, string(data)); err != nil {
		c.log.Warn("geocode cache write failed", "error", err)
	}
}

func (c *Client) prune(entries map[string]cacheEntry) int {
	cutoff := c.now().Add(-c.ttl).UnixMilli()
	removed := 0
	for addr, e := range entries {
		if e.FetchedAt < cutoff {
			delete(entries, addr)
			removed++
		}
	}
	return removed
}

// wait blocks until minInterval has passed since the previous fetch
// started, then records this fetch's start time.
func (c *Client) wait(ctx context.Context) error {
	c.gate.Lock()
	defer c.gate.Unlock()

	if !c.lastFetch.IsZero() {
		if d := c.minInterval - c.now().Sub(c.lastFetch); d > 0 {
			if err := c.sleep(ctx, d); err != nil {
				return err
			}
		}
	}
	c.lastFetch = c.now()

	c.cacheMu.Lock()
	c.stats.Fetches++
	c.cacheMu.Unlock()
	return nil
}

type place struct {
	Lat json.RawMessage `json:"lat"`
	Lon json.RawMessage `json:"lon"`
}

func (c *Client) fetch(ctx context.Context, address string) (*Coordinates, error) {
	q := url.Values{}
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("q", address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned %d", resp.StatusCode)
	}

	var places []place
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(places) == 0 {
		return nil, nil
	}

	lat, err := parseCoord(places[0].Lat)
	if err != nil {
		return nil, fmt.Errorf("lat: %w", err)
	}
	lon, err := parseCoord(places[0].Lon)
	if err != nil {
		return nil, fmt.Errorf("lon: %w", err)
	}
	return &Coordinates{Latitude: lat, Longitude: lon}, nil
}

// parseCoord accepts a JSON number or a numeric string.
func parseCoord(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, errors.New("missing")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, err
	}
	return f, nil
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
