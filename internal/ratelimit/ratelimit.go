// Middleware for per-client rate limiting
//
// # Fixed window, in-memory, not shared between instances
//
// Each key gets a window that opens on its first request and allows limit
// requests until window has elapsed, after which the next request opens a new
// window. Up to 2x limit can get through across a window boundary.
//
// Memory is bounded by capacity: when a new key arrives and the table is full,
// expired windows are dropped first and, if that is not enough, the oldest half
// of the table by window start. A key evicted this way starts fresh on its next
// request, so a client may occasionally get slightly more than limit.

package ratelimit

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/keithlinneman/academy-portal/internal/httpmw"
)

// bucket is the per-key counter for the current window
type bucket struct {
	count       int
	windowStart time.Time
	// logged tracks whether OnFirstDenied already fired for this window
	logged bool
}

// Decision is the outcome of a single Check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Reset is when the current window closes
	Reset time.Time
	// RetryAfter is whole seconds until Reset, at least 1. Zero when allowed.
	RetryAfter int
}

// Preset is a named (window, limit) pair for one class of routes.
type Preset struct {
	Name   string
	Window time.Duration
	Limit  int
}

var (
	// AuthPreset is strict, for login/logout.
	AuthPreset = Preset{Name: "auth", Window: time.Minute, Limit: 5}
	// APIPreset covers authenticated API reads.
	APIPreset = Preset{Name: "api", Window: time.Minute, Limit: 60}
	// PublicPreset covers everything served to anonymous visitors.
	PublicPreset = Preset{Name: "public", Window: time.Minute, Limit: 120}
)

// Limiter holds the bucket table for one scope. Instances never share buckets.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	name     string
	window   time.Duration
	limit    int
	capacity int

	// sweepEvery controls the background pass that drops expired windows, 0 disables it
	sweepEvery time.Duration

	now     func() time.Time
	keyFunc func(*http.Request) string

	// OnDenied is called on every blocked request
	OnDenied func(key string)

	// OnFirstDenied is called once per key per window, used for logging
	OnFirstDenied func(key string)

	// OnEvict is called with the number of buckets removed by a capacity pass
	OnEvict func(n int)
}

type Option func(*Limiter)

// WithName labels the limiter for logs and metrics.
func WithName(name string) Option {
	return func(l *Limiter) { l.name = name }
}

// WithWindow sets the window length.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window = d }
}

// WithLimit sets the default number of requests allowed per window.
func WithLimit(n int) Option {
	return func(l *Limiter) { l.limit = n }
}

// WithPreset sets name, window and limit at once.
func WithPreset(p Preset) Option {
	return func(l *Limiter) {
		l.name = p.Name
		l.window = p.Window
		l.limit = p.Limit
	}
}

// WithCapacity bounds the number of tracked keys. 0 disables the bound.
func WithCapacity(n int) Option {
	return func(l *Limiter) { l.capacity = n }
}

// WithSweepInterval sets how often the background pass drops expired windows.
// 0 disables the background pass; capacity eviction still runs inline.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) { l.sweepEvery = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithKeyFunc replaces the request -> key derivation used by Middleware.
func WithKeyFunc(fn func(*http.Request) string) Option {
	return func(l *Limiter) { l.keyFunc = fn }
}

// WithOnDenied sets a callback for every blocked request. used for incrementing prometheus counters
func WithOnDenied(fn func(key string)) Option {
	return func(l *Limiter) { l.OnDenied = fn }
}

// WithOnFirstDenied sets a callback for the first block per key per window, used for logging.
// Separate from OnDenied so we log once but still count every denial
func WithOnFirstDenied(fn func(key string)) Option {
	return func(l *Limiter) { l.OnFirstDenied = fn }
}

// WithOnEvict sets a callback for capacity eviction passes.
func WithOnEvict(fn func(n int)) Option {
	return func(l *Limiter) { l.OnEvict = fn }
}

// New creates a Limiter and, if a sweep interval is set, starts the background
// sweep goroutine bound to ctx.
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		buckets:  make(map[string]*bucket),
		name:     PublicPreset.Name,
		window:   PublicPreset.Window,
		limit:    PublicPreset.Limit,
		capacity: 500,
		now:      time.Now,
		keyFunc:  KeyFromRequest,
	}
	for _, o := range opts {
		o(l)
	}
	if l.limit < 1 {
		l.limit = 1
	}
	if l.window <= 0 {
		l.window = PublicPreset.Window
	}
	if l.sweepEvery > 0 {
		go l.sweep(ctx)
	}
	return l
}

// Name returns the limiter's label.
func (l *Limiter) Name() string { return l.name }

// Limit returns the default per-window limit.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Check counts one request for key against the default limit.
func (l *Limiter) Check(key string) Decision {
	return l.CheckLimit(key, 0)
}

// CheckLimit counts one request for key against limit, or the default limit
// when limit <= 0. It never fails, a blocked request is a normal Decision.
func (l *Limiter) CheckLimit(key string, limit int) Decision {
	if limit <= 0 {
		limit = l.limit
	}
	now := l.now()

	l.mu.Lock()
	evicted := 0
	b, exists := l.buckets[key]
	if !exists {
		if l.capacity > 0 && len(l.buckets) >= l.capacity {
			evicted = l.evictLocked(now)
		}
		b = &bucket{}
		l.buckets[key] = b
	}

	// new key or expired window: open a fresh window counting this request
	if !exists || now.Sub(b.windowStart) > l.window {
		b.count = 1
		b.windowStart = now
		b.logged = false
		l.mu.Unlock()
		l.notifyEvict(evicted)
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: max(limit-1, 0),
			Reset:     now.Add(l.window),
		}
	}

	reset := b.windowStart.Add(l.window)
	if b.count < limit {
		b.count++
		remaining := limit - b.count
		l.mu.Unlock()
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: remaining,
			Reset:     reset,
		}
	}

	first := !b.logged
	b.logged = true
	// release lock before calling hooks, they may do slow work
	l.mu.Unlock()

	if first && l.OnFirstDenied != nil {
		l.OnFirstDenied(key)
	}
	if l.OnDenied != nil {
		l.OnDenied(key)
	}

	return Decision{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		Reset:      reset,
		RetryAfter: retryAfterSeconds(reset.Sub(now)),
	}
}

// evictLocked makes room for one more key. Expired windows go first, then the
// oldest half by window start. Caller holds l.mu.
func (l *Limiter) evictLocked(now time.Time) int {
	removed := 0
	for k, b := range l.buckets {
		if now.Sub(b.windowStart) > l.window {
			delete(l.buckets, k)
			removed++
		}
	}
	if len(l.buckets) < l.capacity {
		return removed
	}

	type aged struct {
		key   string
		start time.Time
	}
	all := make([]aged, 0, len(l.buckets))
	for k, b := range l.buckets {
		all = append(all, aged{key: k, start: b.windowStart})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].start.Before(all[j].start) })

	// round up so a table of one still frees a slot
	n := (len(all) + 1) / 2
	for _, a := range all[:n] {
		delete(l.buckets, a.key)
	}
	return removed + n
}

func (l *Limiter) notifyEvict(n int) {
	if n > 0 && l.OnEvict != nil {
		l.OnEvict(n)
	}
}

// sweep periodically drops expired windows until ctx is cancelled.
func (l *Limiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(l.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.dropExpired()
		}
	}
}

func (l *Limiter) dropExpired() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, b := range l.buckets {
		if now.Sub(b.windowStart) > l.window {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}

func retryAfterSeconds(d time.Duration) int {
	s := int(math.Ceil(float64(d.Milliseconds()) / 1000))
	if s < 1 {
		return 1
	}
	return s
}

// KeyFromRequest is the default key: the client identity resolved by
// httpmw.ClientIP, or the same resolution done inline when that middleware
// did not run.
func KeyFromRequest(r *http.Request) string {
	if ip := httpmw.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return httpmw.ClientKey(r)
}

// Middleware returns middleware that rejects requests over the limit with 429.
// Allowed requests get no rate-limit headers.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := l.Check(l.keyFunc(r))
		if !d.Allowed {
			WriteBlocked(w, d)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WriteBlocked writes the 429 response for a blocked decision.
func WriteBlocked(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Retry-After", strconv.Itoa(d.RetryAfter))
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.UnixMilli(), 10))
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
}
