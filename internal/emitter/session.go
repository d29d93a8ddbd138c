package emitter

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Session cookie defaults, overridden by LINKHUB_SESSION_COOKIE_NAME and
// LINKHUB_SESSION_TIMEOUT_SECONDS.
const (
	DefaultCookieName      = "linkhub_sid"
	DefaultSessionLifetime = 30 * time.Minute
)

// CookieStore is the visitor's cookie jar as seen by the emitter.
type CookieStore interface {
	Get(name string) (value string, expires time.Time, ok bool)
	Set(name, value string, expires time.Time)
}

// MemoryCookies is an in-memory CookieStore for headless visitors.
type MemoryCookies struct {
	mu      sync.Mutex
	values  map[string]string
	expires map[string]time.Time
}

func NewMemoryCookies() *MemoryCookies {
	return &MemoryCookies{values: map[string]string{}, expires: map[string]time.Time{}}
}

func (c *MemoryCookies) Get(name string) (string, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[name]
	return v, c.expires[name], ok
}

func (c *MemoryCookies) Set(name, value string, expires time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[name] = value
	c.expires[name] = expires
}

// Sessions hands out the session token stored in the session cookie.
// A missing or expired cookie gets a fresh ULID; every use pushes the
// expiry lifetime into the future.
type Sessions struct {
	cookies  CookieStore
	name     string
	lifetime time.Duration
	mu       sync.Mutex
}

// NewSessions falls back to the default cookie name and lifetime for empty values.
func NewSessions(cookies CookieStore, name string, lifetime time.Duration) *Sessions {
	if name == "" {
		name = DefaultCookieName
	}
	if lifetime <= 0 {
		lifetime = DefaultSessionLifetime
	}
	return &Sessions{cookies: cookies, name: name, lifetime: lifetime}
}

// CookieName is the cookie the token lives in.
func (s *Sessions) CookieName() string { return s.name }

func (s *Sessions) Token(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, expires, ok := s.cookies.Get(s.name)
	if !ok || token == "" || !now.Before(expires) {
		token = NewToken(now)
	}
	s.cookies.Set(s.name, token, now.Add(s.lifetime))
	return token
}

// NewToken is a ULID: 48-bit millisecond timestamp followed by 80 random bits.
func NewToken(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}
