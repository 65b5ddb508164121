// Package session keeps the cookies a scraper has received, keyed by origin,
// so later requests to the same origin send them back.
package session

import (
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-scraper/internal/crawler"
)

// Store implements http.CookieJar keyed by scheme://host.
type Store struct {
	now func() time.Time

	mu      sync.Mutex
	origins map[string]map[string]*http.Cookie
}

// New creates an empty Store.
func New() *Store {
	return &Store{now: time.Now, origins: make(map[string]map[string]*http.Cookie)}
}

// SetCookies implements http.CookieJar.
func (s *Store) SetCookies(u *url.URL, cookies []*http.Cookie) {
	if u == nil {
		return
	}
	origin, err := crawler.Origin(u.String())
	if err != nil {
		return
	}
	s.merge(origin, cookies)
}

// Cookies implements http.CookieJar.
func (s *Store) Cookies(u *url.URL) []*http.Cookie {
	if u == nil {
		return nil
	}
	origin, err := crawler.Origin(u.String())
	if err != nil {
		return nil
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	jar := s.origins[origin]
	names := make([]string, 0, len(jar))
	for name, c := range jar {
		if expired(c, now) {
			delete(jar, name)
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		c := jar[name]
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

// ParseSetCookie merges every Set-Cookie header into the jar for origin and
// returns the cookies it accepted.
func (s *Store) ParseSetCookie(origin string, headers http.Header) []*http.Cookie {
	var cookies []*http.Cookie
	for _, line := range headers.Values("Set-Cookie") {
		c, err := http.ParseSetCookie(line)
		if err != nil {
			continue
		}
		cookies = append(cookies, c)
	}
	if normalized, err := crawler.Origin(origin); err == nil {
		s.merge(normalized, cookies)
	}
	return cookies
}

// Snapshot returns the live cookies for rawURL's origin as name/value pairs.
func (s *Store) Snapshot(rawURL string) map[string]string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return map[string]string{}
	}
	out := make(map[string]string)
	for _, c := range s.Cookies(u) {
		out[c.Name] = c.Value
	}
	return out
}

// Clear drops every cookie.
func (s *Store) Clear() {
	s.mu.Lock()
	s.origins = make(map[string]map[string]*http.Cookie)
	s.mu.Unlock()
}

func (s *Store) merge(origin string, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	jar, ok := s.origins[origin]
	if !ok {
		jar = make(map[string]*http.Cookie)
		s.origins[origin] = jar
	}
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		if expired(c, now) {
			delete(jar, c.Name)
			continue
		}
		stored := *c
		if c.MaxAge > 0 {
			stored.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		jar[c.Name] = &stored
	}
}

func expired(c *http.Cookie, now time.Time) bool {
	if c.MaxAge < 0 {
		return true
	}
	return !c.Expires.IsZero() && !c.Expires.After(now)
}
