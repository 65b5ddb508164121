package session

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestStoreKeysByOrigin(t *testing.T) {
	t.Parallel()

	s := New()
	s.SetCookies(mustURL(t, "https://shop.example.com/login"), []*http.Cookie{
		{Name: "sid", Value: "abc"},
		{Name: "theme", Value: "dark"},
	})

	got := s.Cookies(mustURL(t, "https://SHOP.example.com:443/cart"))
	require.Equal(t, []*http.Cookie{{Name: "sid", Value: "abc"}, {Name: "theme", Value: "dark"}}, got)
	require.Empty(t, s.Cookies(mustURL(t, "http://shop.example.com/")))
	require.Empty(t, s.Cookies(mustURL(t, "https://other.example.com/")))
}

func TestStoreParseSetCookieAndExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New()
	s.now = func() time.Time { return now }

	headers := http.Header{}
	headers.Add("Set-Cookie", "sid=abc; Path=/; HttpOnly")
	headers.Add("Set-Cookie", "short=1; Max-Age=60")
	headers.Add("Set-Cookie", "=broken")
	accepted := s.ParseSetCookie("https://example.com/a/b", headers)
	require.Len(t, accepted, 2)
	require.Equal(t, map[string]string{"sid": "abc", "short": "1"}, s.Snapshot("https://example.com/other"))

	now = now.Add(2 * time.Minute)
	require.Equal(t, map[string]string{"sid": "abc"}, s.Snapshot("https://example.com/"))

	headers = http.Header{}
	headers.Add("Set-Cookie", "sid=gone; Max-Age=0")
	s.ParseSetCookie("https://example.com", headers)
	require.Empty(t, s.Snapshot("https://example.com/"))
}

func TestStoreClear(t *testing.T) {
	t.Parallel()

	s := New()
	s.SetCookies(mustURL(t, "https://example.com"), []*http.Cookie{{Name: "a", Value: "1"}})
	s.Clear()
	require.Empty(t, s.Snapshot("https://example.com"))
	require.Empty(t, s.Snapshot("::bad"))
}
