package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyBackoff(t *testing.T) {
	t.Parallel()

	p := &RetryPolicy{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	require.Equal(t, 100*time.Millisecond, p.Backoff(0))
	require.Equal(t, 200*time.Millisecond, p.Backoff(1))
	require.Equal(t, 800*time.Millisecond, p.Backoff(3))
	require.Equal(t, time.Second, p.Backoff(4))
	require.Equal(t, time.Second, p.Backoff(10))
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "server error", err: &StatusError{Code: 503}, want: true},
		{name: "wrapped server error", err: fmt.Errorf("fetch: %w", &StatusError{Code: 500}), want: true},
		{name: "client error", err: &StatusError{Code: 404}, want: false},
		{name: "robots", err: fmt.Errorf("fetch: %w", ErrRobotsDisallowed), want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "reset", err: &net.OpError{Op: "read", Err: syscall.ECONNRESET}, want: true},
		{name: "refused", err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, want: true},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}, want: true},
		{name: "plain", err: errors.New("boom"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestRetryPolicyDo(t *testing.T) {
	t.Parallel()

	newPolicy := func(slept *[]time.Duration) *RetryPolicy {
		p := &RetryPolicy{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
		p.sleep = func(_ context.Context, d time.Duration) error {
			*slept = append(*slept, d)
			return nil
		}
		return p
	}

	t.Run("retries transient then surfaces last error", func(t *testing.T) {
		t.Parallel()
		var slept []time.Duration
		calls := 0
		err := newPolicy(&slept).Do(context.Background(), func(context.Context, int) error {
			calls++
			return &StatusError{Code: 500 + calls}
		})
		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr))
		require.Equal(t, 503, statusErr.Code)
		require.Equal(t, 3, calls)
		require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, slept)
	})

	t.Run("stops on success", func(t *testing.T) {
		t.Parallel()
		var slept []time.Duration
		calls := 0
		err := newPolicy(&slept).Do(context.Background(), func(context.Context, int) error {
			calls++
			if calls < 2 {
				return context.DeadlineExceeded
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 2, calls)
	})

	t.Run("does not retry robots", func(t *testing.T) {
		t.Parallel()
		var slept []time.Duration
		calls := 0
		err := newPolicy(&slept).Do(context.Background(), func(context.Context, int) error {
			calls++
			return ErrRobotsDisallowed
		})
		require.ErrorIs(t, err, ErrRobotsDisallowed)
		require.Equal(t, 1, calls)
		require.Empty(t, slept)
	})
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	err := &StatusError{URL: "https://x.dev", Code: 404}
	require.Equal(t, "HTTP 404 Not Found: https://x.dev", err.Error())
	require.False(t, err.Temporary())
}

func TestOrigin(t *testing.T) {
	t.Parallel()

	got, err := Origin("HTTPS://Example.com:443/a?b=c")
	require.NoError(t, err)
	require.Equal(t, "https://example.com", got)

	got, err = Origin("http://example.com:8080/")
	require.NoError(t, err)
	require.Equal(t, "http://example.com:8080", got)

	_, err = Origin("/relative")
	require.Error(t, err)

	require.Equal(t, "example.com", Hostname("http://EXAMPLE.com:9/x"))
	require.Equal(t, "unknown", Hostname("::"))
}
