// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"context"
	"testing"
	"time"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/stretchr/testify/require"
)

const (
	WaitShort  = 10 * time.Second
	WaitMedium = 15 * time.Second
	WaitLong   = 25 * time.Second

	IntervalFast = 25 * time.Millisecond
)

// Context returns a context that is canceled when the test ends or after
// dur, whichever comes first.
func Context(t testing.TB, dur time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), dur)
	t.Cleanup(cancel)
	return ctx
}

// Logger returns a debug-level test logger.
func Logger(t testing.TB) slog.Logger {
	return slogtest.Make(t, nil).Leveled(slog.LevelDebug)
}

// IgnoreErrorsLogger is Logger for tests that provoke logged errors on
// purpose.
func IgnoreErrorsLogger(t testing.TB) slog.Logger {
	return slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}).Leveled(slog.LevelDebug)
}

// RequireReceive will receive a value from the chan and return it. If the
// context expires or the channel is closed before a value can be received,
// it will fail the test.
//
// Safety: Must only be called from the Go routine that created `t`.
func RequireReceive[A any](ctx context.Context, t testing.TB, c <-chan A) A {
	t.Helper()
	select {
	case <-ctx.Done():
		require.Fail(t, "RequireReceive: context expired")
		var a A
		return a
	case a, ok := <-c:
		if !ok {
			require.Fail(t, "RequireReceive: channel closed")
		}
		return a
	}
}

// RequireNoReceive fails the test if c yields a value within wait.
func RequireNoReceive[A any](t testing.TB, c <-chan A, wait time.Duration) {
	t.Helper()
	select {
	case a := <-c:
		require.Failf(t, "RequireNoReceive: unexpected value", "%v", a)
	case <-time.After(wait):
	}
}
