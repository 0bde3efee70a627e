package daemon_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/nilszeilon/keystr/internal/collector"
	"github.com/nilszeilon/keystr/internal/daemon"
	"github.com/nilszeilon/keystr/internal/input"
	"github.com/nilszeilon/keystr/internal/storage"
)

func TestReadinessRoundTrip(t *testing.T) {
	t.Parallel()

	pid, err := daemon.ParseReadiness(daemon.FormatReadiness(1234, nil))
	require.NoError(t, err)
	require.Equal(t, 1234, pid)

	_, err = daemon.ParseReadiness(daemon.FormatReadiness(1, &daemon.AlreadyRunningError{PID: 77}))
	var are *daemon.AlreadyRunningError
	require.True(t, xerrors.As(err, &are))
	require.Equal(t, 77, are.PID)

	_, err = daemon.ParseReadiness(daemon.FormatReadiness(1, &collector.CaptureUnavailableError{Err: input.ErrPermission}))
	require.ErrorIs(t, err, collector.ErrCaptureUnavailable)
	require.ErrorIs(t, err, input.ErrPermission)
	require.Contains(t, err.Error(), input.ErrPermission.Error())

	noDevices := xerrors.Errorf("open 1 keyboard device(s): %w", input.ErrNoDevices)
	_, err = daemon.ParseReadiness(daemon.FormatReadiness(1, &collector.CaptureUnavailableError{Err: noDevices}))
	require.ErrorIs(t, err, collector.ErrCaptureUnavailable)
	require.ErrorIs(t, err, input.ErrNoDevices)
	require.NotErrorIs(t, err, input.ErrPermission)
	require.Contains(t, err.Error(), "open 1 keyboard device(s)")

	_, err = daemon.ParseReadiness(daemon.FormatReadiness(1, &collector.CaptureUnavailableError{Err: xerrors.New("tap died")}))
	require.ErrorIs(t, err, collector.ErrCaptureUnavailable)
	require.NotErrorIs(t, err, input.ErrNoDevices)
	require.Contains(t, err.Error(), "tap died")

	corrupt := xerrors.Errorf("load store: %w", &storage.CorruptStoreError{
		Path: "/home/user/.config/keystroke/data.json",
		Err:  xerrors.New("unexpected end\nof input"),
	})
	_, err = daemon.ParseReadiness(daemon.FormatReadiness(1, corrupt))
	require.ErrorIs(t, err, storage.ErrCorrupt)
	require.Contains(t, err.Error(), "data.json")
	require.NotContains(t, err.Error(), "\n")

	_, err = daemon.ParseReadiness(daemon.FormatReadiness(1, xerrors.New("marker directory read-only")))
	require.EqualError(t, err, "marker directory read-only")
}

func TestParseReadinessMalformed(t *testing.T) {
	t.Parallel()

	for _, line := range []string{"", "ok", "ok abc", "ok -3", "ready 12", "\n"} {
		_, err := daemon.ParseReadiness(line)
		require.Error(t, err, "line %q", line)
	}
}
