package daemon_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/nilszeilon/keystr/internal/daemon"
	kstestutil "github.com/nilszeilon/keystr/internal/testutil"
)

func TestWaitRemoved(t *testing.T) {
	t.Parallel()

	ctx := kstestutil.Context(t, kstestutil.WaitShort)
	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, os.WriteFile(path, []byte("1\n"), 0o600))

	removed := make(chan error, 1)
	go func() {
		removed <- daemon.WaitRemoved(ctx, quartz.NewReal(), path)
	}()
	require.NoError(t, os.Remove(path))
	require.NoError(t, kstestutil.RequireReceive(ctx, t, removed))

	// An absent file returns at once.
	require.NoError(t, daemon.WaitRemoved(ctx, quartz.NewReal(), path))
}

func TestWaitChanged(t *testing.T) {
	t.Parallel()

	ctx := kstestutil.Context(t, kstestutil.WaitShort)
	dir := t.TempDir()
	path := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))

	err := daemon.WaitChanged(ctx, quartz.NewReal(), path, func() error {
		tmp := filepath.Join(dir, "data.json.tmp-1")
		if err := os.WriteFile(tmp, []byte("{}\n"), 0o600); err != nil {
			return err
		}
		return os.Rename(tmp, path)
	})
	require.NoError(t, err)

	errTrigger := xerrors.New("signal failed")
	err = daemon.WaitChanged(ctx, quartz.NewReal(), path, func() error { return errTrigger })
	require.ErrorIs(t, err, errTrigger)
}
