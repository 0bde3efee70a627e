package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/nilszeilon/keystr/internal/collector"
	"github.com/nilszeilon/keystr/internal/daemon"
	"github.com/nilszeilon/keystr/internal/input"
	"github.com/nilszeilon/keystr/internal/pidfile"
	kstestutil "github.com/nilszeilon/keystr/internal/testutil"
)

// inProcess runs the daemon in a goroutine of the test binary and routes
// signals to it over a channel.
type inProcess struct {
	h   *harness
	ctx context.Context

	mu   sync.Mutex
	done chan error
}

func (p *inProcess) Spawn(ctx context.Context) (int, error) {
	d := daemon.New(p.h.opts)
	ready := make(chan error, 1)
	done := make(chan error, 1)
	go func() {
		done <- d.Run(p.ctx, func(err error) { ready <- err })
	}()

	select {
	case err := <-ready:
		if err != nil {
			<-done
			return 0, err
		}
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	p.mu.Lock()
	p.done = done
	p.mu.Unlock()
	return os.Getpid(), nil
}

func (p *inProcess) Signal(pid int, req daemon.Request) error {
	if pid != os.Getpid() {
		return &daemon.NotRunningError{}
	}
	p.h.requests <- req
	return nil
}

func (p *inProcess) wait(ctx context.Context, t *testing.T) error {
	t.Helper()
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	require.NotNil(t, done)
	return kstestutil.RequireReceive(ctx, t, done)
}

func newSupervisor(t *testing.T, h *harness, p *inProcess) *daemon.Supervisor {
	t.Helper()
	return daemon.NewSupervisor(daemon.SupervisorOptions{
		Marker:    h.marker,
		Spawner:   p,
		Signaler:  p,
		StorePath: h.store.Path(),
		Clock:     quartz.NewReal(),
		Logger:    kstestutil.Logger(t),
	})
}

func TestSupervisorStartStop(t *testing.T) {
	t.Parallel()

	ctx := kstestutil.Context(t, kstestutil.WaitShort)
	h := newHarness(t, kstestutil.Logger(t))
	p := &inProcess{h: h, ctx: ctx}
	sup := newSupervisor(t, h, p)

	st, err := sup.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, pidfile.Stopped, st.State)

	pid, err := sup.Start(ctx)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)

	st, err = sup.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, pidfile.Running, st.State)
	require.Equal(t, pid, st.PID)

	_, err = sup.Start(ctx)
	var are *daemon.AlreadyRunningError
	require.True(t, xerrors.As(err, &are))
	require.Equal(t, pid, are.PID)

	// A live flush lets the CLI read fresh numbers from the store.
	h.source.Press(9)
	require.NoError(t, sup.RequestFlush(ctx))
	rec, err := h.store.Load()
	require.NoError(t, err)
	require.EqualValues(t, 9, rec.Total)

	stopped, err := sup.Stop(ctx)
	require.NoError(t, err)
	require.Equal(t, pid, stopped)
	require.NoError(t, p.wait(ctx, t))

	st, err = sup.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, pidfile.Stopped, st.State)
}

func TestSupervisorRequestReset(t *testing.T) {
	t.Parallel()

	ctx := kstestutil.Context(t, kstestutil.WaitShort)
	h := newHarness(t, kstestutil.Logger(t))
	p := &inProcess{h: h, ctx: ctx}
	sup := newSupervisor(t, h, p)

	_, err := sup.Start(ctx)
	require.NoError(t, err)
	h.source.Press(3)
	require.NoError(t, sup.RequestFlush(ctx))

	require.NoError(t, sup.RequestReset(ctx))
	rec, err := h.store.Load()
	require.NoError(t, err)
	require.Zero(t, rec.Total)

	_, err = sup.Stop(ctx)
	require.NoError(t, err)
	require.NoError(t, p.wait(ctx, t))
}

func TestSupervisorStartReportsDaemonFailure(t *testing.T) {
	t.Parallel()

	ctx := kstestutil.Context(t, kstestutil.WaitShort)
	h := newHarness(t, kstestutil.IgnoreErrorsLogger(t))
	h.source.SubscribeErr = input.ErrPermission
	p := &inProcess{h: h, ctx: ctx}
	sup := newSupervisor(t, h, p)

	_, err := sup.Start(ctx)
	require.ErrorIs(t, err, collector.ErrCaptureUnavailable)

	st, err := sup.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, pidfile.Stopped, st.State)
}

func TestSupervisorStopNotRunning(t *testing.T) {
	t.Parallel()

	ctx := kstestutil.Context(t, kstestutil.WaitShort)
	h := newHarness(t, kstestutil.Logger(t))
	sup := newSupervisor(t, h, &inProcess{h: h, ctx: ctx})

	_, err := sup.Stop(ctx)
	var nre *daemon.NotRunningError
	require.True(t, xerrors.As(err, &nre))

	require.True(t, xerrors.As(sup.RequestFlush(ctx), &nre))
	require.True(t, xerrors.As(sup.RequestReset(ctx), &nre))
}

func TestSupervisorStopStaleMarker(t *testing.T) {
	t.Parallel()

	ctx := kstestutil.Context(t, kstestutil.WaitShort)
	h := newHarness(t, kstestutil.Logger(t))
	sup := newSupervisor(t, h, &inProcess{h: h, ctx: ctx})

	pidPath := filepath.Join(h.dir, pidfile.PIDFileName)
	require.NoError(t, os.WriteFile(pidPath, []byte("4242\n"), 0o600))

	pid, err := sup.Stop(ctx)
	require.NoError(t, err)
	require.Equal(t, 4242, pid)
	require.NoFileExists(t, pidPath)
}

func TestSupervisorStartHealsStaleMarker(t *testing.T) {
	t.Parallel()

	ctx := kstestutil.Context(t, kstestutil.WaitShort)
	h := newHarness(t, kstestutil.Logger(t))
	p := &inProcess{h: h, ctx: ctx}
	sup := newSupervisor(t, h, p)

	pidPath := filepath.Join(h.dir, pidfile.PIDFileName)
	require.NoError(t, os.WriteFile(pidPath, []byte("4242\n"), 0o600))

	pid, err := sup.Start(ctx)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)

	_, err = sup.Stop(ctx)
	require.NoError(t, err)
	require.NoError(t, p.wait(ctx, t))
}
