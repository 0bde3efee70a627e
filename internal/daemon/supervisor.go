package daemon

import (
	"context"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"golang.org/x/xerrors"

	"github.com/nilszeilon/keystr/internal/pidfile"
)

// Spawner starts a daemon process and waits for its readiness report. It
// returns the daemon's pid, or the error the daemon failed to start with.
type Spawner interface {
	Spawn(ctx context.Context) (int, error)
}

// Signaler delivers a Request to the daemon with the given pid.
type Signaler interface {
	Signal(pid int, req Request) error
}

type SupervisorOptions struct {
	Marker   *pidfile.Marker
	Spawner  Spawner
	Signaler Signaler
	// StorePath is watched to confirm flush and reset requests.
	StorePath string
	Clock     quartz.Clock
	Logger    slog.Logger

	StartTimeout   time.Duration
	StopTimeout    time.Duration
	RequestTimeout time.Duration
}

// Supervisor controls the daemon from a separate, short-lived process. The
// marker is the only state shared with the daemon.
type Supervisor struct {
	opts   SupervisorOptions
	clock  quartz.Clock
	logger slog.Logger
}

func NewSupervisor(opts SupervisorOptions) *Supervisor {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Signaler == nil {
		opts.Signaler = ProcessSignaler{}
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 5 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = opts.StartTimeout
	}
	return &Supervisor{
		opts:   opts,
		clock:  opts.Clock,
		logger: opts.Logger.Named("supervisor"),
	}
}

// Status reports whether a daemon is running. A stale marker is cleaned up
// and reported as pidfile.Stale.
func (s *Supervisor) Status(ctx context.Context) (pidfile.Status, error) {
	st, err := s.opts.Marker.Probe()
	if err != nil {
		return pidfile.Status{}, xerrors.Errorf("probe marker: %w", err)
	}
	if st.State == pidfile.Stale {
		s.logger.Info(ctx, "removed stale marker", slog.F("pid", st.PID))
	}
	return st, nil
}

// Start launches a detached daemon and returns its pid once it is counting.
func (s *Supervisor) Start(ctx context.Context) (int, error) {
	st, err := s.Status(ctx)
	if err != nil {
		return 0, err
	}
	if st.State == pidfile.Running {
		return 0, &AlreadyRunningError{PID: st.PID}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.StartTimeout)
	defer cancel()
	pid, err := s.opts.Spawner.Spawn(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.Debug(ctx, "daemon started", slog.F("pid", pid))
	return pid, nil
}

// Stop asks the daemon to shut down and waits until it has released the
// marker. A stale marker is removed and counts as stopped.
func (s *Supervisor) Stop(ctx context.Context) (int, error) {
	st, err := s.Status(ctx)
	if err != nil {
		return 0, err
	}
	switch st.State {
	case pidfile.Stopped:
		return 0, &NotRunningError{}
	case pidfile.Stale:
		return st.PID, nil
	}

	if err := s.opts.Signaler.Signal(st.PID, RequestShutdown); err != nil {
		return st.PID, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.StopTimeout)
	defer cancel()
	if err := WaitRemoved(ctx, s.clock, s.opts.Marker.Path()); err != nil {
		return st.PID, xerrors.Errorf("daemon (pid %d) did not stop within %s: %w", st.PID, s.opts.StopTimeout, err)
	}
	return st.PID, nil
}

// RequestFlush makes a running daemon persist its counters now and waits
// for the store to change.
func (s *Supervisor) RequestFlush(ctx context.Context) error {
	return s.request(ctx, RequestFlush)
}

// RequestReset makes a running daemon zero its counters and persist them.
func (s *Supervisor) RequestReset(ctx context.Context) error {
	return s.request(ctx, RequestReset)
}

func (s *Supervisor) request(ctx context.Context, req Request) error {
	st, err := s.Status(ctx)
	if err != nil {
		return err
	}
	if st.State != pidfile.Running {
		return &NotRunningError{}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()
	return WaitChanged(ctx, s.clock, s.opts.StorePath, func() error {
		return s.opts.Signaler.Signal(st.PID, req)
	})
}
