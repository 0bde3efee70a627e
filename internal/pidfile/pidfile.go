// Package pidfile implements the single-instance marker of the daemon: an
// advisory lock on daemon.lock plus the owner's pid in daemon.pid.
package pidfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"
	"golang.org/x/xerrors"
)

const (
	PIDFileName  = "daemon.pid"
	LockFileName = "daemon.lock"
)

// AlreadyRunningError is returned when another live process owns the marker.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("daemon already running (pid %d)", e.PID)
	}
	return "daemon already running"
}

// StaleLockError describes a marker left behind by a process that is gone.
// Probe heals it and reports Stale instead of returning it.
type StaleLockError struct {
	Path string
	PID  int
}

func (e *StaleLockError) Error() string {
	return fmt.Sprintf("stale marker %s (pid %d)", e.Path, e.PID)
}

type State int

const (
	Stopped State = iota
	Running
	Stale
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stale:
		return "stale"
	default:
		return "stopped"
	}
}

type Status struct {
	State State
	PID   int
}

type Marker struct {
	pidPath  string
	lockPath string

	mu   sync.Mutex
	lock *flock.Flock
}

func New(dir string) *Marker {
	return &Marker{
		pidPath:  filepath.Join(dir, PIDFileName),
		lockPath: filepath.Join(dir, LockFileName),
	}
}

// Path returns the pid file location.
func (m *Marker) Path() string {
	return m.pidPath
}

// Acquire takes the lock without blocking and records pid. A stale pid file
// is overwritten.
func (m *Marker) Acquire(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lock != nil {
		return xerrors.New("marker already held by this process")
	}
	if err := os.MkdirAll(filepath.Dir(m.lockPath), 0o755); err != nil {
		return xerrors.Errorf("create marker directory: %w", err)
	}

	lock := flock.New(m.lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return xerrors.Errorf("lock %s: %w", m.lockPath, err)
	}
	if !ok {
		owner, _ := readPID(m.pidPath)
		return &AlreadyRunningError{PID: owner}
	}

	if err := atomic.WriteFile(m.pidPath, strings.NewReader(strconv.Itoa(pid)+"\n")); err != nil {
		_ = lock.Close()
		return xerrors.Errorf("write pid file: %w", err)
	}
	m.lock = lock
	return nil
}

// Release removes the pid file and drops the lock. It is a no-op when the
// marker is not held.
func (m *Marker) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lock == nil {
		return nil
	}
	var errs []error
	if err := os.Remove(m.pidPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, xerrors.Errorf("remove pid file: %w", err))
	}
	if err := m.lock.Close(); err != nil {
		errs = append(errs, xerrors.Errorf("unlock: %w", err))
	}
	m.lock = nil
	return errors.Join(errs...)
}

// Probe reports whether a live daemon owns the marker. A stale marker is
// removed before returning.
func (m *Marker) Probe() (Status, error) {
	pid, err := m.check()
	if err == nil {
		if pid == 0 {
			return Status{State: Stopped}, nil
		}
		return Status{State: Running, PID: pid}, nil
	}

	var stale *StaleLockError
	if !errors.As(err, &stale) {
		return Status{}, err
	}
	if err := os.Remove(m.pidPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Status{}, xerrors.Errorf("remove stale pid file: %w", err)
	}
	return Status{State: Stale, PID: stale.PID}, nil
}

// check returns the owner pid, zero when there is no marker, or a
// *StaleLockError when the marker has no live owner.
func (m *Marker) check() (int, error) {
	pid, err := readPID(m.pidPath)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	held, lockErr := m.heldElsewhere()
	if lockErr != nil {
		return 0, lockErr
	}
	if !held {
		return 0, &StaleLockError{Path: m.pidPath, PID: pid}
	}
	if err != nil || !processAlive(pid) {
		// The lock is owned but the recorded pid is unusable. Leave the
		// files alone; only the owner may remove them.
		return 0, xerrors.Errorf("marker locked but pid %d is not running: %w", pid, err)
	}
	return pid, nil
}

func (m *Marker) heldElsewhere() (bool, error) {
	m.mu.Lock()
	ours := m.lock != nil
	m.mu.Unlock()
	if ours {
		return true, nil
	}

	probe := flock.New(m.lockPath)
	defer probe.Close()
	ok, err := probe.TryRLock()
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, xerrors.Errorf("probe lock %s: %w", m.lockPath, err)
	}
	return !ok, nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, xerrors.Errorf("invalid pid file %s", path)
	}
	return pid, nil
}
