//go:build unix

package daemon

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/xerrors"
)

// ExecSpawner starts the daemon as a detached copy of the running
// executable: a new session, stdio on the null device, and a pipe on fd 3
// for the readiness line.
type ExecSpawner struct {
	// Path defaults to os.Executable().
	Path string
	Args []string
	Env  []string
}

func (s ExecSpawner) Spawn(ctx context.Context) (int, error) {
	path := s.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return 0, xerrors.Errorf("locate executable: %w", err)
		}
		path = exe
	}

	r, w, err := os.Pipe()
	if err != nil {
		return 0, xerrors.Errorf("create readiness pipe: %w", err)
	}
	defer r.Close()

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		_ = w.Close()
		return 0, xerrors.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devnull.Close()

	//nolint:gosec // path is our own executable
	cmd := exec.Command(path, s.Args...)
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.ExtraFiles = []*os.File{w}
	cmd.Env = append(append(os.Environ(), s.Env...), ReadyFDEnv+"=3")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	err = cmd.Start()
	// The child holds its own copy; ours must be closed so a dying child
	// shows up as EOF.
	_ = w.Close()
	if err != nil {
		return 0, xerrors.Errorf("start daemon: %w", err)
	}
	childPID := cmd.Process.Pid
	// Reap the child if it exits while we are still around.
	go func() { _ = cmd.Wait() }()

	pid, err := readReadiness(ctx, r)
	if err != nil {
		if ctx.Err() != nil {
			// A child that never reported must not come up later and take
			// the marker behind a failed start.
			_ = cmd.Process.Kill()
		}
		return childPID, err
	}
	return pid, nil
}

func readReadiness(ctx context.Context, r *os.File) (int, error) {
	type result struct {
		line string
		err  error
	}
	lines := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(r).ReadString('\n')
		lines <- result{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		// Unblocks the reader goroutine.
		_ = r.SetReadDeadline(time.Now())
		return 0, xerrors.Errorf("daemon did not report readiness: %w", ctx.Err())
	case res := <-lines:
		if res.line == "" {
			if res.err == nil || errors.Is(res.err, io.EOF) {
				return 0, xerrors.New("daemon exited during startup, see daemon.log")
			}
			return 0, xerrors.Errorf("read readiness: %w", res.err)
		}
		return ParseReadiness(res.line)
	}
}
