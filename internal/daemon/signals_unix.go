//go:build unix

package daemon

import (
	"errors"
	"os"
	"os/signal"
	"sync"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

var requestSignals = map[Request]unix.Signal{
	RequestShutdown: unix.SIGTERM,
	RequestFlush:    unix.SIGUSR2,
	RequestReset:    unix.SIGUSR1,
}

// NotifyRequests translates SIGTERM and SIGINT into RequestShutdown, SIGUSR2
// into RequestFlush and SIGUSR1 into RequestReset. Call stop to restore
// default signal handling.
func NotifyRequests() (<-chan Request, func()) {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, unix.SIGTERM, unix.SIGINT, unix.SIGUSR1, unix.SIGUSR2)

	requests := make(chan Request, 4)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case sig := <-sigs:
				req := RequestShutdown
				switch sig {
				case unix.SIGUSR1:
					req = RequestReset
				case unix.SIGUSR2:
					req = RequestFlush
				}
				select {
				case requests <- req:
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	return requests, func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(done)
			wg.Wait()
		})
	}
}

// ProcessSignaler delivers requests to another process as signals.
type ProcessSignaler struct{}

func (ProcessSignaler) Signal(pid int, req Request) error {
	sig, ok := requestSignals[req]
	if !ok {
		return xerrors.Errorf("no signal for request %s", req)
	}
	err := unix.Kill(pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return &NotRunningError{}
	}
	if err != nil {
		return xerrors.Errorf("signal pid %d: %w", pid, err)
	}
	return nil
}
