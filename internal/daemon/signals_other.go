//go:build !unix

package daemon

import (
	"os"
	"os/signal"

	"golang.org/x/xerrors"
)

// NotifyRequests translates interrupts into RequestShutdown. Flush and reset
// requests have no signal on this platform.
func NotifyRequests() (<-chan Request, func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)

	requests := make(chan Request, 1)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigs:
			requests <- RequestShutdown
		case <-done:
		}
	}()
	return requests, func() {
		signal.Stop(sigs)
		close(done)
	}
}

type ProcessSignaler struct{}

func (ProcessSignaler) Signal(int, Request) error {
	return xerrors.New("signaling the daemon is not supported on this platform")
}
