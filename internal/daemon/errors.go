package daemon

import (
	"github.com/nilszeilon/keystr/internal/pidfile"
)

// AlreadyRunningError is returned by Start, and by a daemon process that
// finds the marker owned by a live process.
type AlreadyRunningError = pidfile.AlreadyRunningError

// NotRunningError is returned by Stop and the request methods when no
// daemon owns the marker.
type NotRunningError struct{}

func (*NotRunningError) Error() string {
	return "daemon is not running"
}
