package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/xerrors"

	"github.com/nilszeilon/keystr/internal/collector"
	"github.com/nilszeilon/keystr/internal/input"
	"github.com/nilszeilon/keystr/internal/storage"
)

// ReadyFDEnv names the inherited file descriptor on which a detached daemon
// reports its startup result to the spawning process.
const ReadyFDEnv = "KEYSTR_READY_FD"

const (
	kindAlreadyRunning = "already-running"
	kindCapture        = "capture"
	kindCorrupt        = "corrupt"
	kindOther          = "other"
)

// captureCauses name the input errors a capture failure can carry across the
// pipe, so the CLI can tell a permission problem from a missing keyboard.
var captureCauses = map[string]error{
	"permission":         input.ErrPermission,
	"no-devices":         input.ErrNoDevices,
	"unsupported":        input.ErrUnsupported,
	"already-subscribed": input.ErrAlreadySubscribed,
}

func captureCause(err error) string {
	for name, sentinel := range captureCauses {
		if errors.Is(err, sentinel) {
			return name
		}
	}
	return kindOther
}

// FormatReadiness renders one readiness line: "ok <pid>" or
// "err <kind> <message>". Capture failures put their cause before the
// message.
func FormatReadiness(pid int, err error) string {
	if err == nil {
		return fmt.Sprintf("ok %d\n", pid)
	}

	var (
		are *AlreadyRunningError
		cue *collector.CaptureUnavailableError
	)
	kind, msg := kindOther, err.Error()
	switch {
	case errors.As(err, &are):
		kind, msg = kindAlreadyRunning, strconv.Itoa(are.PID)
	case errors.As(err, &cue):
		kind, msg = kindCapture, captureCause(cue.Err)+" "+cue.Err.Error()
	case errors.Is(err, storage.ErrCorrupt):
		kind = kindCorrupt
	}
	return fmt.Sprintf("err %s %s\n", kind, oneLine(msg))
}

// ParseReadiness reverses FormatReadiness. The returned error has the same
// type the daemon reported.
func ParseReadiness(line string) (int, error) {
	line = strings.TrimSpace(line)
	status, rest, _ := strings.Cut(line, " ")
	switch status {
	case "ok":
		pid, err := strconv.Atoi(rest)
		if err != nil || pid <= 0 {
			return 0, xerrors.Errorf("malformed readiness line %q", line)
		}
		return pid, nil
	case "err":
		kind, msg, _ := strings.Cut(rest, " ")
		switch kind {
		case kindAlreadyRunning:
			pid, _ := strconv.Atoi(msg)
			return 0, &AlreadyRunningError{PID: pid}
		case kindCapture:
			cause, detail, _ := strings.Cut(msg, " ")
			return 0, &collector.CaptureUnavailableError{
				Err: &reportedError{msg: detail, kind: captureCauses[cause]},
			}
		case kindCorrupt:
			return 0, &reportedError{msg: msg, kind: storage.ErrCorrupt}
		default:
			return 0, xerrors.New(msg)
		}
	default:
		return 0, xerrors.Errorf("malformed readiness line %q", line)
	}
}

// reportedError carries a message from the daemon process and matches the
// sentinel of its kind.
type reportedError struct {
	msg  string
	kind error
}

func (e *reportedError) Error() string { return e.msg }

func (e *reportedError) Is(target error) bool { return e.kind != nil && target == e.kind }

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NotifierFromEnv returns the ready callback for a daemon started with
// ReadyFDEnv set. Without it the callback does nothing.
func NotifierFromEnv(pid int) func(error) {
	fdStr := os.Getenv(ReadyFDEnv)
	if fdStr == "" {
		return func(error) {}
	}
	_ = os.Unsetenv(ReadyFDEnv)
	fd, err := strconv.Atoi(fdStr)
	if err != nil || fd < 3 {
		return func(error) {}
	}
	f := os.NewFile(uintptr(fd), "ready")
	if f == nil {
		return func(error) {}
	}

	var once sync.Once
	return func(err error) {
		once.Do(func() {
			_, _ = f.WriteString(FormatReadiness(pid, err))
			_ = f.Close()
		})
	}
}
