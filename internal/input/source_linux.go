//go:build linux

package input

import (
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

const (
	evKey      = 0x01
	valuePress = 1
)

// eventSize is sizeof(struct input_event): a timeval followed by
// type (u16), code (u16) and value (s32).
var eventSize = int(unsafe.Sizeof(unix.Timeval{})) + 8

var discoveryGlobs = []string{
	"/dev/input/by-path/*-event-kbd",
	"/dev/input/by-id/*-event-kbd",
}

type evdevSource struct {
	devices []string
}

func platformSource(opts Options) Source {
	return &evdevSource{devices: opts.Devices}
}

func (s *evdevSource) Subscribe(h Handler) (Subscription, error) {
	paths := s.devices
	if len(paths) == 0 {
		paths = discoverKeyboards()
	}
	if len(paths) == 0 {
		return nil, ErrNoDevices
	}

	sub := &evdevSubscription{
		handler: h,
		errs:    make(chan error, 1),
	}
	var denied, failed int
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				denied++
			} else {
				failed++
			}
			continue
		}
		sub.files = append(sub.files, f)
	}
	if len(sub.files) == 0 {
		if denied > 0 {
			return nil, xerrors.Errorf("open %d keyboard device(s): %w", denied, ErrPermission)
		}
		return nil, xerrors.Errorf("open %d keyboard device(s): %w", failed, ErrNoDevices)
	}

	sub.active = len(sub.files)
	for _, f := range sub.files {
		sub.wg.Add(1)
		go sub.read(f)
	}
	return sub, nil
}

// discoverKeyboards resolves udev's keyboard symlinks to unique event nodes.
func discoverKeyboards() []string {
	seen := make(map[string]struct{})
	for _, pattern := range discoveryGlobs {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			resolved, err := filepath.EvalSymlinks(m)
			if err != nil {
				continue
			}
			seen[resolved] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

type evdevSubscription struct {
	handler Handler
	files   []*os.File
	errs    chan error
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
	active int
}

func (s *evdevSubscription) read(f *os.File) {
	defer s.wg.Done()

	buf := make([]byte, eventSize*64)
	for {
		n, err := f.Read(buf)
		for off := 0; off+eventSize <= n; off += eventSize {
			ev := buf[off+eventSize-8 : off+eventSize]
			typ := binary.NativeEndian.Uint16(ev[0:2])
			// ev[2:4] is the key code and is never decoded.
			value := int32(binary.NativeEndian.Uint32(ev[4:8]))
			if typ == evKey && value == valuePress {
				s.handler(KeyPress{})
			}
		}
		if err != nil {
			s.deviceLost(err)
			return
		}
	}
}

func (s *evdevSubscription) deviceLost(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.active--
	if s.active > 0 {
		return
	}
	if errors.Is(err, io.EOF) || errors.Is(err, unix.ENODEV) {
		err = ErrNoDevices
	}
	select {
	case s.errs <- xerrors.Errorf("all keyboard devices lost: %w", err):
	default:
	}
}

func (s *evdevSubscription) Unsubscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.wg.Wait()
	return firstErr
}

func (s *evdevSubscription) Err() <-chan error {
	return s.errs
}
