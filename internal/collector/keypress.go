package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"golang.org/x/xerrors"

	"github.com/nilszeilon/keystr/internal/input"
	"github.com/nilszeilon/keystr/internal/metrics"
)

// ErrCaptureUnavailable is matched by every *CaptureUnavailableError.
var ErrCaptureUnavailable = xerrors.New("keystroke capture unavailable")

// CaptureUnavailableError reports that the keyboard source could not be
// subscribed to, or that an established subscription was lost.
type CaptureUnavailableError struct {
	Err error
}

func (e *CaptureUnavailableError) Error() string {
	return fmt.Sprintf("keystroke capture unavailable: %v", e.Err)
}

func (e *CaptureUnavailableError) Unwrap() error { return e.Err }

func (*CaptureUnavailableError) Is(target error) bool { return target == ErrCaptureUnavailable }

// Counter receives one call per key press.
type Counter interface {
	Increment(now time.Time)
}

type Options struct {
	Source  input.Source
	Counter Counter
	Clock   quartz.Clock
	Metrics *metrics.Metrics
	Logger  slog.Logger
}

// KeypressCollector bridges a keyboard source into a Counter. Nothing about
// which key was pressed is read, stored, or logged.
type KeypressCollector struct {
	source  input.Source
	counter Counter
	clock   quartz.Clock
	metrics *metrics.Metrics
	logger  slog.Logger

	mu       sync.Mutex
	sub      input.Subscription
	stopChan chan struct{}
	errChan  chan error
	wg       sync.WaitGroup
}

// NewKeypressCollector creates a new keypress collector
func NewKeypressCollector(opts Options) *KeypressCollector {
	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &KeypressCollector{
		source:  opts.Source,
		counter: opts.Counter,
		clock:   clock,
		metrics: m,
		logger:  opts.Logger,
		errChan: make(chan error, 1),
	}
}

// Start subscribes to the source. A failed subscription is returned as a
// *CaptureUnavailableError and leaves the collector stopped.
func (kc *KeypressCollector) Start(ctx context.Context) error {
	kc.mu.Lock()
	defer kc.mu.Unlock()

	if kc.sub != nil {
		return xerrors.New("keypress collector already started")
	}

	sub, err := kc.source.Subscribe(kc.record)
	if err != nil {
		return &CaptureUnavailableError{Err: err}
	}
	kc.sub = sub
	kc.stopChan = make(chan struct{})

	kc.wg.Add(1)
	go kc.watch(ctx, sub, kc.stopChan)

	kc.logger.Info(ctx, "keypress collector started")
	return nil
}

// record runs on the source's delivery goroutine and must stay cheap.
func (kc *KeypressCollector) record(input.KeyPress) {
	kc.counter.Increment(kc.clock.Now())
	kc.metrics.KeyPress()
}

func (kc *KeypressCollector) watch(ctx context.Context, sub input.Subscription, stop <-chan struct{}) {
	defer kc.wg.Done()

	select {
	case <-stop:
	case err := <-sub.Err():
		kc.logger.Error(ctx, "keyboard source failed", slog.Error(err))
		select {
		case kc.errChan <- &CaptureUnavailableError{Err: err}:
		default:
		}
	}
}

// Errors delivers a *CaptureUnavailableError when a running subscription is
// lost.
func (kc *KeypressCollector) Errors() <-chan error {
	return kc.errChan
}

// Stop unsubscribes from the source. It is safe to call when not started.
func (kc *KeypressCollector) Stop() error {
	kc.mu.Lock()
	defer kc.mu.Unlock()

	if kc.sub == nil {
		return nil
	}
	err := kc.sub.Unsubscribe()
	close(kc.stopChan)
	kc.wg.Wait()
	kc.sub = nil
	return err
}
