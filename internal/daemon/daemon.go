// Package daemon runs the keystroke counter in the background and controls
// it from short-lived CLI processes.
package daemon

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"cdr.dev/slog/v3"
	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"golang.org/x/xerrors"

	"github.com/nilszeilon/keystr/internal/collector"
	"github.com/nilszeilon/keystr/internal/input"
	"github.com/nilszeilon/keystr/internal/metrics"
	"github.com/nilszeilon/keystr/internal/pidfile"
	"github.com/nilszeilon/keystr/internal/stats"
	"github.com/nilszeilon/keystr/internal/storage"
)

const (
	DefaultFlushInterval    = 30 * time.Second
	DefaultMaxFlushFailures = 5
	DefaultShutdownTimeout  = 5 * time.Second
)

type Options struct {
	Store  storage.Store
	Source input.Source
	Marker *pidfile.Marker
	Logger slog.Logger

	// Engine defaults to an empty engine; its contents are replaced by
	// the stored record on start.
	Engine  *stats.Engine
	Clock   quartz.Clock
	Metrics *metrics.Metrics
	// MetricsPath, when set, receives a Prometheus textfile after every
	// successful flush.
	MetricsPath string

	FlushInterval    time.Duration
	MaxFlushFailures int
	ShutdownTimeout  time.Duration

	// Requests replaces OS signal handling when set.
	Requests <-chan Request
	// PID is recorded in the marker. Defaults to os.Getpid().
	PID int
}

// Daemon is the long-lived counting process. A Daemon runs once.
type Daemon struct {
	opts    Options
	engine  *stats.Engine
	clock   quartz.Clock
	metrics *metrics.Metrics
	logger  slog.Logger
	state   atomic.Int32

	// Owned by the Run goroutine.
	flushedGen uint64
	failures   int
}

func New(opts Options) *Daemon {
	if opts.Engine == nil {
		opts.Engine = stats.NewEngine()
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.MaxFlushFailures <= 0 {
		opts.MaxFlushFailures = DefaultMaxFlushFailures
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.PID == 0 {
		opts.PID = os.Getpid()
	}
	return &Daemon{
		opts:    opts,
		engine:  opts.Engine,
		clock:   opts.Clock,
		metrics: opts.Metrics,
		logger:  opts.Logger.Named("daemon"),
	}
}

func (d *Daemon) State() State {
	return State(d.state.Load())
}

func (d *Daemon) setState(s State) {
	d.state.Store(int32(s))
}

// Run starts counting and blocks until shutdown. ready, when non-nil, is
// called exactly once: with nil once the daemon is counting, or with the
// error that prevented startup. A startup failure leaves no marker behind.
//
// Run returns nil after a clean shutdown. It returns an error if startup
// failed, if capture was lost, or if persistence failed beyond the
// configured threshold.
func (d *Daemon) Run(ctx context.Context, ready func(error)) error {
	if ready == nil {
		ready = func(error) {}
	}
	d.setState(StateStarting)

	requests := d.opts.Requests
	if requests == nil {
		var stop func()
		requests, stop = NotifyRequests()
		defer stop()
	}

	kc, err := d.start(ctx)
	if err != nil {
		d.setState(StateStopped)
		d.logger.Error(ctx, "daemon failed to start", slog.Error(err))
		ready(err)
		return err
	}

	ticker := d.clock.NewTicker(d.opts.FlushInterval, "daemon", "flush")
	d.setState(StateRunning)
	d.logger.Info(ctx, "daemon started",
		slog.F("pid", d.opts.PID),
		slog.F("store", d.opts.Store.Path()),
		slog.F("flush_interval", d.opts.FlushInterval),
	)
	ready(nil)

	runErr := d.loop(ctx, ticker, requests, kc)
	ticker.Stop("daemon", "flush")
	return d.shutdown(ctx, kc, runErr)
}

func (d *Daemon) start(ctx context.Context) (*collector.KeypressCollector, error) {
	if err := d.opts.Marker.Acquire(d.opts.PID); err != nil {
		return nil, err
	}

	rec, err := d.opts.Store.Load()
	if err != nil {
		d.releaseMarker(ctx)
		return nil, xerrors.Errorf("load store: %w", err)
	}
	d.engine.Load(rec)
	d.flushedGen = d.engine.Generation()

	kc := collector.NewKeypressCollector(collector.Options{
		Source:  d.opts.Source,
		Counter: d.engine,
		Clock:   d.clock,
		Metrics: d.metrics,
		Logger:  d.logger,
	})
	if err := kc.Start(ctx); err != nil {
		d.releaseMarker(ctx)
		return nil, err
	}
	return kc, nil
}

func (d *Daemon) loop(ctx context.Context, ticker *quartz.Ticker, requests <-chan Request, kc *collector.KeypressCollector) error {
	for {
		select {
		case <-ctx.Done():
			d.logger.Info(ctx, "context canceled, shutting down")
			return nil

		case err := <-kc.Errors():
			return err

		case req := <-requests:
			d.logger.Debug(ctx, "request received", slog.F("request", req))
			switch req {
			case RequestShutdown:
				return nil
			case RequestReset:
				d.engine.Reset()
				d.logger.Info(ctx, "statistics reset")
			}
			// Flush and reset requests persist immediately so the caller can
			// observe the store change.
			if err := d.flush(ctx, true); err != nil {
				return err
			}

		case <-ticker.C:
			if err := d.flush(ctx, false); err != nil {
				return err
			}
		}
	}
}

// flush saves a snapshot unless nothing changed since the last successful
// flush and force is false. It returns an error only once consecutive
// failures reach the configured threshold.
func (d *Daemon) flush(ctx context.Context, force bool) error {
	rec, gen := d.engine.SnapshotGeneration()
	if !force && gen == d.flushedGen {
		return nil
	}

	err := d.opts.Store.Save(rec)
	d.metrics.ObserveFlush(rec.Total, d.clock.Now(), err)
	if err != nil {
		d.failures++
		d.logger.Warn(ctx, "flush failed",
			slog.F("consecutive_failures", d.failures),
			slog.Error(err),
		)
		if d.failures >= d.opts.MaxFlushFailures {
			return xerrors.Errorf("%d consecutive flush failures: %w", d.failures, err)
		}
		return nil
	}

	d.failures = 0
	d.flushedGen = gen
	d.logger.Debug(ctx, "flushed", slog.F("total", rec.Total))
	d.writeMetrics(ctx)
	return nil
}

func (d *Daemon) writeMetrics(ctx context.Context) {
	if d.opts.MetricsPath == "" {
		return
	}
	if err := d.metrics.WriteTextfile(d.opts.MetricsPath); err != nil {
		d.logger.Warn(ctx, "write metrics", slog.Error(err))
	}
}

func (d *Daemon) shutdown(ctx context.Context, kc *collector.KeypressCollector, runErr error) error {
	d.setState(StateStopping)
	// ctx may already be canceled; cleanup still has to run.
	ctx = context.WithoutCancel(ctx)
	if runErr != nil {
		d.logger.Error(ctx, "daemon stopping after error", slog.Error(runErr))
	}

	if err := kc.Stop(); err != nil {
		d.logger.Warn(ctx, "stop collector", slog.Error(err))
	}

	flushErr := d.finalFlush(ctx, runErr != nil)
	if flushErr != nil {
		d.logger.Error(ctx, "final flush failed, counts since the last flush are lost", slog.Error(flushErr))
	}

	d.releaseMarker(ctx)
	d.setState(StateStopped)
	d.logger.Info(ctx, "daemon stopped", slog.F("total", d.engine.Snapshot().Total))

	if runErr != nil {
		return runErr
	}
	return flushErr
}

// finalFlush persists the last snapshot. After a fatal error only one
// attempt is made; otherwise it retries until ShutdownTimeout.
func (d *Daemon) finalFlush(ctx context.Context, bestEffort bool) error {
	save := func() error {
		rec := d.engine.Snapshot()
		err := d.opts.Store.Save(rec)
		d.metrics.ObserveFlush(rec.Total, d.clock.Now(), err)
		return err
	}
	if bestEffort {
		return save()
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxElapsedTime = d.opts.ShutdownTimeout
	err := backoff.RetryNotify(save, backoff.WithContext(eb, ctx), func(err error, next time.Duration) {
		d.logger.Warn(ctx, "final flush failed, retrying", slog.F("retry_in", next), slog.Error(err))
	})
	if err == nil {
		d.writeMetrics(ctx)
	}
	return err
}

func (d *Daemon) releaseMarker(ctx context.Context) {
	if err := d.opts.Marker.Release(); err != nil {
		d.logger.Error(ctx, "release marker", slog.Error(err))
	}
}
