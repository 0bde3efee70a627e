// Package cli implements the keystr command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/nilszeilon/keystr/internal/collector"
	"github.com/nilszeilon/keystr/internal/config"
	"github.com/nilszeilon/keystr/internal/daemon"
	"github.com/nilszeilon/keystr/internal/domain"
	"github.com/nilszeilon/keystr/internal/input"
	"github.com/nilszeilon/keystr/internal/logging"
	"github.com/nilszeilon/keystr/internal/pidfile"
	"github.com/nilszeilon/keystr/internal/storage"
)

// Options replaces the parts of the CLI that touch the host. Zero values
// select the real implementations.
type Options struct {
	Clock quartz.Clock
	// Source builds the keyboard source used by the daemon command.
	Source func(cfg config.Config) input.Source
	// Spawner builds the launcher used by the start command.
	Spawner  func(cfg config.Config) daemon.Spawner
	Signaler daemon.Signaler
}

type RootCmd struct {
	opts    Options
	dir     string
	verbose bool
	noColor bool
}

// Root returns the keystr command tree.
func Root(opts Options) *cobra.Command {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Source == nil {
		opts.Source = func(cfg config.Config) input.Source {
			return input.Default(input.Options{Devices: cfg.Input.Devices})
		}
	}
	if opts.Spawner == nil {
		opts.Spawner = func(cfg config.Config) daemon.Spawner {
			return daemon.ExecSpawner{Args: []string{"daemon", "--dir", cfg.Dir}}
		}
	}
	if opts.Signaler == nil {
		opts.Signaler = daemon.ProcessSignaler{}
	}
	r := &RootCmd{opts: opts}

	cmd := &cobra.Command{
		Use:   "keystr",
		Short: "Count keystrokes in the background, never which keys",
		Long: `keystr runs a small background process that counts key presses per day.
It records how many keys were pressed, never which ones.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&r.dir, "dir", config.DefaultDir(), fmt.Sprintf("Directory holding statistics and settings (env %s).", config.DirEnv))
	cmd.PersistentFlags().BoolVarP(&r.verbose, "verbose", "v", false, "Enable debug logging.")
	cmd.PersistentFlags().BoolVar(&r.noColor, "no-color", false, "Disable colored output.")

	cmd.AddCommand(
		r.initCmd(),
		r.start(),
		r.stop(),
		r.status(),
		r.stats(),
		r.export(),
		r.reset(),
		r.daemonCmd(),
	)
	return cmd
}

func (r *RootCmd) config() (config.Config, error) {
	cfg, err := config.Load(r.dir)
	if err != nil {
		return config.Config{}, err
	}
	if r.verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// logger returns the stderr logger used by short-lived commands.
func (r *RootCmd) logger(cmd *cobra.Command) (slog.Logger, func(), error) {
	level := "warn"
	if r.verbose {
		level = "debug"
	}
	return logging.New(logging.WithHuman(cmd.ErrOrStderr()), logging.WithLevel(level)).Build()
}

func (*RootCmd) store(cfg config.Config) (storage.Store, error) {
	return storage.Open(storage.Options{Backend: cfg.Store.Backend, Dir: cfg.Dir})
}

func (r *RootCmd) supervisor(cfg config.Config, store storage.Store, logger slog.Logger) *daemon.Supervisor {
	return daemon.NewSupervisor(daemon.SupervisorOptions{
		Marker:         pidfile.New(cfg.Dir),
		Spawner:        r.opts.Spawner(cfg),
		Signaler:       r.opts.Signaler,
		StorePath:      store.Path(),
		Clock:          r.opts.Clock,
		Logger:         logger,
		StartTimeout:   cfg.StartTimeout.Std(),
		StopTimeout:    cfg.StopTimeout.Std(),
		RequestTimeout: cfg.StartTimeout.Std(),
	})
}

func (r *RootCmd) today() domain.Date {
	return domain.DateOf(r.opts.Clock.Now())
}

// color reports whether w is a terminal that should get ANSI colors.
func (r *RootCmd) color(w io.Writer) bool {
	if r.noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

type palette struct {
	ok, info, warn, bad, accent, dim func(a ...any) string
}

func (r *RootCmd) palette(w io.Writer) palette {
	if !r.color(w) {
		plain := func(a ...any) string { return fmt.Sprint(a...) }
		return palette{plain, plain, plain, plain, plain, plain}
	}
	return palette{
		ok:     text.Colors{text.FgGreen, text.Bold}.Sprint,
		info:   text.Colors{text.FgBlue}.Sprint,
		warn:   text.Colors{text.FgHiYellow}.Sprint,
		bad:    text.Colors{text.FgRed, text.Bold}.Sprint,
		accent: text.Colors{text.FgHiCyan}.Sprint,
		dim:    text.Colors{text.FgHiBlack}.Sprint,
	}
}

// withContext runs fn with cmd's context, defaulting to Background.
func withContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// FormatError turns err into the one-line message printed before a non-zero
// exit.
func FormatError(err error) string {
	var (
		are *daemon.AlreadyRunningError
		nre *daemon.NotRunningError
		cue *collector.CaptureUnavailableError
	)
	switch {
	case errors.As(err, &are):
		return fmt.Sprintf("Monitoring is already active (PID: %d)", are.PID)
	case errors.As(err, &nre):
		return "Monitor is not running"
	case errors.As(err, &cue):
		switch {
		case errors.Is(cue.Err, input.ErrPermission):
			return fmt.Sprintf("Cannot read keyboard events: %v. Grant input monitoring (macOS) or read access to /dev/input (Linux) and try again.", cue.Err)
		case errors.Is(cue.Err, input.ErrNoDevices):
			return fmt.Sprintf("No keyboard found: %v. Connect a keyboard or set input.devices in %s.", cue.Err, config.FileName)
		default:
			return fmt.Sprintf("Cannot read keyboard events: %v", cue.Err)
		}
	case errors.Is(err, storage.ErrCorrupt):
		return fmt.Sprintf("%v. Run 'keystr reset' to start over.", err)
	default:
		return err.Error()
	}
}
