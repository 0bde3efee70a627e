package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/nilszeilon/keystr/internal/daemon"
	"github.com/nilszeilon/keystr/internal/logging"
	"github.com/nilszeilon/keystr/internal/metrics"
	"github.com/nilszeilon/keystr/internal/pidfile"
)

func (r *RootCmd) start() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start counting keystrokes in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := r.config()
			if err != nil {
				return err
			}
			logger, closeLog, err := r.logger(cmd)
			if err != nil {
				return err
			}
			defer closeLog()
			store, err := r.store(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			p := r.palette(out)
			fmt.Fprintf(out, "\n  %s Starting keystroke monitor...\n", p.accent("→"))

			pid, err := r.supervisor(cfg, store, logger).Start(withContext(cmd))
			if err != nil {
				fmt.Fprintf(out, "  %s Failed to start monitor\n\n", p.bad("✗"))
				return err
			}
			fmt.Fprintf(out, "  %s Monitor active (PID: %s)\n", p.ok("✓"), p.accent(pid))
			fmt.Fprintf(out, "  %s Only counting keystrokes - no data captured\n", p.info("ℹ"))
			fmt.Fprintf(out, "  %s Use %s to stop\n\n", p.accent("→"), p.warn("keystr stop"))
			return nil
		},
	}
}

func (r *RootCmd) stop() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background counter, saving its counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := r.config()
			if err != nil {
				return err
			}
			logger, closeLog, err := r.logger(cmd)
			if err != nil {
				return err
			}
			defer closeLog()
			store, err := r.store(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			p := r.palette(out)
			fmt.Fprintf(out, "\n  %s Stopping monitor...\n", p.warn("→"))
			// Stop checks the marker itself; probing first would heal a
			// stale marker and turn it into NotRunningError.
			pid, err := r.supervisor(cfg, store, logger).Stop(withContext(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  %s Monitor stopped (PID: %s)\n\n", p.ok("✓"), p.accent(pid))
			return nil
		},
	}
}

func (r *RootCmd) status() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the background counter is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := r.config()
			if err != nil {
				return err
			}
			logger, closeLog, err := r.logger(cmd)
			if err != nil {
				return err
			}
			defer closeLog()
			store, err := r.store(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := r.supervisor(cfg, store, logger).Status(withContext(cmd))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			p := r.palette(out)
			fmt.Fprintln(out)
			switch st.State {
			case pidfile.Running:
				fmt.Fprintf(out, "  %s %s │ PID: %s\n", p.ok("●"), p.ok("Running"), p.accent(st.PID))
			case pidfile.Stale:
				fmt.Fprintf(out, "  %s %s %s\n", p.dim("○"), p.dim("Stopped"),
					p.dim(fmt.Sprintf("(cleaned up after pid %d)", st.PID)))
			default:
				fmt.Fprintf(out, "  %s %s\n", p.dim("○"), p.dim("Stopped"))
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}

// daemonCmd is the detached process started by "keystr start".
func (r *RootCmd) daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "daemon",
		Short:  "Run the counter in the foreground",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ready := daemon.NotifierFromEnv(os.Getpid())

			cfg, err := r.config()
			if err != nil {
				ready(err)
				return err
			}
			if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
				err = xerrors.Errorf("create %s: %w", cfg.Dir, err)
				ready(err)
				return err
			}

			builder := logging.New(logging.WithJSON(cfg.LogPath()), logging.WithLevel(cfg.Log.Level))
			if r.verbose {
				builder = logging.New(
					logging.WithJSON(cfg.LogPath()),
					logging.WithHuman(cmd.ErrOrStderr()),
					logging.WithLevel("debug"),
				)
			}
			logger, closeLog, err := builder.Build()
			if err != nil {
				ready(err)
				return err
			}
			defer closeLog()

			store, err := r.store(cfg)
			if err != nil {
				ready(err)
				return err
			}
			defer store.Close()
			if err := store.Initialize(); err != nil {
				ready(err)
				return err
			}

			d := daemon.New(daemon.Options{
				Store:            store,
				Source:           r.opts.Source(cfg),
				Marker:           pidfile.New(cfg.Dir),
				Logger:           logger,
				Clock:            r.opts.Clock,
				Metrics:          metrics.New(),
				MetricsPath:      cfg.MetricsPath(),
				FlushInterval:    cfg.FlushInterval.Std(),
				MaxFlushFailures: cfg.MaxFlushFailures,
				ShutdownTimeout:  cfg.ShutdownTimeout.Std(),
			})
			return d.Run(withContext(cmd), ready)
		},
	}
}
