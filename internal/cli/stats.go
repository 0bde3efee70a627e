package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cdr.dev/slog/v3"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/nilszeilon/keystr/internal/config"
	"github.com/nilszeilon/keystr/internal/daemon"
	"github.com/nilszeilon/keystr/internal/domain"
	"github.com/nilszeilon/keystr/internal/pidfile"
	"github.com/nilszeilon/keystr/internal/report"
	"github.com/nilszeilon/keystr/internal/stats"
	"github.com/nilszeilon/keystr/internal/storage"
)

// session bundles what the data commands need for one invocation.
type session struct {
	cfg    config.Config
	logger slog.Logger
	store  storage.Store
	sup    *daemon.Supervisor
	close  func()
}

func (r *RootCmd) session(cmd *cobra.Command) (*session, error) {
	cfg, err := r.config()
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := r.logger(cmd)
	if err != nil {
		return nil, err
	}
	store, err := r.store(cfg)
	if err != nil {
		closeLog()
		return nil, err
	}
	return &session{
		cfg:    cfg,
		logger: logger,
		store:  store,
		sup:    r.supervisor(cfg, store, logger),
		close: func() {
			_ = store.Close()
			closeLog()
		},
	}, nil
}

// load returns the current record. A running daemon is asked to flush
// first; if it does not answer in time the last flushed record is used.
func (s *session) load(ctx context.Context) (domain.Record, error) {
	st, err := s.sup.Status(ctx)
	if err != nil {
		return domain.Record{}, err
	}
	if st.State == pidfile.Running {
		if err := s.sup.RequestFlush(ctx); err != nil {
			s.logger.Warn(ctx, "live statistics unavailable, showing last saved counts", slog.Error(err))
		}
	}
	rec, err := s.store.Load()
	if err != nil {
		return domain.Record{}, xerrors.Errorf("load statistics: %w", err)
	}
	return rec, nil
}

func (r *RootCmd) stats() *cobra.Command {
	var view report.View
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show keystroke statistics",
		Long:  "Show the lifetime total and, by default, the last 7 days.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := r.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			rec, err := s.load(withContext(cmd))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return report.WriteStats(out, rec, r.today(), view, r.color(out))
		},
	}
	cmd.Flags().BoolVar(&view.Daily, "daily", false, "Show each of the last 7 days.")
	cmd.Flags().BoolVar(&view.Weekly, "weekly", false, "Show the 7-day total.")
	cmd.Flags().BoolVar(&view.Monthly, "monthly", false, "Show the 30-day total.")
	return cmd
}

func (r *RootCmd) export() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write statistics to a text file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := r.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()

			rec, err := s.load(withContext(cmd))
			if err != nil {
				return err
			}
			if err := report.Export(output, rec, r.today()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			p := r.palette(out)
			fmt.Fprintf(out, "\n  %s Exported to %s\n\n", p.ok("✓"), p.accent(output))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "keystroke_stats.txt", "File to write.")
	return cmd
}

func (r *RootCmd) reset() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			p := r.palette(out)

			if !yes {
				ok, err := confirm(cmd.InOrStdin(), out, p.warn("Reset all statistics? (y/N):"))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(out, "  %s Reset cancelled\n\n", p.info("ℹ"))
					return nil
				}
			}

			s, err := r.session(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			if err := s.reset(withContext(cmd)); err != nil {
				return err
			}
			fmt.Fprintf(out, "  %s All statistics cleared\n\n", p.ok("✓"))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation.")
	return cmd
}

// reset zeroes the counters. While a daemon runs it owns the store and is
// asked to reset itself.
func (s *session) reset(ctx context.Context) error {
	st, err := s.sup.Status(ctx)
	if err != nil {
		return err
	}
	if st.State == pidfile.Running {
		return s.sup.RequestReset(ctx)
	}

	if err := s.store.Initialize(); err != nil {
		return xerrors.Errorf("initialize store: %w", err)
	}
	engine := stats.NewEngine()
	engine.Reset()
	if err := s.store.Save(engine.Snapshot()); err != nil {
		return xerrors.Errorf("save statistics: %w", err)
	}
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprintf(out, "\n  %s ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, xerrors.Errorf("read answer: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
