package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
)

func (r *RootCmd) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the statistics directory and an empty data file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := r.config()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			p := r.palette(out)

			_, err = os.Stat(cfg.Dir)
			dirExisted := err == nil

			store, err := r.store(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			_, err = os.Stat(store.Path())
			fileExisted := err == nil
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return xerrors.Errorf("stat %s: %w", store.Path(), err)
			}
			if err := store.Initialize(); err != nil {
				return xerrors.Errorf("initialize store: %w", err)
			}

			fmt.Fprintln(out)
			if dirExisted {
				fmt.Fprintf(out, "  %s %s\n", p.ok("✓"), p.dim("Config directory ready"))
			} else {
				fmt.Fprintf(out, "  %s %s\n", p.ok("✓"), p.dim("Config directory created"))
			}
			if fileExisted {
				fmt.Fprintf(out, "  %s %s\n", p.ok("✓"), p.dim("Data file ready"))
			} else {
				fmt.Fprintf(out, "  %s %s\n", p.ok("✓"), p.dim("Data file created"))
			}
			fmt.Fprintf(out, "\n  %s Ready to start monitoring!\n", p.accent("→"))
			fmt.Fprintf(out, "  %s Run %s to begin\n\n", p.accent("→"), p.warn("keystr start"))
			return nil
		},
	}
}
