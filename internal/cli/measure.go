package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"asmharvest/internal/executor"
	"asmharvest/internal/flags"
	"asmharvest/internal/measure"
)

var measureCmd = &cobra.Command{
	Use:   "measure <dir>...",
	Short: "Count assembly lines in local directories",
	Long: `Count assembly lines in local directories with the configured line counter.

One line is printed per directory: the assembly counts, or "no assembly" when
the counter reports none. The crate column is the directory's base name.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		oracle := measure.LocOracle{Path: cfg.Tools.Loc, Runner: executor.ExecRunner{}}
		m := measure.NewMeasurer(oracle, cfg.Runtime.MeasureTimeout)
		return writeMeasurements(cmd.Context(), cmd.OutOrStdout(), m, args)
	},
}

func writeMeasurements(ctx context.Context, w io.Writer, m *measure.Measurer, dirs []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", dir, err)
		}
		crate := filepath.Base(abs)
		r, ok, err := m.Measure(ctx, crate, abs)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(w, "%s\tno assembly\n", crate)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\tfiles=%d lines=%d blank=%d comment=%d code=%d\n",
			r.Crate, r.Language, r.Files, r.Lines, r.Blank, r.Comment, r.Code)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(measureCmd)
	measureCmd.Flags().StringVar(&cfg.Tools.Loc, flags.FlagLoc, cfg.Tools.Loc, "Line-counting executable (loc-compatible output)")
	measureCmd.Flags().DurationVar(&cfg.Runtime.MeasureTimeout, flags.FlagMeasureTimeout, cfg.Runtime.MeasureTimeout, "Per line-count timeout (0 = none)")
}
