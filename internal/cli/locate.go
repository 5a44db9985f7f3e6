package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"asmharvest/internal/locator"
)

var locateCmd = &cobra.Command{
	Use:   "locate <url>...",
	Short: "Show how repository URLs resolve to a clone URL and package subdirectory",
	Long: `Show how repository URLs resolve to a clone URL and package subdirectory.

Resolution is purely syntactic; nothing is fetched. Each line is:

	<url>	<kind>	<clone url>	<inner path>

where kind is direct, subdirectory or unresolvable.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeLocations(cmd.OutOrStdout(), args)
	},
}

func writeLocations(w io.Writer, urls []string) error {
	for _, raw := range urls {
		loc := locator.Resolve(raw)
		if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", raw, loc.Kind, loc.GitURL(), loc.InnerPath); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(locateCmd)
}
