package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"asmharvest/internal/config"
	"asmharvest/internal/flags"
	"asmharvest/internal/logging"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var cfg = config.New()

var rootCmd = &cobra.Command{
	Use:   "asmharvest",
	Short: "Measure hand-written and generated assembly across crates.io packages",
	Long: `asmharvest walks the crates.io listing, clones each package's repository,
builds it, and counts assembly lines in the source tree and in the build output.

Two tables are written: asm_data.csv (source) and asm_build_data.csv (build output).

Examples:
	# Process the packages listed on page 1 (100 crates)
	asmharvest scrape 2

	# Same, deleting each checkout after it has been measured
	asmharvest scrape 2 --delete

	# Show how repository URLs are resolved
	asmharvest locate https://github.com/rust-lang/stdarch/tree/master/crates/core_arch

	# Count assembly in local directories
	asmharvest measure ./ring ./blake3

Environment:
	A .env file in the working directory is loaded before flags are read.
	GITHUB_TOKEN (or GH_TOKEN) enables the optional GitHub repository probe.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadDotEnv(".env"); err != nil {
			return err
		}
		logging.Setup(os.Stderr, cfg.Runtime.Verbose)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&cfg.Runtime.Verbose, flags.FlagVerbose, false, "Enable debug logging (every command, registry page and GitHub API call)")
}

// loadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
