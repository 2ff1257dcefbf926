// Package cli implements the quickassist command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/quickassist/internal/catalog"
	"github.com/roach88/quickassist/internal/config"
	"github.com/roach88/quickassist/internal/directory"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // optional YAML config file
	Catalog string // optional CUE catalog replacing the embedded one
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the quickassist CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "quickassist",
		Short: "QuickAssist - local services on demand",
		Long: `QuickAssist finds nearby service providers and walks a user through
calling, tracking, booking or donating, one session at a time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			configureLogging(cmd.ErrOrStderr(), opts.Verbose)
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Catalog, "catalog", "", "path to a CUE service catalog")

	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// configureLogging sends slog output to w. Session logs are noisy, so
// they are only shown at info level and below with --verbose.
func configureLogging(w io.Writer, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

func (o *RootOptions) loadCatalog() (*catalog.Catalog, error) {
	var (
		cat *catalog.Catalog
		err error
	)
	if o.Catalog != "" {
		cat, err = catalog.Load(o.Catalog)
	} else {
		cat, err = catalog.Default()
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load catalog", err)
	}
	return cat, nil
}

// newDirectory returns the fixture directory when one is configured and
// the generative directory otherwise.
func newDirectory(cfg config.Directory) (directory.Directory, error) {
	if cfg.Fixture != "" {
		fx, err := directory.LoadFixture(cfg.Fixture)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load directory fixture", err)
		}
		return fx, nil
	}
	if cfg.APIKey == "" {
		return nil, NewExitError(ExitCommandError,
			"no directory configured: set directory.fixture or directory.api_key (QUICKASSIST_DIRECTORY_API_KEY)")
	}
	return directory.NewGenerative(directory.GenerativeConfig{
		Endpoint:      cfg.Endpoint,
		Model:         cfg.Model,
		APIKey:        cfg.APIKey,
		Count:         cfg.Count,
		Timeout:       cfg.Timeout,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
	}), nil
}
