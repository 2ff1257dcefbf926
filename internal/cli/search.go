package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/quickassist/internal/discovery"
	"github.com/roach88/quickassist/internal/model"
	"github.com/roach88/quickassist/internal/session"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Lat     float64
	Lng     float64
	Fixture string
	Timeout time.Duration
}

// localUser is the identity the search command logs in as.
var localUser = model.Identity{ID: "local", FullName: "Local User", Mobile: "local", Role: model.RoleSeeker}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <service>",
		Short: "Search for providers of a service",
		Long: `Run one Discovery Session for a service and print the providers found.

The search origin is --lat/--lng when given and the configured fallback
coordinate otherwise.

Exit codes:
  0 - The search succeeded
  1 - The directory query failed
  2 - Command error (bad flags, unreadable fixture, etc.)

Examples:
  quickassist search "Puncture Repair" --fixture providers.yaml
  quickassist search Electrician --lat 20.35 --lng 85.81
  quickassist search "Temple Locations" --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(opts, args[0], cmd)
		},
	}

	cmd.Flags().Float64Var(&opts.Lat, "lat", 0, "search latitude")
	cmd.Flags().Float64Var(&opts.Lng, "lng", 0, "search longitude")
	cmd.Flags().StringVar(&opts.Fixture, "fixture", "", "answer from a YAML fixture directory")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 45*time.Second, "how long to wait for the directory")
	cmd.MarkFlagsRequiredTogether("lat", "lng")

	return cmd
}

func runSearch(opts *SearchOptions, service string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Fixture != "" {
		cfg.Directory.Fixture = opts.Fixture
	}
	if cmd.Flags().Changed("lat") {
		cfg.Fallback = model.Coordinate{Lat: opts.Lat, Lng: opts.Lng}
		if err := cfg.Fallback.Validate(); err != nil {
			return WrapExitError(ExitCommandError, "invalid coordinate", err)
		}
	}

	cat, err := opts.loadCatalog()
	if err != nil {
		return err
	}
	dir, err := newDirectory(cfg.Directory)
	if err != nil {
		return err
	}

	o := session.New(cat, dir, session.WithFallback(cfg.Fallback))
	defer o.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	if err := o.Login(ctx, localUser); err != nil {
		return WrapExitError(ExitCommandError, "login failed", err)
	}
	if err := o.SelectService(service); err != nil {
		return WrapExitError(ExitCommandError, "search failed", err)
	}
	if err := o.Settle(ctx); err != nil {
		return WrapExitError(ExitFailure, "search did not finish", err)
	}

	snap, err := o.Snapshot(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read session", err)
	}
	view := snap.Discovery
	if view == nil {
		return NewExitError(ExitFailure, "search was closed before it finished")
	}

	f := opts.formatter(cmd)
	if view.Status == discovery.StatusFailed {
		if err := f.Error("E_DIRECTORY", view.StatusText, snap.LastError); err != nil {
			return err
		}
		return NewExitError(ExitFailure, view.Error)
	}
	return f.Success(view, func(w io.Writer) { printResults(w, view) })
}

func printResults(w io.Writer, v *discovery.View) {
	fmt.Fprintf(w, "%s near %.4f, %.4f (%s)\n", v.Query, v.Origin.Lat, v.Origin.Lng, v.Kind)
	if len(v.Results) == 0 {
		fmt.Fprintln(w, "No providers found.")
		return
	}
	for _, p := range v.Results {
		open := "closed"
		if p.IsOpen {
			open = "open"
		}
		fmt.Fprintf(w, "  %-6s %s  %.1f (%d reviews)  %s  %s\n", p.ID, p.Name, p.Rating, p.ReviewCount, p.Distance, open)
		fmt.Fprintf(w, "         %s", p.Address)
		if p.HasPhone() {
			fmt.Fprintf(w, "  tel %s", p.Mobile)
		}
		fmt.Fprintln(w)
	}
}
