package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/quickassist/internal/harness"
	"github.com/roach88/quickassist/internal/trace"
)

// SimulateResult is the JSON payload of the simulate command.
type SimulateResult struct {
	Name   string        `json:"name"`
	Pass   bool          `json:"pass"`
	Errors []string      `json:"errors,omitempty"`
	Trace  []trace.Event `json:"trace"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate <scenario.yaml>",
		Short: "Run one scenario and print its trace",
		Long: `Run a scenario against a fresh session with a manual clock and a
fixture directory, then print the step-by-step trace.

Exit codes:
  0 - Every expectation and assertion held
  1 - The scenario ran but failed
  2 - The scenario could not be loaded or run

Examples:
  quickassist simulate scenarios/book_priest.yaml
  quickassist simulate scenarios/book_priest.yaml --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(rootOpts, args[0], cmd)
		},
	}
}

func runSimulate(opts *RootOptions, path string, cmd *cobra.Command) error {
	s, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	cat, err := opts.loadCatalog()
	if err != nil {
		return err
	}

	result, err := harness.Run(cmd.Context(), s, harness.WithCatalog(cat))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	out := SimulateResult{Name: s.Name, Pass: result.Pass, Errors: result.Errors, Trace: result.Trace}
	err = opts.formatter(cmd).Success(out, func(w io.Writer) {
		data, err := harness.MarshalTrace(s.Name, result)
		if err != nil {
			fmt.Fprintf(w, "failed to render trace: %v\n", err)
			return
		}
		w.Write(data)
		for _, e := range result.Errors {
			fmt.Fprintf(w, "FAIL %s\n", e)
		}
	})
	if err != nil {
		return err
	}
	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", s.Name))
	}
	return nil
}
