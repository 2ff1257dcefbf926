// Command quickassist finds local service providers and runs assistance
// sessions from the command line or over websockets.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/quickassist/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
