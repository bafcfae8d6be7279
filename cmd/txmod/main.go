// Command txmod runs transactional modules over an embedded entity store.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/txmod/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			// Usage errors from cobra itself were not reported yet.
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
