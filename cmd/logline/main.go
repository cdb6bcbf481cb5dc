// Command logline records contract-bound spans to an append-only log.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/logline/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil && !cli.IsReported(err) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cli.GetExitCode(err))
}
