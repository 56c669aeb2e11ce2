// Command choreo runs the fanfic application and its tooling.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/choreo/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
