// Command evsync authors and acts on registration events offline and
// delivers them to the registration server when it is reachable.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/evsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
