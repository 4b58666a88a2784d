// Command graphwriter queues graph change batches and applies them through
// a single writer.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/graphwriter/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
