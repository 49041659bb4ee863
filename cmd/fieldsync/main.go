package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Exit codes. Scripts driving the CLI from a field UI wait and retry on
// exitDaemonUnreachable instead of reporting the command as broken.
const (
	exitFailure           = 1
	exitDaemonUnreachable = 3
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	if errors.Is(err, errDaemonUnreachable) {
		return exitDaemonUnreachable
	}
	return exitFailure
}
