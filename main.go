// ptyd bridges an interactive shell on a pseudo-terminal to a remote
// admin console connection.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ptyd/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ptyd: %v\n", err)
		os.Exit(1)
	}
}
