package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"opal/internal/services"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "opal:", err)
	}
	os.Exit(exitCode(err))
}

// exitCode is 2 for bad input and 1 for everything else.
func exitCode(err error) int {
	if errors.Is(err, services.ErrValidation) {
		return 2
	}
	return 1
}
