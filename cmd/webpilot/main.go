// File: cmd/webpilot/main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/webpilot/cmd"
)

func main() {
	// Interrupts cancel the command context; the step loop notices between
	// actions and terminates with a final event rather than dying mid-step.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.ExecuteContext(ctx)
}
