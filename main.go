// The main package for the rental-crawler executable.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/huurwatch/rental-crawler/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cmd.Execute(ctx)
}
