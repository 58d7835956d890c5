// Package main is the spiderjobs crawler binary.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spiderjobs/crawler/internal/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
