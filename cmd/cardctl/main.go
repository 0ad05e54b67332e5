// Package main запускает утилиту cardctl.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mmeshcher/cardbook/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		stop()
		os.Exit(1)
	}
}
