package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return cmd.Run(ctx, cmd.DefaultConfig(), args)
}
