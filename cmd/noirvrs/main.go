package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"noirvrs/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cli.NewRootCommand(cli.Options{}).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "noirvrs:", err)
		os.Exit(1)
	}
}
