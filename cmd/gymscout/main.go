// Command gymscout crawls a training platform and drafts challenge
// write-up tickets.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/pwnlabs/gymscout/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Execute(ctx)
}
