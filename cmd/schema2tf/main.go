package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	err := newRootCmd(a).ExecuteContext(ctx)
	a.close()
	if err != nil {
		stop()
		os.Exit(1)
	}
}
