package signals

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Context returns a context that is cancelled on SIGINT or SIGTERM.
// A second signal exits immediately without waiting for cleanup.
func Context() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1)
	}()

	return ctx
}
