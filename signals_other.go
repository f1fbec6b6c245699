//go:build !unix

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rentnasi/authguard/session"
)

// watchSignals maps process signals onto session events. Without job
// control there is no resume signal, so only unload is reported.
func watchSignals(ctx context.Context, bus *session.Bus) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigs)
		select {
		case <-ctx.Done():
		case <-sigs:
			bus.Emit(session.EventUnload)
		}
	}()
}
