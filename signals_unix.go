//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rentnasi/authguard/session"
)

// watchSignals maps process signals onto session events. SIGCONT means the
// terminal brought the process back to the foreground after a suspend.
func watchSignals(ctx context.Context, bus *session.Bus) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGCONT)

	go func() {
		defer signal.Stop(sigs)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				if sig == syscall.SIGCONT {
					bus.Emit(session.EventHidden)
					bus.Emit(session.EventVisible)
					continue
				}
				bus.Emit(session.EventUnload)
			}
		}
	}()
}
