package engine

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// ScanWithGracefulShutdown runs a scan and cancels it on SIGTERM/SIGINT.
// Cancellation is cooperative: the engine finishes the record in flight,
// checkpoints the position after it, and returns an Interrupted summary,
// so the run can be resumed later. It blocks until the scan returns.
func ScanWithGracefulShutdown(ctx context.Context, eng *Engine, cb Callback) (*Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received shutdown signal, interrupting scan", "signal", sig)
			cancel()
		case <-done:
		}
	}()

	return eng.Scan(ctx, cb)
}
