// Command hotelres runs the hotel reservation cancellation pipeline and
// serves the trained model.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/YuminosukeSato/hotelres/pkg/errors"
	"github.com/YuminosukeSato/hotelres/pkg/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logFatal(err)
		stop()
		os.Exit(1)
	}
}

// logFatal writes the single failure record of a command.
func logFatal(err error) {
	fields := []any{err, "error.detail", formatError(err)}
	var stageErr *errors.StageError
	if errors.As(err, &stageErr) {
		fields = append(fields, log.StageKey, stageErr.Stage, log.PathKey, stageErr.Path)
	}
	log.GetLoggerWithName("cli").Error("Command failed", fields...)
}
