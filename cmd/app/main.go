// Command app runs the desktop UI against ./frontend on disk with debug logging.
package main

import (
	"log/slog"
	"os"

	"videomorph/internal/bootstrap"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	app, err := bootstrap.NewWithOptions(bootstrap.Options{Logger: logger})
	if err != nil {
		logger.Error("bootstrap app", "error", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		logger.Error("run app", "error", err)
		os.Exit(1)
	}
}
