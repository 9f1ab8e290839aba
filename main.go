package main

import (
	"embed"
	"log/slog"
	"os"

	"videomorph/internal/bootstrap"
)

//go:embed frontend
var appAssets embed.FS

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	app, err := bootstrap.NewWithOptions(bootstrap.Options{Assets: appAssets, Logger: logger})
	if err != nil {
		logger.Error("bootstrap app", "error", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		logger.Error("run app", "error", err)
		os.Exit(1)
	}
}
