package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ssh-vom/boox-reader/internal/boox"
	"github.com/ssh-vom/boox-reader/internal/config"
	"github.com/ssh-vom/boox-reader/internal/history"
	"github.com/ssh-vom/boox-reader/internal/library"
	"github.com/ssh-vom/boox-reader/internal/preview"
	"github.com/ssh-vom/boox-reader/internal/providers/manga/mangadex"
	"github.com/ssh-vom/boox-reader/internal/ui"
)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// buildDependencies returns whatever it could build alongside the error, so
// the TUI can still open and offer the settings screen.
func buildDependencies(cfg config.Config, httpClient *http.Client, logger *slog.Logger) (ui.Dependencies, error) {
	source := mangadex.New(httpClient, cfg.Providers.MangaDexAPIKey, mangadex.WithLogger(logger))
	deps := ui.Dependencies{
		Source:    source,
		Directory: library.NewDirectory(source, library.DefaultTTL, logger),
		Logger:    logger,
	}

	if images, err := preview.DefaultCache(); err != nil {
		logger.Warn("image cache unavailable", "error", err)
	} else {
		deps.Images = images
	}

	if store, err := openHistory(cfg); err != nil {
		logger.Warn("reading history unavailable", "error", err)
	} else {
		deps.History = store
	}

	baseURL, err := cfg.BaseURL()
	if err != nil {
		return deps, err
	}
	deps.BooxClient = boox.NewClient(baseURL, httpClient, boox.WithLogger(logger))
	return deps, nil
}

func openHistory(cfg config.Config) (*history.Store, error) {
	path, err := cfg.ResolveHistoryPath()
	if err != nil {
		return nil, err
	}
	store, err := history.Open(path)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", path, err)
	}
	return store, nil
}
