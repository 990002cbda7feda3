package cli

import (
	"fmt"
	"io"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ssh-vom/boox-reader/internal/config"
	"github.com/ssh-vom/boox-reader/internal/ui"
)

func runTUI(opts *RootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger, logs := tuiLogger(cfg)
	slog.SetDefault(logger)

	httpClient := newHTTPClient()
	deps, startupErr := buildDependencies(cfg, httpClient, logger)
	rebuild := func(cfg config.Config) (ui.Dependencies, error) {
		return buildDependencies(cfg, httpClient, logger)
	}

	program := tea.NewProgram(ui.NewModel(cfg, deps, rebuild, logs, startupErr), tea.WithAltScreen())
	final, err := program.Run()
	if closer, ok := final.(io.Closer); ok {
		if closeErr := closer.Close(); closeErr != nil {
			logger.Warn("closing reader failed", "error", closeErr)
		}
	}
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// tuiLogger keeps log output off the terminal the TUI draws on. Verbose
// logs go to the log pane instead.
func tuiLogger(cfg config.Config) (*slog.Logger, *ui.LogSink) {
	if !cfg.Verbose {
		return slog.New(slog.DiscardHandler), nil
	}
	logs := ui.NewLogSink()
	return slog.New(logs.Handler(cfg.LogLevel())), logs
}
