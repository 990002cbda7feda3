// Package cli wires configuration, providers and the reader into the
// boox-reader commands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssh-vom/boox-reader/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
}

// NewRootCommand runs the TUI by default.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "boox-reader",
		Short: "Read manga in the terminal and send chapters to a Boox tablet",
		Long: `boox-reader searches MangaDex, reads chapters page by page in the
terminal and uploads them to a Boox tablet as CBZ files.

Run without a subcommand to start the interactive reader.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(opts)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "show verbose logs")
	cmd.AddCommand(NewFetchCommand(opts))

	return cmd
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return cfg, fmt.Errorf("error loading config: %w", err)
	}
	if opts.Verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}
