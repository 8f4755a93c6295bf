package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fleetsync/internal/dispatch"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // overrides store.path from the config file

	// TraceGenerator allows overriding the navigation trace generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	TraceGenerator dispatch.TraceGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the fleetsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fleetsync",
		Short: "fleetsync - machine and fleet synchronization from deep links",
		Long: `Resolve scanned deep links into local machine state, keep reference
datasets current, and provision multi-machine fleets from remote descriptors.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the local store (overrides store.path)")

	cmd.AddCommand(NewResolveCommand(opts))
	cmd.AddCommand(NewOpenCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewProvisionCommand(opts))
	cmd.AddCommand(NewMachinesCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
