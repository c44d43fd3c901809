package main

import (
	"github.com/spf13/cobra"

	"github.com/prepline/prepline/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Prepline CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prepline",
		Short: "Prepline - kitchen operations auth service",
		Long: `Prepline serves the authentication and identity subsystem of the
kitchen-operations platform: password login, signed session tokens,
external identity login, and role-gated account administration.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			// Fall back to the XDG config file when --config is not given.
			if configFile == "" {
				configFile = xdg.DefaultConfigFile()
			}
		},
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
