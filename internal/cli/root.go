// Package cli holds the notifyd cobra commands.
package cli

import (
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X notifyd/internal/cli.version=...".
var version = "dev"

func Execute() error {
	return NewRootCmd().Execute()
}

func NewRootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:           "notifyd",
		Short:         "Conflict-avoiding notification scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "./notifyd.yaml", "path to config file (json|yaml)")

	cmd.AddCommand(newServeCmd(&cfgPath))
	cmd.AddCommand(newCheckCmd(&cfgPath))
	cmd.AddCommand(newSimulateCmd())
	cmd.AddCommand(newVersionCmd())

	cmd.Run = func(cmd *cobra.Command, args []string) { _ = cmd.Help() }
	return cmd
}
