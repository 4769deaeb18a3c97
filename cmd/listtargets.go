// Package cmd holds the cobra subcommands.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/direttanode/internal/diretta"
)

// CreateListTargetsCmd creates the list-targets command.
func CreateListTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-targets",
		Short: "List Diretta targets on the network and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return diretta.ListTargets(os.Stdout)
		},
	}
}
