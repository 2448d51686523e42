package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luigi-project/hearth/system"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the current executable version and exits.",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Printf("hearth v%s\n", system.Version)
		},
	}
}
