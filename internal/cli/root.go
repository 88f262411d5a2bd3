// Package cli is the blue-callbacks command line.
package cli

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "blue.yaml"

func Run(args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.Execute()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "blue-callbacks",
		Short:         "PayPoint Blue callback receiver and gateway tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newServeCmd(),
		newCheckCmd(),
		newCryptoCmd(),
		newVersionCmd(),
	)
	return cmd
}
