package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "autoclose",
		Short: "Close futures positions when their unrealized P&L crosses a threshold",
		Long: `autoclose polls a futures account and closes every position whose
unrealized P&L reaches the configured take-profit or stop-loss.

Settings come from config.yaml in the --config directory, a .env file
and AUTOCLOSE_* environment variables.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config", "directory containing config.yaml")

	root.AddCommand(
		newRunCmd(),
		newCheckCmd(),
		newCloseAllCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("autoclose %s\n", version)
		},
	}
}
