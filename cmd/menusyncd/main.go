// menusyncd is an operator CLI for the menu change-feed subsystem: it can
// probe connectivity, show the aggregate connection status, and tail live
// change events from a venue's menu tables.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "menusyncd",
		Short: "Realtime menu sync daemon and diagnostics",
		Long: `menusyncd connects to the menu change feed and keeps a local snapshot
cache in sync. Subcommands probe connectivity, report connection status
and quality, and tail live change events.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "path to a YAML options file")
	rootCmd.PersistentFlags().String("pg", "", "PostgreSQL connection string for the LISTEN/NOTIFY feed")
	rootCmd.PersistentFlags().String("ws", "", "WebSocket feed gateway URL (takes precedence over --pg)")
	rootCmd.PersistentFlags().String("db", "menusync.db", "path to the local snapshot cache")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(tailCmd())
	rootCmd.AddCommand(checkCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
