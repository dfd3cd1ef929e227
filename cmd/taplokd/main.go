// taplokd is the device-resident background worker for taplok venue
// check-in. It keeps the app shell cached locally, stores the device's
// tag identity, and reports the device position to the taplok backend
// on demand and on a schedule.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "taplokd",
	Short: "Background location sync worker for taplok",
	Long: `taplokd runs the taplok background worker on the device.

It serves the cached app shell to local clients, accepts sync triggers
over a websocket bus, reads the device position, and posts location
updates to the taplok backend.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (YAML)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
