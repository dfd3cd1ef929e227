package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/taplok/taplok/internal/engine"
	"github.com/taplok/taplok/internal/store"
	"github.com/taplok/taplok/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one location sync and exit",
	Long: `Attempt a single location sync against the configured backend.

Exits zero when the sync succeeds or when there is nothing to sync (no
stored tag identity). Exits non-zero when the backend rejects the
update or cannot be reached.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		st, err := store.Open(cfg.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening identity store: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		pos, err := newPositionReader(cfg, newLogger(cfg, "[position] "))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		eng, err := engine.New(&engine.Config{
			Store:    st,
			Position: pos,
			Endpoint: cfg.RemoteEndpoint,
			Logger:   newLogger(cfg, "[sync] "),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error building sync engine: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Syncing location to %s...\n", ui.RenderAccent("→"), cfg.RemoteEndpoint)
		start := time.Now()

		if err := eng.Sync(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "%s Sync failed: %v\n", ui.RenderFail("✗"), err)
			os.Exit(1)
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
	},
}
