package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/taplok/taplok/internal/shellcache"
	"github.com/taplok/taplok/internal/ui"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Shell cache management",
	Long: `Manage the on-disk shell asset cache.

The cache holds one directory per manifest version. Install fetches the
assets named by the manifest into a fresh generation; gc deletes every
generation other than the current one.`,
}

var cacheInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the shell generation named by the manifest",
	Run: func(cmd *cobra.Command, args []string) {
		shell := mustShellManager()

		fmt.Printf("%s Installing shell generation %s...\n", ui.RenderAccent("→"), shell.Tag())
		start := time.Now()

		if err := shell.Install(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "%s Install failed: %v\n", ui.RenderFail("✗"), err)
			os.Exit(1)
		}

		fmt.Printf("%s Installed %s in %v\n", ui.RenderPass("✓"), shell.Tag(), time.Since(start).Round(time.Millisecond))
	},
}

var cacheGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete all stale shell generations",
	Run: func(cmd *cobra.Command, args []string) {
		shell := mustShellManager()

		if err := shell.Activate(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "%s Cleanup failed: %v\n", ui.RenderFail("✗"), err)
			os.Exit(1)
		}

		gens, err := shell.Generations()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing generations: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s Cache clean; %d generation(s) remain\n", ui.RenderPass("✓"), len(gens))
	},
}

func init() {
	cacheCmd.AddCommand(cacheInstallCmd)
	cacheCmd.AddCommand(cacheGCCmd)
}

// mustShellManager builds the cache manager or exits with a message.
func mustShellManager() *shellcache.Manager {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	shell, err := newShellManager(cfg, newLogger(cfg, "[shellcache] "))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building shell cache: %v\n", err)
		os.Exit(1)
	}
	if shell == nil {
		fmt.Fprintf(os.Stderr, "Error: shell cache disabled, set origin_url\n")
		os.Exit(1)
	}
	if shell.Tag() == "" {
		fmt.Fprintf(os.Stderr, "Error: no manifest loaded, set manifest_path\n")
		os.Exit(1)
	}
	return shell
}
