package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taplok/taplok/internal/store"
	"github.com/taplok/taplok/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show worker state",
	Long: `Display the stored tag identity and the shell cache state.

Shows:
  - Identity store location and stored tag
  - Active shell generation and any stale generations`,
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

		fmt.Printf("\n%s Identity store: %s\n", ui.RenderAccent("●"), st.Path())

		rec, err := st.Identity(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading identity: %v\n", err)
			os.Exit(1)
		}
		if rec == nil {
			fmt.Printf("   %s No tag identity stored; syncs are inactive\n", ui.RenderWarn("⚠"))
		} else if rec.TagUID == "" {
			fmt.Printf("   %s Identity present but tag is empty; syncs are inactive\n", ui.RenderWarn("⚠"))
		} else {
			fmt.Printf("   %s Tag: %s\n", ui.RenderPass("✓"), rec.TagUID)
			if rec.DeviceInfo != "" {
				fmt.Printf("   Device: %s\n", rec.DeviceInfo)
			}
		}

		shell, err := newShellManager(cfg, newLogger(cfg, "[shellcache] "))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error building shell cache: %v\n", err)
			os.Exit(1)
		}
		if shell == nil {
			fmt.Printf("\n%s Shell cache disabled (no origin_url)\n\n", ui.RenderWarn("⚠"))
			return
		}

		fmt.Printf("\n%s Shell cache: %s\n", ui.RenderAccent("●"), cfg.CacheDir)

		gens, err := shell.Generations()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing generations: %v\n", err)
			os.Exit(1)
		}
		if len(gens) == 0 {
			fmt.Printf("   %s No generations installed; run 'taplokd cache install'\n", ui.RenderWarn("⚠"))
		}
		current := shell.Tag()
		for _, g := range gens {
			if g == current {
				fmt.Printf("   %s %s (active)\n", ui.RenderPass("✓"), g)
			} else {
				fmt.Printf("   %s %s (stale)\n", ui.RenderWarn("⚠"), g)
			}
		}
		fmt.Println()
	},
}
