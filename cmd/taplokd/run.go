package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taplok/taplok/internal/bus"
	"github.com/taplok/taplok/internal/daemon"
	"github.com/taplok/taplok/internal/engine"
	"github.com/taplok/taplok/internal/notify"
	"github.com/taplok/taplok/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the background worker",
	Long: `Run the taplok background worker.

The worker:
  1. Opens the identity store and installs the current shell generation
  2. Serves the shell and the client websocket bus on one local address
  3. Dispatches sync triggers from clients, push events, and a timer
  4. Posts location updates to the configured backend

Press Ctrl+C to stop.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		logger := newLogger(cfg, "[taplokd] ")

		st, err := store.Open(cfg.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening identity store: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		shell, err := newShellManager(cfg, newLogger(cfg, "[shellcache] "))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error building shell cache: %v\n", err)
			os.Exit(1)
		}

		pos, err := newPositionReader(cfg, newLogger(cfg, "[position] "))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		// The daemon does not exist yet when the bus callbacks are
		// built; they capture the variable and run only after Start.
		var d *daemon.Daemon

		var shellHandler http.Handler
		if shell != nil {
			shellHandler = shell.Handler()
		}

		server, err := bus.NewServer(&bus.Config{
			Addr:  cfg.ListenAddr,
			Shell: shellHandler,
			OnMessage: func(msg bus.ClientMessage) {
				d.Enqueue(daemon.Trigger{Kind: daemon.KindMessage, Message: msg})
			},
			OnPush: func(p bus.PushPayload) {
				d.Enqueue(daemon.Trigger{Kind: daemon.KindPush, Push: p})
			},
			Logger: newLogger(cfg, "[bus] "),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error building client bus: %v\n", err)
			os.Exit(1)
		}

		eng, err := engine.New(&engine.Config{
			Store:    st,
			Position: pos,
			Endpoint: cfg.RemoteEndpoint,
			Bus:      server,
			Logger:   newLogger(cfg, "[sync] "),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error building sync engine: %v\n", err)
			os.Exit(1)
		}

		host := cfg.ListenAddr
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		notifier := notify.NewDesktop("http://"+host+cfg.AppPath, newLogger(cfg, "[notify] "))

		dcfg := daemon.DefaultConfig()
		dcfg.SyncTag = cfg.SyncTag
		dcfg.PeriodicTag = cfg.PeriodicTag
		dcfg.PeriodicInterval = cfg.PeriodicInterval
		dcfg.ManifestPath = cfg.ManifestPath
		dcfg.Logger = newLogger(cfg, "[daemon] ")

		d, err = daemon.New(st, eng, shell, notifier, dcfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error building daemon: %v\n", err)
			os.Exit(1)
		}

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting client bus: %v\n", err)
			os.Exit(1)
		}

		logger.Printf("taplokd listening on %s", server.Addr())

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error running daemon: %v\n", err)
			os.Exit(1)
		}

		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}

		logger.Println("taplokd stopped")
	},
}
