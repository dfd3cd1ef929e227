// Package daemon dispatches sync triggers for the background worker.
//
// The daemon:
// 1. Installs the shell asset cache and keeps it current with the manifest
// 2. Queues triggers from clients, push events, and a periodic timer
// 3. Runs the sync engine for triggers carrying a recognized tag
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/taplok/taplok/internal/bus"
	"github.com/taplok/taplok/internal/notify"
	"github.com/taplok/taplok/internal/shellcache"
	"github.com/taplok/taplok/internal/store"
)

// TriggerKind classifies where a trigger came from.
type TriggerKind int

const (
	// KindSync is a one-shot sync request carrying a tag.
	KindSync TriggerKind = iota

	// KindPeriodic is a recurring sync request carrying a tag.
	KindPeriodic

	// KindMessage is a message from a foreground client.
	KindMessage

	// KindPush is a push event.
	KindPush
)

// Trigger is one queued unit of work for the dispatcher.
type Trigger struct {
	Kind    TriggerKind
	Tag     string
	Message bus.ClientMessage
	Push    bus.PushPayload
}

// Syncer runs one location sync attempt.
type Syncer interface {
	Sync(ctx context.Context) error
}

// Config holds configuration for the daemon.
type Config struct {
	// SyncTag is the tag one-shot sync triggers must carry.
	SyncTag string

	// PeriodicTag is the tag periodic sync triggers must carry.
	PeriodicTag string

	// PeriodicInterval is how often the periodic trigger fires.
	// Zero disables periodic syncs.
	PeriodicInterval time.Duration

	// ManifestPath, when set, is watched for shell manifest changes.
	ManifestPath string

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncTag:          "location-sync",
		PeriodicTag:      "location-update",
		PeriodicInterval: 15 * time.Minute,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates cache upkeep and trigger dispatch.
type Daemon struct {
	store    *store.Store
	syncer   Syncer
	cache    *shellcache.Manager
	notifier notify.Notifier
	config   *Config

	watcher  *fsnotify.Watcher
	triggers chan Trigger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - st: identity store
//   - syncer: the sync engine
//
// cache and notifier are optional; a nil cache skips shell upkeep and a
// nil notifier drops push notifications. Use Start() to begin dispatching.
func New(st *store.Store, syncer Syncer, cache *shellcache.Manager, notifier notify.Notifier, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:    st,
		syncer:   syncer,
		cache:    cache,
		notifier: notifier,
		config:   config,
		triggers: make(chan Trigger, 16),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Install and activate the current shell generation
// 2. Watch the manifest for shell updates
// 3. Fire periodic sync triggers
// 4. Dispatch queued triggers
//
// This blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	// A failed install is not fatal: the proxy still serves from origin
	// and the next manifest change retries.
	d.refreshShell()

	if d.cache != nil && d.config.ManifestPath != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		d.watcher = watcher

		// Watch the directory: editors replace the file, which would
		// drop a watch on the file itself.
		if err := watcher.Add(filepath.Dir(d.config.ManifestPath)); err != nil {
			return fmt.Errorf("failed to watch manifest directory: %w", err)
		}
		d.config.Logger.Printf("Watching manifest: %s", d.config.ManifestPath)

		d.wg.Add(1)
		go d.watchManifest()
	}

	if d.config.PeriodicInterval > 0 {
		d.wg.Add(1)
		go d.periodicLoop()
	}

	d.wg.Add(1)
	go d.dispatchLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Enqueue queues a trigger without blocking. Triggers arriving while
// the queue is full are dropped; the periodic timer covers the gap.
func (d *Daemon) Enqueue(t Trigger) {
	select {
	case d.triggers <- t:
	default:
		d.config.Logger.Println("Warning: trigger queue full, dropping trigger")
	}
}

// dispatchLoop consumes triggers until shutdown.
func (d *Daemon) dispatchLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case t := <-d.triggers:
			d.dispatch(t)
		}
	}
}

// dispatch routes one trigger. Unknown tags and message types are
// ignored without error.
func (d *Daemon) dispatch(t Trigger) {
	switch t.Kind {
	case KindSync:
		if t.Tag != d.config.SyncTag {
			d.config.Logger.Printf("Ignoring sync trigger with tag %q", t.Tag)
			return
		}
		d.runSync()

	case KindPeriodic:
		if t.Tag != d.config.PeriodicTag {
			d.config.Logger.Printf("Ignoring periodic trigger with tag %q", t.Tag)
			return
		}
		d.runSync()

	case KindMessage:
		d.handleMessage(t.Message)

	case KindPush:
		d.handlePush(t.Push)
	}
}

// runSync executes one sync attempt. Failures are logged and left to
// the periodic timer to retry.
func (d *Daemon) runSync() {
	if err := d.syncer.Sync(d.ctx); err != nil {
		d.config.Logger.Printf("Sync failed: %v", err)
	}
}

// handleMessage routes a client message.
func (d *Daemon) handleMessage(msg bus.ClientMessage) {
	switch msg.Type {
	case bus.MsgStoreUserData:
		if msg.UserData == nil {
			d.config.Logger.Println("Ignoring STORE_USER_DATA without user data")
			return
		}
		if err := d.store.SaveIdentity(d.ctx, msg.UserData); err != nil {
			d.config.Logger.Printf("Failed to save identity: %v", err)
			return
		}
		d.config.Logger.Printf("Identity stored for tag %s", msg.UserData.TagUID)

	case bus.MsgTriggerSync:
		d.runSync()

	default:
		d.config.Logger.Printf("Ignoring client message type %q", msg.Type)
	}
}

// handlePush shows a notification for a push event, filling in default
// text for absent fields. Showing blocks on user interaction, so it
// runs off the dispatch loop.
func (d *Daemon) handlePush(p bus.PushPayload) {
	if d.notifier == nil {
		return
	}

	title := p.Title
	if title == "" {
		title = notify.DefaultTitle
	}
	body := p.Body
	if body == "" {
		body = notify.DefaultBody
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.notifier.Show(d.ctx, title, body); err != nil {
			d.config.Logger.Printf("Failed to show notification: %v", err)
		}
	}()
}

// periodicLoop fires the recurring sync trigger.
func (d *Daemon) periodicLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.PeriodicInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.Enqueue(Trigger{Kind: KindPeriodic, Tag: d.config.PeriodicTag})
		}
	}
}

// watchManifest reinstalls the shell when the manifest changes.
func (d *Daemon) watchManifest() {
	defer d.wg.Done()

	target := filepath.Clean(d.config.ManifestPath)

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != target {
				continue
			}

			d.config.Logger.Printf("Manifest event: %s %s", event.Op, event.Name)
			d.refreshShell()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// refreshShell reloads the manifest and swaps in a new generation.
// Install failure keeps the previous generation serving.
func (d *Daemon) refreshShell() {
	if d.cache == nil {
		return
	}

	if d.config.ManifestPath != "" {
		m, err := shellcache.LoadManifest(d.config.ManifestPath)
		if err != nil {
			d.config.Logger.Printf("Failed to load manifest: %v", err)
			return
		}
		d.cache.SetManifest(m)
	}

	if err := d.cache.Install(d.ctx); err != nil {
		d.config.Logger.Printf("Shell install failed: %v", err)
		return
	}
	if err := d.cache.Activate(d.ctx); err != nil {
		d.config.Logger.Printf("Shell activation failed: %v", err)
		return
	}
	d.config.Logger.Printf("Shell generation %s active", d.cache.Tag())
}
