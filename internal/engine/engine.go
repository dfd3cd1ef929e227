// Package engine performs one location-read-and-report attempt per trigger.
//
// The engine is stateless between invocations and safe to run as
// overlapping instances: each call reads the store, acquires its own
// position fix, and makes its own network call.
//
// Failure semantics are a considered split: "no data to send" (no
// identity, no position) is not a failure and returns nil after a log
// line; "send failed" (transport error, rejected response) returns an
// error so the invoking trigger can observe it and let the next wake-up
// retry. The engine itself never retries.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/taplok/taplok/internal/position"
	"github.com/taplok/taplok/internal/store"
)

// defaultDeviceInfo substitutes for a stored record without device details.
const defaultDeviceInfo = "Dispositivo desconhecido"

// ErrRemoteRejected indicates the remote endpoint answered with a
// non-success status.
var ErrRemoteRejected = errors.New("remote endpoint rejected location update")

// Outcome describes a successful sync, as broadcast to clients.
type Outcome struct {
	Timestamp time.Time
	Latitude  float64
	Longitude float64
}

// Broadcaster delivers sync outcomes to connected foreground clients.
type Broadcaster interface {
	BroadcastSynced(Outcome)
}

// Config holds engine dependencies.
type Config struct {
	// Store provides the identity record.
	Store *store.Store

	// Position provides position fixes; callers typically pass a
	// position.Cached wrapping the real source.
	Position position.Reader

	// Endpoint is the remote URL location updates are POSTed to.
	Endpoint string

	// Client performs the POST. Defaults to http.DefaultClient.
	Client *http.Client

	// Bus receives success outcomes. May be nil (one-shot CLI runs).
	Bus Broadcaster

	// Logger for sync activity. Defaults to a stderr logger.
	Logger *log.Logger
}

// Engine performs sync attempts.
type Engine struct {
	store    *store.Store
	position position.Reader
	endpoint string
	client   *http.Client
	bus      Broadcaster
	logger   *log.Logger
}

// New creates a sync engine.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Position == nil {
		return nil, fmt.Errorf("position reader cannot be nil")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	return &Engine{
		store:    cfg.Store,
		position: cfg.Position,
		endpoint: cfg.Endpoint,
		client:   client,
		bus:      cfg.Bus,
		logger:   logger,
	}, nil
}

// locationUpdate is the wire shape of one location report.
type locationUpdate struct {
	TagUID     string `json:"tagUid"`
	Latitude   string `json:"latitude"`
	Longitude  string `json:"longitude"`
	Accuracy   int    `json:"accuracy"`
	DeviceInfo string `json:"deviceInfo"`
}

// Sync performs a single sync attempt: identity gate, bounded position
// read, one POST, success broadcast.
func (e *Engine) Sync(ctx context.Context) error {
	rec, err := e.store.Identity(ctx)
	if err != nil {
		// Soft-fail read contract: a broken store means no identity.
		e.logger.Printf("Identity read failed, skipping sync: %v", err)
		return nil
	}
	if rec == nil || rec.TagUID == "" {
		// Device was never bound to a tag; nothing to do.
		return nil
	}

	fix, err := e.position.Current(ctx)
	if err != nil {
		e.logger.Printf("Position acquisition failed, skipping sync: %v", err)
		return nil
	}

	deviceInfo := rec.DeviceInfo
	if deviceInfo == "" {
		deviceInfo = defaultDeviceInfo
	}

	update := locationUpdate{
		TagUID:     rec.TagUID,
		Latitude:   strconv.FormatFloat(fix.Latitude, 'f', -1, 64),
		Longitude:  strconv.FormatFloat(fix.Longitude, 'f', -1, 64),
		Accuracy:   int(math.Round(fix.Accuracy)),
		DeviceInfo: deviceInfo,
	}

	if err := e.post(ctx, update); err != nil {
		e.logger.Printf("Location update failed: %v", err)
		return err
	}

	e.logger.Printf("Location synced for tag %s (%s, %s)", rec.TagUID, update.Latitude, update.Longitude)

	if e.bus != nil {
		e.bus.BroadcastSynced(Outcome{
			Timestamp: time.Now().UTC(),
			Latitude:  fix.Latitude,
			Longitude: fix.Longitude,
		})
	}

	return nil
}

// post submits the update to the remote endpoint. Exactly one attempt.
func (e *Engine) post(ctx context.Context, update locationUpdate) error {
	body, err := json.Marshal(struct {
		JSON locationUpdate `json:"json"`
	}{JSON: update})
	if err != nil {
		return fmt.Errorf("failed to encode location update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build location update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("location update transport failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrRemoteRejected, resp.StatusCode)
	}

	return nil
}
