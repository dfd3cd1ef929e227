package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/taplok/taplok/internal/position"
	"github.com/taplok/taplok/internal/store"
)

// recordingBus captures broadcast outcomes.
type recordingBus struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (b *recordingBus) BroadcastSynced(o Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outcomes = append(b.outcomes, o)
}

func (b *recordingBus) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.outcomes)
}

// failingReader always fails position acquisition.
type failingReader struct{}

func (failingReader) Current(ctx context.Context) (*position.Fix, error) {
	return nil, context.DeadlineExceeded
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestEngine(t *testing.T, s *store.Store, pos position.Reader, endpoint string, bus Broadcaster) *Engine {
	t.Helper()

	e, err := New(&Config{
		Store:    s,
		Position: pos,
		Endpoint: endpoint,
		Bus:      bus,
		Logger:   log.New(os.Stderr, "[test] ", 0),
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return e
}

func TestSyncReportsLocation(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
		body  []byte
	)
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		body, _ = io.ReadAll(r.Body)
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
	}))
	defer remote.Close()

	s := setupTestStore(t)
	ctx := context.Background()
	if err := s.SaveIdentity(ctx, &store.Identity{TagUID: "A1", DeviceInfo: "dev"}); err != nil {
		t.Fatalf("SaveIdentity failed: %v", err)
	}

	bus := &recordingBus{}
	e := newTestEngine(t, s, position.NewFixed(10.0, 20.0, 5.3), remote.URL, bus)

	if err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly 1 POST, got %d", calls)
	}

	var req struct {
		JSON struct {
			TagUID     string `json:"tagUid"`
			Latitude   string `json:"latitude"`
			Longitude  string `json:"longitude"`
			Accuracy   int    `json:"accuracy"`
			DeviceInfo string `json:"deviceInfo"`
		} `json:"json"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("failed to decode request body %q: %v", body, err)
	}
	if req.JSON.TagUID != "A1" {
		t.Errorf("tagUid = %q, want A1", req.JSON.TagUID)
	}
	if req.JSON.Latitude != "10" || req.JSON.Longitude != "20" {
		t.Errorf("coordinates = %q/%q, want 10/20", req.JSON.Latitude, req.JSON.Longitude)
	}
	if req.JSON.Accuracy != 5 {
		t.Errorf("accuracy = %d, want 5", req.JSON.Accuracy)
	}
	if req.JSON.DeviceInfo != "dev" {
		t.Errorf("deviceInfo = %q, want dev", req.JSON.DeviceInfo)
	}

	if bus.len() != 1 {
		t.Fatalf("expected 1 broadcast, got %d", bus.len())
	}
	got := bus.outcomes[0]
	if got.Latitude != 10.0 || got.Longitude != 20.0 {
		t.Errorf("broadcast coordinates %v/%v, want 10/20", got.Latitude, got.Longitude)
	}
	if got.Timestamp.IsZero() {
		t.Error("broadcast timestamp not set")
	}
}

func TestSyncWithoutIdentityMakesNoNetworkCall(t *testing.T) {
	var calls int
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer remote.Close()

	s := setupTestStore(t)
	bus := &recordingBus{}
	e := newTestEngine(t, s, position.NewFixed(1, 2, 3), remote.URL, bus)

	if err := e.Sync(context.Background()); err != nil {
		t.Fatalf("Sync must be a silent no-op without identity, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no network call, got %d", calls)
	}
	if bus.len() != 0 {
		t.Errorf("expected no broadcast, got %d", bus.len())
	}
}

func TestSyncWithoutTagUIDMakesNoNetworkCall(t *testing.T) {
	var calls int
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer remote.Close()

	s := setupTestStore(t)
	ctx := context.Background()
	if err := s.SaveIdentity(ctx, &store.Identity{TagUID: "", DeviceInfo: "dev"}); err != nil {
		t.Fatalf("SaveIdentity failed: %v", err)
	}

	e := newTestEngine(t, s, position.NewFixed(1, 2, 3), remote.URL, nil)
	if err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync must be a silent no-op without a tag, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no network call, got %d", calls)
	}
}

func TestSyncPositionFailureAborts(t *testing.T) {
	var calls int
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer remote.Close()

	s := setupTestStore(t)
	ctx := context.Background()
	if err := s.SaveIdentity(ctx, &store.Identity{TagUID: "A1"}); err != nil {
		t.Fatalf("SaveIdentity failed: %v", err)
	}

	bus := &recordingBus{}
	e := newTestEngine(t, s, failingReader{}, remote.URL, bus)

	// Position failure is log-only: no error, no call, no broadcast.
	if err := e.Sync(ctx); err != nil {
		t.Fatalf("expected nil error on position failure, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no network call, got %d", calls)
	}
	if bus.len() != 0 {
		t.Errorf("expected no broadcast, got %d", bus.len())
	}
}

func TestSyncRemoteRejection(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer remote.Close()

	s := setupTestStore(t)
	ctx := context.Background()
	if err := s.SaveIdentity(ctx, &store.Identity{TagUID: "A1"}); err != nil {
		t.Fatalf("SaveIdentity failed: %v", err)
	}

	bus := &recordingBus{}
	e := newTestEngine(t, s, position.NewFixed(1, 2, 3), remote.URL, bus)

	err := e.Sync(ctx)
	if !errors.Is(err, ErrRemoteRejected) {
		t.Fatalf("expected ErrRemoteRejected, got %v", err)
	}
	if bus.len() != 0 {
		t.Errorf("failure must not be broadcast, got %d messages", bus.len())
	}
}

func TestSyncTransportFailure(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	if err := s.SaveIdentity(ctx, &store.Identity{TagUID: "A1"}); err != nil {
		t.Fatalf("SaveIdentity failed: %v", err)
	}

	bus := &recordingBus{}
	// Closed port: the POST itself fails.
	e := newTestEngine(t, s, position.NewFixed(1, 2, 3), "http://127.0.0.1:1/api/location.update", bus)

	if err := e.Sync(ctx); err == nil {
		t.Fatal("expected transport error")
	}
	if bus.len() != 0 {
		t.Errorf("failure must not be broadcast, got %d messages", bus.len())
	}
}

func TestSyncDeviceInfoFallback(t *testing.T) {
	var body []byte
	var mu sync.Mutex
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		body, _ = io.ReadAll(r.Body)
		mu.Unlock()
	}))
	defer remote.Close()

	s := setupTestStore(t)
	ctx := context.Background()
	if err := s.SaveIdentity(ctx, &store.Identity{TagUID: "A1"}); err != nil {
		t.Fatalf("SaveIdentity failed: %v", err)
	}

	e := newTestEngine(t, s, position.NewFixed(1, 2, 3), remote.URL, nil)
	if err := e.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	var req struct {
		JSON struct {
			DeviceInfo string `json:"deviceInfo"`
		} `json:"json"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if req.JSON.DeviceInfo != defaultDeviceInfo {
		t.Errorf("deviceInfo = %q, want placeholder %q", req.JSON.DeviceInfo, defaultDeviceInfo)
	}
}

func TestSyncOverlappingInstances(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(10 * time.Millisecond)
	}))
	defer remote.Close()

	s := setupTestStore(t)
	ctx := context.Background()
	if err := s.SaveIdentity(ctx, &store.Identity{TagUID: "A1"}); err != nil {
		t.Fatalf("SaveIdentity failed: %v", err)
	}

	bus := &recordingBus{}
	e := newTestEngine(t, s, position.NewFixed(1, 2, 3), remote.URL, bus)

	errCh := make(chan error, 2)
	go func() { errCh <- e.Sync(ctx) }()
	go func() { errCh <- e.Sync(ctx) }()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Errorf("overlapping sync %d failed: %v", i+1, err)
		}
	}
	if bus.len() != 2 {
		t.Errorf("expected 2 broadcasts, got %d", bus.len())
	}
}
