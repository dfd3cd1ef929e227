package shellcache

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

// newTestOrigin serves a fixed set of shell assets and counts hits.
func newTestOrigin(t *testing.T, assets map[string]string) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, ok := assets[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv, &hits
}

func newTestManager(t *testing.T, originURL, cacheDir string, man *Manifest) *Manager {
	t.Helper()

	m, err := New(&Config{
		OriginURL: originURL,
		CacheDir:  cacheDir,
		Logger:    log.New(os.Stderr, "[test] ", 0),
	})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	if man != nil {
		m.SetManifest(man)
	}
	return m
}

func TestInstallPopulatesGeneration(t *testing.T) {
	origin, _ := newTestOrigin(t, map[string]string{
		"/":          "<html>shell</html>",
		"/app.js":    "console.log('app')",
		"/style.css": "body{}",
	})

	cacheDir := t.TempDir()
	man := &Manifest{Version: "shell-v1", Assets: []string{"/", "/app.js", "/style.css"}}
	m := newTestManager(t, origin.URL, cacheDir, man)

	if err := m.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	for _, f := range []string{"index.html", "app.js", "style.css"} {
		if _, err := os.Stat(filepath.Join(cacheDir, "shell-v1", f)); err != nil {
			t.Errorf("expected cached asset %s: %v", f, err)
		}
	}
}

func TestInstallIsAtomic(t *testing.T) {
	// /missing.js is not served by the origin, so install must fail
	// without publishing a generation.
	origin, _ := newTestOrigin(t, map[string]string{
		"/app.js": "console.log('app')",
	})

	cacheDir := t.TempDir()
	man := &Manifest{Version: "shell-v2", Assets: []string{"/app.js", "/missing.js"}}
	m := newTestManager(t, origin.URL, cacheDir, man)

	if err := m.Install(context.Background()); err == nil {
		t.Fatal("expected Install to fail on missing asset")
	}

	if _, err := os.Stat(filepath.Join(cacheDir, "shell-v2")); !os.IsNotExist(err) {
		t.Errorf("partial generation must not be published, stat err = %v", err)
	}

	tags, err := m.Generations()
	if err != nil {
		t.Fatalf("Generations failed: %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("expected no generations after failed install, got %v", tags)
	}
}

func TestInstallFailureKeepsPreviousGeneration(t *testing.T) {
	origin, _ := newTestOrigin(t, map[string]string{"/app.js": "v1"})

	cacheDir := t.TempDir()
	m := newTestManager(t, origin.URL, cacheDir, &Manifest{Version: "v1", Assets: []string{"/app.js"}})

	if err := m.Install(context.Background()); err != nil {
		t.Fatalf("initial Install failed: %v", err)
	}

	m.SetManifest(&Manifest{Version: "v2", Assets: []string{"/gone.js"}})
	if err := m.Install(context.Background()); err == nil {
		t.Fatal("expected second Install to fail")
	}

	if _, err := os.Stat(filepath.Join(cacheDir, "v1", "app.js")); err != nil {
		t.Errorf("previous generation must survive a failed install: %v", err)
	}
}

func TestActivateEvictsStaleGenerations(t *testing.T) {
	cacheDir := t.TempDir()
	for _, gen := range []string{"v1", "v2-current"} {
		if err := os.MkdirAll(filepath.Join(cacheDir, gen), 0755); err != nil {
			t.Fatalf("failed to create generation %s: %v", gen, err)
		}
	}

	m := newTestManager(t, "http://origin.invalid", cacheDir,
		&Manifest{Version: "v2-current"})

	if err := m.Activate(context.Background()); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(cacheDir, "v1")); !os.IsNotExist(err) {
		t.Errorf("expected v1 to be evicted, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(cacheDir, "v2-current")); err != nil {
		t.Errorf("current generation must never be deleted: %v", err)
	}
}

func TestHandlerCacheFirst(t *testing.T) {
	origin, hits := newTestOrigin(t, map[string]string{"/app.js": "from-origin"})

	cacheDir := t.TempDir()
	man := &Manifest{Version: "v1", Assets: []string{"/app.js"}}
	m := newTestManager(t, origin.URL, cacheDir, man)

	if err := m.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	installHits := hits.Load()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/app.js")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if string(body) != "from-origin" {
		t.Errorf("unexpected body %q", body)
	}
	if hits.Load() != installHits {
		t.Errorf("cached GET must not reach the origin (hits %d -> %d)", installHits, hits.Load())
	}
}

func TestHandlerMissFallsThrough(t *testing.T) {
	origin, hits := newTestOrigin(t, map[string]string{"/uncached.js": "live"})

	m := newTestManager(t, origin.URL, t.TempDir(), &Manifest{Version: "v1"})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/uncached.js")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if string(body) != "live" {
		t.Errorf("unexpected body %q", body)
	}
	if hits.Load() != 1 {
		t.Errorf("expected exactly one origin hit, got %d", hits.Load())
	}

	// The fetch handler never writes back: a second miss hits the origin again.
	resp2, err := http.Get(srv.URL + "/uncached.js")
	if err != nil {
		t.Fatalf("second GET failed: %v", err)
	}
	resp2.Body.Close()
	if hits.Load() != 2 {
		t.Errorf("expected no cache fill on miss, origin hits = %d", hits.Load())
	}
}

func TestHandlerNeverInterceptsAPIOrNonGET(t *testing.T) {
	origin, hits := newTestOrigin(t, map[string]string{
		"/api/status": "api-live",
		"/app.js":     "origin-app",
	})

	cacheDir := t.TempDir()
	m := newTestManager(t, origin.URL, cacheDir, &Manifest{Version: "v1", Assets: []string{"/app.js"}})
	if err := m.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	// Plant a cached file at the API path; it must still be bypassed.
	if err := os.MkdirAll(filepath.Join(cacheDir, "v1", "api"), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cacheDir, "v1", "api", "status"), []byte("stale"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	before := hits.Load()
	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("API GET failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "api-live" {
		t.Errorf("API request served from cache: %q", body)
	}
	if hits.Load() != before+1 {
		t.Errorf("API request must always reach the origin")
	}

	resp2, err := http.Post(srv.URL+"/app.js", "text/plain", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp2.Body.Close()
	if hits.Load() != before+2 {
		t.Errorf("POST must always reach the origin")
	}
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	content := "version: shell-v3\nassets:\n  - /\n  - /app.js\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	man, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if man.Version != "shell-v3" {
		t.Errorf("Version = %q, want shell-v3", man.Version)
	}
	if len(man.Assets) != 2 || man.Assets[0] != "/" || man.Assets[1] != "/app.js" {
		t.Errorf("unexpected assets %v", man.Assets)
	}
}

func TestLoadManifestRejectsMissingVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	if err := os.WriteFile(path, []byte("assets: [/app.js]\n"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, err := LoadManifest(path); err == nil {
		t.Error("expected error for manifest without version")
	}
}
