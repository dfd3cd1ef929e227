// Package shellcache maintains versioned on-disk generations of the app
// shell assets and serves them cache-first with network fallback.
//
// Each cache generation is a directory named after the manifest version
// tag. Install populates a new generation atomically (a partial download
// never becomes visible); Activate deletes every generation other than
// the current one. The HTTP handler serves GET requests for non-API
// paths from the active generation and proxies everything else to the
// origin untouched.
package shellcache

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Config holds manager configuration.
type Config struct {
	// OriginURL is the base URL assets are fetched from and requests
	// are proxied to.
	OriginURL string

	// CacheDir is the directory holding cache generations.
	CacheDir string

	// APIPrefix marks request paths that are never intercepted.
	APIPrefix string

	// Client performs asset fetches. Defaults to a 30s-timeout client.
	Client *http.Client

	// Logger for cache activity. Defaults to a stderr logger.
	Logger *log.Logger
}

// Manager owns the cache generations and the serving policy.
type Manager struct {
	origin    *url.URL
	cacheDir  string
	apiPrefix string
	client    *http.Client
	logger    *log.Logger
	proxy     *httputil.ReverseProxy

	mu       sync.RWMutex
	manifest *Manifest
}

// stagingPrefix marks in-progress generation directories so Activate
// never mistakes one for a stale generation mid-install.
const stagingPrefix = ".staging-"

// New creates a cache manager. The manifest may be nil, in which case
// every request falls through to the origin until SetManifest is called.
func New(cfg *Config) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.OriginURL == "" {
		return nil, fmt.Errorf("origin URL cannot be empty")
	}
	if cfg.CacheDir == "" {
		return nil, fmt.Errorf("cache directory cannot be empty")
	}

	origin, err := url.Parse(cfg.OriginURL)
	if err != nil {
		return nil, fmt.Errorf("invalid origin URL: %w", err)
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[shellcache] ", log.LstdFlags)
	}

	apiPrefix := cfg.APIPrefix
	if apiPrefix == "" {
		apiPrefix = "/api/"
	}

	return &Manager{
		origin:    origin,
		cacheDir:  cfg.CacheDir,
		apiPrefix: apiPrefix,
		client:    client,
		logger:    logger,
		proxy:     httputil.NewSingleHostReverseProxy(origin),
	}, nil
}

// SetManifest replaces the manifest the manager installs and serves from.
func (m *Manager) SetManifest(man *Manifest) {
	m.mu.Lock()
	m.manifest = man
	m.mu.Unlock()
}

// Tag returns the current cache version tag, or "" when no manifest is set.
func (m *Manager) Tag() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.manifest == nil {
		return ""
	}
	return m.manifest.Version
}

// Install fetches every manifest asset from the origin into a new
// generation directory named after the version tag.
//
// Population is atomic: assets are downloaded into a staging directory
// that is renamed into place only once every fetch succeeded. Any single
// failure aborts the whole install and leaves previously installed
// generations untouched.
func (m *Manager) Install(ctx context.Context) error {
	m.mu.RLock()
	man := m.manifest
	m.mu.RUnlock()

	if man == nil {
		return fmt.Errorf("no manifest set")
	}

	if err := os.MkdirAll(m.cacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	staging, err := os.MkdirTemp(m.cacheDir, stagingPrefix)
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	m.logger.Printf("Installing cache generation %s (%d assets)", man.Version, len(man.Assets))

	for _, asset := range man.Assets {
		if err := m.fetchAsset(ctx, staging, asset); err != nil {
			return fmt.Errorf("install of generation %s failed: %w", man.Version, err)
		}
	}

	target := filepath.Join(m.cacheDir, man.Version)
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("failed to clear previous generation %s: %w", man.Version, err)
	}
	if err := os.Rename(staging, target); err != nil {
		return fmt.Errorf("failed to publish generation %s: %w", man.Version, err)
	}

	m.logger.Printf("Cache generation %s installed", man.Version)
	return nil
}

// fetchAsset downloads one asset into the staging directory.
func (m *Manager) fetchAsset(ctx context.Context, staging, asset string) error {
	u := *m.origin
	u.Path = strings.TrimSuffix(u.Path, "/") + asset

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", asset, err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", asset, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch of %s returned status %d", asset, resp.StatusCode)
	}

	dest := filepath.Join(staging, assetFilename(asset))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create asset directory for %s: %w", asset, err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}

	return nil
}

// Activate deletes every cache generation whose tag differs from the
// current version tag. The current-tag generation is never deleted.
// Serving switches to the surviving generation immediately.
func (m *Manager) Activate(ctx context.Context) error {
	tag := m.Tag()
	if tag == "" {
		return fmt.Errorf("no manifest set")
	}

	entries, err := os.ReadDir(m.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == tag {
			continue
		}
		if strings.HasPrefix(entry.Name(), stagingPrefix) {
			continue
		}

		m.logger.Printf("Evicting stale cache generation %s", entry.Name())
		if err := os.RemoveAll(filepath.Join(m.cacheDir, entry.Name())); err != nil {
			return fmt.Errorf("failed to evict generation %s: %w", entry.Name(), err)
		}
	}

	return nil
}

// Generations lists the installed cache generation tags.
func (m *Manager) Generations() ([]string, error) {
	entries, err := os.ReadDir(m.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var tags []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), stagingPrefix) {
			tags = append(tags, entry.Name())
		}
	}
	return tags, nil
}

// assetFilename maps a request/manifest path to a file name inside a
// generation directory.
func assetFilename(path string) string {
	p := strings.TrimPrefix(path, "/")
	if p == "" {
		p = "index.html"
	}
	return filepath.FromSlash(p)
}
