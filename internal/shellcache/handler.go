package shellcache

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Handler returns the serving policy: cache-first with network fallback.
//
// Only GET requests outside the API prefix are eligible for the cache;
// everything else is proxied to the origin untouched. A cache miss falls
// through to the origin and is NOT written back; generations change
// only through Install.
func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || strings.HasPrefix(r.URL.Path, m.apiPrefix) {
			m.proxy.ServeHTTP(w, r)
			return
		}

		if path, ok := m.cachedPath(r.URL.Path); ok {
			http.ServeFile(w, r, path)
			return
		}

		m.proxy.ServeHTTP(w, r)
	})
}

// cachedPath resolves a request path to a file in the active generation,
// reporting whether a cached entry exists.
func (m *Manager) cachedPath(reqPath string) (string, bool) {
	tag := m.Tag()
	if tag == "" {
		return "", false
	}

	gen := filepath.Join(m.cacheDir, tag)
	path := filepath.Join(gen, assetFilename(reqPath))

	// Reject traversal outside the generation directory.
	if !strings.HasPrefix(path, gen+string(filepath.Separator)) {
		return "", false
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}

	return path, true
}
