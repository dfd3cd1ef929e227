package shellcache

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest declares one cache generation: a version tag and the fixed
// ordered list of shell asset paths installed under it.
type Manifest struct {
	Version string   `yaml:"version"`
	Assets  []string `yaml:"assets"`
}

// LoadManifest reads and validates the asset manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var man Manifest
	if err := yaml.Unmarshal(data, &man); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if err := man.Validate(); err != nil {
		return nil, err
	}

	return &man, nil
}

// Validate checks the manifest for a usable version tag and asset paths.
func (m *Manifest) Validate() error {
	if m.Version == "" {
		return fmt.Errorf("manifest version cannot be empty")
	}
	for _, a := range m.Assets {
		if a == "" || a[0] != '/' {
			return fmt.Errorf("asset path must start with /, got %q", a)
		}
	}
	return nil
}
