// Package config loads courier's auxiliary TOML surfaces.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// PluginManifest optionally constrains which plugin files load from the
// plugin directory. A missing manifest means every discovered file loads.
type PluginManifest struct {
	Enabled  []string `toml:"enabled"`
	Disabled []string `toml:"disabled"`
}

// LoadPluginManifest reads a manifest file. A missing file surfaces as
// os.ErrNotExist so callers can treat it as "no manifest".
func LoadPluginManifest(path string) (PluginManifest, error) {
	var m PluginManifest
	if err := loadToml(path, &m); err != nil {
		return PluginManifest{}, err
	}
	m.Enabled = normalizeNames(m.Enabled)
	m.Disabled = normalizeNames(m.Disabled)
	return m, nil
}

// Allows reports whether a plugin name may load under this manifest.
// Disabled wins over enabled; a non-empty enabled list is an allowlist.
func (m PluginManifest) Allows(name string) bool {
	name = strings.TrimSpace(name)
	for _, d := range m.Disabled {
		if d == name {
			return false
		}
	}
	if len(m.Enabled) == 0 {
		return true
	}
	for _, e := range m.Enabled {
		if e == name {
			return true
		}
	}
	return false
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func normalizeNames(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, raw := range in {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	return out
}
