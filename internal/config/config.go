// Package config persists the last manually-selected profile across
// restarts (§6, §9). A missing or corrupt file is tolerated by
// defaulting to balanced.
package config

import (
	"os"
	"path/filepath"

	"github.com/mahendrapaipuri/ceems/internal/profile"
	"gopkg.in/yaml.v2"
)

// Config is the on-disk persisted state.
type Config struct {
	LastManualProfile profile.Profile `yaml:"last_manual_profile"`
}

// Load reads path and returns the persisted profile, defaulting to
// balanced when the file is missing, unreadable, corrupt, or names an
// unknown profile.
func Load(path string) profile.Profile {
	data, err := os.ReadFile(path)
	if err != nil {
		return profile.Balanced
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return profile.Balanced
	}

	if !c.LastManualProfile.Valid() {
		return profile.Balanced
	}

	return c.LastManualProfile
}

// Save atomically writes p to path via a temp file + rename, following
// the same atomic-replace idiom used by this codebase's other
// persistence layers.
func Save(path string, p profile.Profile) error {
	data, err := yaml.Marshal(Config{LastManualProfile: p})
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".ppd-config-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)

		return err
	}

	return os.Rename(tmpPath, path)
}
