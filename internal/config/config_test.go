package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahendrapaipuri/ceems/internal/profile"
)

func TestLoadDefaultsToBalancedWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	assert.Equal(t, profile.Balanced, Load(path))
}

func TestLoadDefaultsToBalancedWhenCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o600))

	assert.Equal(t, profile.Balanced, Load(path))
}

func TestLoadDefaultsToBalancedWhenUnknownProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	require.NoError(t, os.WriteFile(path, []byte("last_manual_profile: bogus\n"), 0o600))

	assert.Equal(t, profile.Balanced, Load(path))
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")

	require.NoError(t, Save(path, profile.Performance))
	assert.Equal(t, profile.Performance, Load(path))
}

func TestSaveLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")

	require.NoError(t, Save(path, profile.PowerSaver))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.yaml", entries[0].Name())
}
