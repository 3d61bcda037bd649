package gateway

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteString(t *testing.T) {
	dir := t.TempDir()
	gw := New(dir)

	path := "devices/system/cpu/cpufreq/policy0/scaling_governor"
	require.NoError(t, os.MkdirAll(filepath.Dir(gw.Path(path)), 0o755))
	require.NoError(t, os.WriteFile(gw.Path(path), []byte("powersave\n"), 0o600))

	got, err := gw.ReadString(path)
	require.NoError(t, err)
	assert.Equal(t, "powersave", got)

	require.NoError(t, gw.WriteString(path, "performance"))

	got, err = gw.ReadString(path)
	require.NoError(t, err)
	assert.Equal(t, "performance", got)
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	gw := New(dir)

	assert.False(t, gw.Exists("nope"))

	require.NoError(t, os.WriteFile(gw.Path("present"), []byte("x"), 0o600))
	assert.True(t, gw.Exists("present"))
}

func TestReadClassifiesNotFound(t *testing.T) {
	gw := New(t.TempDir())

	_, err := gw.ReadString("missing")
	require.Error(t, err)

	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, NotFound, gwErr.Kind)
}

func TestEmptyRootPassesThrough(t *testing.T) {
	gw := New("")
	assert.Equal(t, "/sys/foo", gw.Path("/sys/foo"))
	assert.Equal(t, "", gw.Root())
}
