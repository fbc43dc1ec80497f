package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 5050, cfg.Port)
	assert.Equal(t, 100, cfg.MaxItems)
	assert.Equal(t, 60*time.Second, cfg.CleanupInterval)
}

func TestValidateRejectsNonPositiveCapacity(t *testing.T) {
	cfg := New(WithMaxItems(0))
	assert.Error(t, cfg.Validate())

	cfg = New(WithMaxItems(-5))
	assert.Error(t, cfg.Validate())
}

func TestOptionsOverrideDefaults(t *testing.T) {
	cfg := New(WithPort(9000), WithMaxItems(10), WithCleanupInterval(5*time.Second))
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 10, cfg.MaxItems)
	assert.Equal(t, 5*time.Second, cfg.CleanupInterval)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kvmesh.toml")
	contents := "[cache]\nport = 6000\nmaxItems = 50\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, 50, cfg.MaxItems)
	// cleanupInterval was absent from the file, default is kept.
	assert.Equal(t, 60*time.Second, cfg.CleanupInterval)
}
