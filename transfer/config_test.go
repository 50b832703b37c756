package transfer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "rainhub.yaml")
	content := `
data-dir: /var/lib/rainhub
port: 8000
archive-grace-period: 2m
dht-enabled: false
serve-rate: 1048576
`
	require.NoError(t, os.WriteFile(filename, []byte(content), 0o600))

	cfg, err := LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/rainhub", cfg.DataDir)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 2*time.Minute, cfg.ArchiveGracePeriod)
	assert.False(t, cfg.DHTEnabled)
	assert.Equal(t, int64(1<<20), cfg.ServeRate)
	// Unset values come from the defaults.
	assert.Equal(t, DefaultConfig.Host, cfg.Host)
	assert.Equal(t, DefaultConfig.MaxDescriptorSize, cfg.MaxDescriptorSize)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig, cfg)
}

func TestLoadConfigInvalid(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "rainhub.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("port: [1, 2"), 0o600))
	_, err := LoadConfig(filename)
	assert.Error(t, err)
}

func TestConfigExpand(t *testing.T) {
	homedir.DisableCache = true
	defer func() { homedir.DisableCache = false }()
	t.Setenv("HOME", "/home/tester")
	cfg := DefaultConfig
	require.NoError(t, cfg.Expand())
	assert.Equal(t, "/home/tester/rainhub/data", cfg.DataDir)
	assert.Equal(t, "/home/tester/rainhub/archives.db", cfg.Database)
}
