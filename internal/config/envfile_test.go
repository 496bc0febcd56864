package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("STORE_DRIVER=sqlite\nSQLITE_PATH=from-file.db\nSERVICE_PORT=9000\n"), 0o600))

	// Setenv registers the restore; the keys must be absent for the file to apply
	for _, key := range []string{"STORE_DRIVER", "SQLITE_PATH"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	t.Setenv("SERVICE_PORT", "9100")

	loaded := LoadEnvFile(filepath.Join(dir, "missing.env"), envPath)
	assert.Equal(t, envPath, loaded)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "from-file.db", cfg.Store.SQLitePath)
	assert.Equal(t, 9100, cfg.ServicePort, "process environment wins over the file")
}

func TestLoadEnvFile_NoneFound(t *testing.T) {
	assert.Empty(t, LoadEnvFile(filepath.Join(t.TempDir(), ".env")))
}
