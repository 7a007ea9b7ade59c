package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mroche14/televibecode/internal/output"
)

// testEnv sets up isolated config dir, viper, and output for testing.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	origFunc := configDirFunc
	configDirFunc = func() (string, error) { return dir, nil }
	t.Cleanup(func() { configDirFunc = origFunc })

	viper.Reset()
	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db_path", filepath.Join(dir, "televibe.db"))
	viper.SetDefault("log_dir", filepath.Join(dir, "logs"))
	viper.SetDefault("workspace_dir", filepath.Join(dir, "workspaces"))
	viper.SetDefault("server.addr", "http://localhost:8321")
	viper.SetDefault("server.port", 8321)
	viper.SetDefault("scheduler.max_concurrent", 3)
	viper.SetDefault("scheduler.max_queued", 10)
	viper.SetDefault("executor.timeout", time.Hour)
	viper.SetDefault("approval.timeout", time.Hour)

	ui = output.New()

	return dir
}

func TestConfigInit_CreatesFile(t *testing.T) {
	dir := testEnv(t)

	err := configInitRun()
	require.NoError(t, err)

	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.NoError(t, err, "config file should exist")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "televibe configuration")
	assert.Contains(t, string(data), "scheduler")
	assert.Contains(t, string(data), "max_concurrent: 3")
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	dir := testEnv(t)

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	err := configInitRun()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "existing", string(data))
}

func TestConfigInit_ForceOverwrites(t *testing.T) {
	dir := testEnv(t)

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = true
	t.Cleanup(func() { configForce = false })

	err := configInitRun()
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "televibe configuration")
}

func TestFlattenKeys(t *testing.T) {
	in := map[string]any{
		"db_path": "/tmp/x.db",
		"scheduler": map[string]any{
			"max_concurrent": 5,
		},
	}
	out := make(map[string]bool)
	flattenKeys("", in, out)

	assert.True(t, out["db_path"])
	assert.True(t, out["scheduler.max_concurrent"])
	assert.False(t, out["scheduler"])
}

func TestDetectSource(t *testing.T) {
	fileValues := map[string]bool{"db_path": true}

	assert.Equal(t, "(file)", detectSource("db_path", "TELEVIBE_DB_PATH", fileValues))
	assert.Equal(t, "(default)", detectSource("log_dir", "TELEVIBE_LOG_DIR", fileValues))

	t.Setenv("TELEVIBE_LOG_DIR", "/var/log/televibe")
	assert.Equal(t, "(env: TELEVIBE_LOG_DIR)", detectSource("log_dir", "TELEVIBE_LOG_DIR", fileValues))
}

func TestConfigShow_NoFile(t *testing.T) {
	testEnv(t)
	require.NoError(t, configShowRun())
}
