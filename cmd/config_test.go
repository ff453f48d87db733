package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/scoutsync/internal/output"
)

// testEnv sets up isolated config dir, viper, and output for testing.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	// Override configDirFunc for tests
	origFunc := configDirFunc
	configDirFunc = func() (string, error) { return dir, nil }
	t.Cleanup(func() { configDirFunc = origFunc })

	// Reset viper
	viper.Reset()
	setDefaults(dir)

	// Drop any store left open by a previous test
	if localStore != nil {
		_ = localStore.Close()
		localStore = nil
	}
	t.Cleanup(func() {
		if localStore != nil {
			_ = localStore.Close()
			localStore = nil
		}
	})

	// Initialize output
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
	assert.Contains(t, string(data), "scoutsync configuration")
	assert.Contains(t, string(data), "endpoint:")
}

func TestConfigInit_RefusesOverwrite(t *testing.T) {
	dir := testEnv(t)

	// Create existing file
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = false
	err := configInitRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestConfigInit_ForceOverwrite(t *testing.T) {
	dir := testEnv(t)

	// Create existing file
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("existing"), 0644))

	configForce = true
	err := configInitRun()
	require.NoError(t, err)

	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "scoutsync configuration")
}

func TestConfigShow_NoFile(t *testing.T) {
	testEnv(t)

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigShow_WithFile(t *testing.T) {
	testEnv(t)

	// Create config first
	require.NoError(t, configInitRun())

	err := configShowRun()
	assert.NoError(t, err)
}

func TestConfigEdit_NoEditor(t *testing.T) {
	testEnv(t)

	// Unset EDITOR and VISUAL
	origEditor := os.Getenv("EDITOR")
	origVisual := os.Getenv("VISUAL")
	_ = os.Unsetenv("EDITOR")
	_ = os.Unsetenv("VISUAL")
	t.Cleanup(func() {
		if origEditor != "" {
			_ = os.Setenv("EDITOR", origEditor)
		}
		if origVisual != "" {
			_ = os.Setenv("VISUAL", origVisual)
		}
	})

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "$EDITOR is not set")
}

func TestConfigEdit_NoConfigFile(t *testing.T) {
	testEnv(t)

	_ = os.Setenv("EDITOR", "echo") // harmless command
	t.Cleanup(func() { _ = os.Unsetenv("EDITOR") })

	err := configEditRun()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDetectSource(t *testing.T) {
	fileValues := map[string]bool{"key_a": true}

	// From env
	os.Setenv("SCOUTSYNC_TEST_KEY", "val")
	defer os.Unsetenv("SCOUTSYNC_TEST_KEY")
	assert.Contains(t, detectSource("test_key", "SCOUTSYNC_TEST_KEY", fileValues), "env")

	// From file
	assert.Contains(t, detectSource("key_a", "SCOUTSYNC_KEY_A_NONEXISTENT", fileValues), "file")

	// Default
	assert.Contains(t, detectSource("key_b", "SCOUTSYNC_KEY_B_NONEXISTENT", fileValues), "default")
}

func TestFlattenKeys(t *testing.T) {
	input := map[string]any{
		"top": "val",
		"nested": map[string]any{
			"a": "1",
			"b": "2",
		},
	}

	result := make(map[string]bool)
	flattenKeys("", input, result)

	assert.True(t, result["top"])
	assert.True(t, result["nested.a"])
	assert.True(t, result["nested.b"])
	assert.False(t, result["nested"])
}

func TestConfigInit_DryRun(t *testing.T) {
	dir := testEnv(t)
	dryRun = true
	ui.DryRun = true
	defer func() { dryRun = false }()

	err := configInitRun()
	require.NoError(t, err)

	// File should NOT have been created
	cfgPath := filepath.Join(dir, "config.yaml")
	_, err = os.Stat(cfgPath)
	assert.True(t, os.IsNotExist(err), "config file should not exist in dry-run mode")
}

func TestConfigShow_MasksTokens(t *testing.T) {
	testEnv(t)
	viper.Set("server.token", "hunter2")

	var buf bytes.Buffer
	ui.Out = &buf
	require.NoError(t, configShowRun())
	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), "********")
	assert.Contains(t, buf.String(), "sync.endpoint")
}

func TestConfigKeys_EnvNames(t *testing.T) {
	assert.Equal(t, "SCOUTSYNC_SYNC_PULL_INTERVAL", envName("sync.pull_interval"))
	assert.Equal(t, "SCOUTSYNC_DB_PATH", envName("db_path"))
	for _, k := range configKeys {
		assert.Regexp(t, `^SCOUTSYNC_[A-Z_]+$`, envName(k), k)
	}
}

func TestAgentID_GeneratedOnce(t *testing.T) {
	testEnv(t)
	s, err := getStore()
	require.NoError(t, err)
	ctx := context.Background()

	id, err := agentID(ctx, s)
	require.NoError(t, err)
	assert.Len(t, id, 36)

	again, err := agentID(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	viper.Set("sync.agent_id", "desk-1")
	configured, err := agentID(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "desk-1", configured)
}

func TestAgentConfig_FromViper(t *testing.T) {
	testEnv(t)
	viper.Set("sync.agent_id", "desk-1")
	viper.Set("sync.pull_interval", "3s")
	viper.Set("scan.delay", "2s")
	viper.Set("sync.hold_lock", true)
	s, err := getStore()
	require.NoError(t, err)

	cfg, err := agentConfig(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "desk-1", cfg.AgentID)
	assert.Equal(t, int64(2000), cfg.Scan.ScanDelayMs)
	assert.Equal(t, int64(60_000), cfg.Scan.RepeatIntervalMs)
	assert.True(t, cfg.HoldLock)
	assert.Equal(t, "3s", cfg.PullInterval.String())
}

func TestRootRun_UnknownMode(t *testing.T) {
	testEnv(t)
	viper.Set("sync.mode", "relay")

	err := rootRun(rootCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sync.mode")
}
