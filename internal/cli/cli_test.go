package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "threadpoolctl", cmd.Use, "Root command should be 'threadpoolctl'")
	assert.Equal(t, "1.0.0", cmd.Version, "Version should be 1.0.0")

	commands := cmd.Commands()
	assert.Len(t, commands, 3, "Should have 3 subcommands")

	commandNames := make(map[string]bool)
	for _, c := range commands {
		commandNames[c.Use] = true
	}

	assert.True(t, commandNames["run"], "Should have 'run' command")
	assert.True(t, commandNames["bench"], "Should have 'bench' command")
	assert.True(t, commandNames["status"], "Should have 'status' command")

	configFlag := cmd.PersistentFlags().Lookup("config")
	assert.NotNil(t, configFlag, "Should have --config flag")
	assert.Equal(t, "configs/default.yaml", configFlag.DefValue, "Default config path should be configs/default.yaml")
}

func TestBuildRunCommand(t *testing.T) {
	cmd := buildRunCommand()

	assert.NotNil(t, cmd, "buildRunCommand should return a non-nil command")
	assert.Equal(t, "run", cmd.Use, "Command should be 'run'")
	assert.Contains(t, cmd.Short, "Start", "Short description should mention 'Start'")
	assert.NotNil(t, cmd.RunE, "RunE function should be set")
}

func TestBuildBenchCommand(t *testing.T) {
	cmd := buildBenchCommand()

	assert.NotNil(t, cmd, "buildBenchCommand should return a non-nil command")
	assert.Equal(t, "bench", cmd.Use, "Command should be 'bench'")

	tasksFlag := cmd.Flags().Lookup("tasks")
	assert.NotNil(t, tasksFlag, "Should have --tasks flag")
	assert.Equal(t, "10000", tasksFlag.DefValue, "Default task count should be 10000")

	assert.NotNil(t, cmd.RunE, "RunE function should be set")
}

func TestBuildStatusCommand(t *testing.T) {
	cmd := buildStatusCommand()

	assert.NotNil(t, cmd, "buildStatusCommand should return a non-nil command")
	assert.Equal(t, "status", cmd.Use, "Command should be 'status'")
	assert.Contains(t, cmd.Short, "status", "Short description should mention 'status'")
	assert.NotNil(t, cmd.RunE, "RunE function should be set")
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.yaml")

	configContent := `
pool:
  foreground_threads: 4
  background_threads: 2
  best_effort_threads: 1
  suggested_reclaim_time: 30s
  may_block_threshold: 10ms

metrics:
  enabled: true
  port: 8080
`

	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err, "Failed to write test config file")

	cfg, err := loadConfig(configPath)
	require.NoError(t, err, "loadConfig should not return an error")
	require.NotNil(t, cfg, "Config should not be nil")

	assert.Equal(t, 4, cfg.Pool.ForegroundThreads)
	assert.Equal(t, 2, cfg.Pool.BackgroundThreads)
	assert.Equal(t, 1, cfg.Pool.BestEffortThreads)
	assert.Equal(t, 30*time.Second, cfg.Pool.SuggestedReclaimTime)
	assert.Equal(t, 10*time.Millisecond, cfg.Pool.MayBlockThreshold)

	assert.True(t, cfg.Metrics.Enabled, "Metrics should be enabled")
	assert.Equal(t, 8080, cfg.Metrics.Port, "Metrics port should be 8080")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := loadConfig("/nonexistent/config.yaml")

	assert.Error(t, err, "loadConfig should return an error for nonexistent file")
	assert.Nil(t, cfg, "Config should be nil on error")
	assert.Contains(t, err.Error(), "failed to read config file", "Error should mention file reading failure")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
pool:
  foreground_threads: "not a number"
  invalid yaml structure
    broken indentation
`

	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err, "Failed to write invalid YAML file")

	cfg, err := loadConfig(configPath)

	assert.Error(t, err, "loadConfig should return an error for invalid YAML")
	assert.Nil(t, cfg, "Config should be nil on parse error")
	assert.Contains(t, err.Error(), "failed to parse config YAML", "Error should mention YAML parsing failure")
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "empty.yaml")

	err := os.WriteFile(configPath, []byte(""), 0644)
	require.NoError(t, err, "Failed to write empty file")

	cfg, err := loadConfig(configPath)
	assert.NoError(t, err, "Empty YAML file should parse without error")
	assert.NotNil(t, cfg, "Config should not be nil for empty file")
	assert.Equal(t, 0, cfg.Pool.ForegroundThreads, "Empty config should have zero values")
}

func TestLoadConfig_PartialConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.yaml")

	partialConfig := `
pool:
  foreground_threads: 2
`

	err := os.WriteFile(configPath, []byte(partialConfig), 0644)
	require.NoError(t, err, "Failed to write partial config")

	cfg, err := loadConfig(configPath)
	require.NoError(t, err, "Partial config should parse successfully")
	assert.Equal(t, 2, cfg.Pool.ForegroundThreads, "Foreground threads should be set")
	assert.Equal(t, 0, cfg.Pool.BackgroundThreads, "Unset fields should have zero values")
}

func TestPercentile(t *testing.T) {
	latencies := []time.Duration{
		1 * time.Millisecond,
		2 * time.Millisecond,
		3 * time.Millisecond,
		4 * time.Millisecond,
		5 * time.Millisecond,
	}

	assert.Equal(t, latencies[2], percentile(latencies, 0.50))
	assert.Equal(t, latencies[4], percentile(latencies, 0.95))
	assert.Equal(t, time.Duration(0), percentile(nil, 0.50))
}

func TestConfigStructure(t *testing.T) {
	cfg := Config{}

	cfg.Pool.ForegroundThreads = 10
	cfg.Pool.BackgroundThreads = 4
	cfg.Pool.BestEffortThreads = 2
	cfg.Pool.MayBlockThreshold = 5 * time.Millisecond
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 9090

	assert.Equal(t, 10, cfg.Pool.ForegroundThreads)
	assert.Equal(t, 4, cfg.Pool.BackgroundThreads)
	assert.Equal(t, 2, cfg.Pool.BestEffortThreads)
	assert.Equal(t, 5*time.Millisecond, cfg.Pool.MayBlockThreshold)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}
