package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Address)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "llama3.1:8b", cfg.LLM.Ollama.Model)
	assert.Equal(t, 120, cfg.LLM.Ollama.TimeoutSeconds)
	assert.Equal(t, 5, cfg.Agent.MaxIterations)
	assert.Equal(t, 20, cfg.Memory.ShortTerm.Capacity)
	assert.Equal(t, filepath.Join(dir, "data", "jarvis.db"), cfg.Memory.LongTerm.DSN)
	assert.Equal(t, "http://localhost:8005", cfg.Gateway.Endpoints["mail"])
	assert.Equal(t, 2, cfg.Resilience.PlannerRetries)
	assert.Equal(t, 5, cfg.Resilience.OracleBreaker.FailureThreshold)
	assert.Equal(t, 256, cfg.TaskQueue.Buffer)
	assert.Zero(t, cfg.TaskQueue.RunTimeout())
	assert.Equal(t, "critical", cfg.Alerting.MinSeverity)
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jarvis.yaml")
	content := `
server:
  address: ":9090"
agent:
  max_iterations: 3
gateway:
  protocol: mcp
  endpoints:
    calendar: http://calendar.internal:9000
memory:
  semantic:
    enabled: true
runtime:
  data_dir: state
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("JARVIS_LLM_MODEL", "qwen2.5:7b")
	t.Setenv("JARVIS_QUEUE_DRIVER", "redis")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 3, cfg.Agent.MaxIterations)
	assert.Equal(t, "mcp", cfg.Gateway.Protocol)
	assert.Equal(t, "http://calendar.internal:9000", cfg.Gateway.Endpoints["calendar"])
	assert.Equal(t, "http://localhost:8001", cfg.Gateway.Endpoints["memory_db"])
	assert.True(t, cfg.Memory.Semantic.Enabled)
	assert.Equal(t, filepath.Join(dir, "state"), cfg.Runtime.DataDir)
	assert.Equal(t, "qwen2.5:7b", cfg.LLM.Ollama.Model)
	assert.Equal(t, "redis", cfg.TaskQueue.Driver)
}

func TestValidateRejectsUnknownDrivers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jarvis.yaml")
	require.NoError(t, os.WriteFile(path, []byte("memory:\n  long_term:\n    driver: postgres\n    dsn: x\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}

func TestValidateRejectsUnknownAlertSeverity(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jarvis.yaml")
	require.NoError(t, os.WriteFile(path, []byte("alerting:\n  telegram: true\n  min_severity: loud\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loud")
}
