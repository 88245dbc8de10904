// Copyright 2025 Strand Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FullDocument(t *testing.T) {
	cfg, err := Parse([]byte(`
agent:
  id: calc
  model: gpt-test
  max_agent_iterations: 20
logging:
  level: debug
  format: json
server:
  enabled: true
  address: ":9090"
  shutdown_timeout: 5s
task_store:
  backend: sql
  dialect: sqlite
  dsn: strand.db
checkpoint:
  root: /tmp/strand
  enable_automatic_persistence: true
shell:
  allowed_commands:
    - echo
    - ls
  default_timeout: 1m
features: [metrics, persistence]
`))
	require.NoError(t, err)

	assert.Equal(t, "calc", cfg.Agent.ID)
	assert.Equal(t, "gpt-test", cfg.Agent.Model)
	assert.Equal(t, 20, cfg.Agent.MaxAgentIterations)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "sqlite", cfg.TaskStore.Dialect)
	assert.True(t, cfg.Checkpoint.EnableAutomaticPersistence)
	assert.Equal(t, []string{"echo", "ls"}, cfg.Shell.AllowedCommands)
	assert.Equal(t, time.Minute, cfg.Shell.DefaultTimeout)
	assert.Equal(t, []string{"metrics", "persistence"}, cfg.Features)
}

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`agent: {id: calc}`))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "memory", cfg.TaskStore.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Shell.DefaultTimeout)
}

func TestParse_ExpandsEnvVars(t *testing.T) {
	t.Setenv("STRAND_TEST_MODEL", "gpt-env")

	cfg, err := Parse([]byte(`
agent:
  model: ${STRAND_TEST_MODEL}
  id: ${STRAND_TEST_MISSING:-fallback}
`))
	require.NoError(t, err)

	assert.Equal(t, "gpt-env", cfg.Agent.Model)
	assert.Equal(t, "fallback", cfg.Agent.ID)
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown backend", "task_store: {backend: redis}", "unknown backend"},
		{"sql without dsn", "task_store: {backend: sql, dialect: sqlite}", "requires dialect and dsn"},
		{"bad format", "logging: {format: xml}", "unknown format"},
		{"negative iterations", "agent: {max_agent_iterations: -1}", "non-negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strand.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent: {id: file-agent}"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-agent", cfg.Agent.ID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestLoadDotEnv_DoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath,
		[]byte("STRAND_TEST_A=from-dotenv\nSTRAND_TEST_B=from-dotenv\n"), 0o644))

	t.Setenv("STRAND_TEST_A", "preset")
	os.Unsetenv("STRAND_TEST_B")
	t.Cleanup(func() { os.Unsetenv("STRAND_TEST_B") })

	LoadDotEnv(envPath)

	assert.Equal(t, "preset", os.Getenv("STRAND_TEST_A"))
	assert.Equal(t, "from-dotenv", os.Getenv("STRAND_TEST_B"))
}
