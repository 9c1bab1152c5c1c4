package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/cortex/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
store:
  path: /tmp/cortex-test.db
log:
  level: debug
  format: json
llm:
  provider: scripted
  scripted:
    - '{"plan": "p", "actions": []}'
  client:
    request_timeout: 5s
    retry:
      max_retries: 1
think:
  max_iterations: 4
  fetch_timeout: 3s
  max_sessions: 25
scheduler:
  poll_interval: 250ms
  max_concurrent: 2
  by_handler:
    report: 1
rules:
  - source: inbox
    processor: triage
    keywords: [urgent]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/cortex-test.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "scripted", cfg.LLM.Provider)
	assert.Equal(t, 5*time.Second, cfg.LLM.Client.RequestTimeout)
	assert.Equal(t, 1, cfg.LLM.Client.Retry.MaxRetries)
	assert.Equal(t, 4, cfg.Think.MaxIterations)
	assert.Equal(t, 10, cfg.Think.PromptWindow)
	assert.Equal(t, 3*time.Second, cfg.Think.FetchTimeout)
	assert.Equal(t, 25, cfg.Think.MaxSessions)
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.PollInterval)
	assert.Equal(t, 1, cfg.Scheduler.GetHandlerLimit("report"))
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.StaleAfter)
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, router.Rule{Source: "inbox", Processor: "triage", Keywords: []string{"urgent"}}, cfg.Rules[0])
	assert.Equal(t, "hash", cfg.Memory.Embedder)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  max_concurrent: 0\nllm:\n  provider: magic\nthink:\n  max_sessions: -1\n"), 0o600))

	_, err := Load(path)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "max_concurrent")
	assert.Contains(t, err.Error(), "max_sessions")
	assert.Contains(t, err.Error(), "magic")
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [unterminated"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRules(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Rules = []router.Rule{{Source: "a", Processor: "b", Pattern: "("}}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Server.Addr = "0.0.0.0:9000"
	cfg.Scheduler.ByHandler = map[string]int{"digest": 2}

	require.NoError(t, Save(path, cfg))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSaveRejectsNil(t *testing.T) {
	assert.Error(t, Save(filepath.Join(t.TempDir(), "c.yaml"), nil))
}
