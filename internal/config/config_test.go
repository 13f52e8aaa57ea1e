package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrbailey/promptspeak-mcp-server-sub003/internal/policy"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "./promptspeak.db", cfg.Storage.Path)
	assert.Equal(t, 0.15, cfg.Drift.WarningThreshold)
	assert.Equal(t, 0.30, cfg.Drift.CriticalThreshold)
	assert.Equal(t, 100, cfg.Drift.WindowSize)
	assert.Equal(t, 3, cfg.Drift.ConsecutiveFailureCeiling)
	assert.Equal(t, 30*time.Second, cfg.CircuitCooldown())
	assert.Equal(t, 24*time.Hour, cfg.HoldTimeout())
	assert.Equal(t, 24*time.Hour, cfg.ProposalTTL())
	assert.True(t, cfg.Holds.HoldOnDriftPrediction)
	assert.True(t, cfg.Holds.HoldOnForbiddenWithOverride)
	assert.True(t, cfg.Delegation.StrictDefault)
	assert.Equal(t, 3, cfg.Delegation.MaxDelegationDepth)
}

func TestLoadFromYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
server:
  log_level: debug
storage:
  path: /tmp/gateway.db
drift:
  warning_threshold: 0.2
  critical_threshold: 0.4
holds:
  timeout_ms: 3600000
  hold_on_drift_prediction: false
  approval_whitelist:
    - WebFetch
delegation:
  max_delegation_depth: 5
hold_policies:
  - name: financial-execute
    expression: 'frame.domain == "◊" && frame.action == "▶"'
    reason: financial execution needs review
    severity: high
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "/tmp/gateway.db", cfg.Storage.Path)
	assert.Equal(t, 0.2, cfg.Drift.WarningThreshold)
	assert.Equal(t, time.Hour, cfg.HoldTimeout())
	assert.False(t, cfg.Holds.HoldOnDriftPrediction)
	assert.Equal(t, []string{"WebFetch"}, cfg.Holds.ApprovalWhitelist)
	assert.Equal(t, 5, cfg.Delegation.MaxDelegationDepth)

	// Unset fields keep their defaults.
	assert.Equal(t, 100, cfg.Drift.WindowSize)

	require.Len(t, cfg.HoldPolicies, 1)
	assert.Equal(t, "financial-execute", cfg.HoldPolicies[0].Name)
	assert.Equal(t, "high", cfg.HoldPolicies[0].Severity)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PROMPTSPEAK_LOG_LEVEL", "warn")
	t.Setenv("PROMPTSPEAK_STORAGE_PATH", "/var/lib/ps.db")
	t.Setenv("PROMPTSPEAK_DRIFT_WARNING_THRESHOLD", "0.25")
	t.Setenv("PROMPTSPEAK_HOLD_TIMEOUT_MS", "60000")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Server.LogLevel)
	assert.Equal(t, "/var/lib/ps.db", cfg.Storage.Path)
	assert.Equal(t, 0.25, cfg.Drift.WarningThreshold)
	assert.Equal(t, time.Minute, cfg.HoldTimeout())
}

func TestValidation(t *testing.T) {
	dir := t.TempDir()

	path := writeFile(t, dir, "bad-thresholds.yaml", `
drift:
  warning_threshold: 0.5
  critical_threshold: 0.3
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "must be below critical")

	path = writeFile(t, dir, "bad-depth.yaml", `
delegation:
  max_delegation_depth: -1
`)
	_, err = Load(path)
	assert.ErrorContains(t, err, "delegation depth")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestPolicyWatcherLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "holds.yaml", `
rules:
  - name: large-transfer
    expression: 'request.tool == "transfer"'
    reason: transfers need review
    severity: high
`)

	engine, err := policy.NewEngine(nil)
	require.NoError(t, err)
	pw := NewPolicyWatcher(engine, nil)

	require.NoError(t, pw.LoadRules(path))
	assert.Equal(t, 1, engine.RuleCount())

	// A file that fails to compile keeps the previous set.
	bad := writeFile(t, dir, "bad.yaml", `
rules:
  - name: broken
    expression: 'request.tool +'
`)
	assert.Error(t, pw.LoadRules(bad))
	assert.Equal(t, 1, engine.RuleCount())
}

func TestPolicyWatcherHotReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "holds.yaml", `
rules:
  - name: first
    expression: 'request.tool == "transfer"'
`)

	engine, err := policy.NewEngine(nil)
	require.NoError(t, err)
	pw := NewPolicyWatcher(engine, nil)

	require.NoError(t, pw.LoadRules(path))
	require.NoError(t, pw.Watch(path))
	defer pw.Stop()

	writeFile(t, dir, "holds.yaml", `
rules:
  - name: first
    expression: 'request.tool == "transfer"'
  - name: second
    expression: 'drift.score >= 0.15'
`)

	assert.Eventually(t, func() bool {
		return engine.RuleCount() == 2
	}, 5*time.Second, 20*time.Millisecond)
}
