package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEngineConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultEngineConfig().Validate())
}

func TestEngineConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*EngineConfig)
	}{
		{"recovery not above weak", func(e *EngineConfig) { e.RecoveryThreshold = e.WeakThreshold }},
		{"weak threshold out of range", func(e *EngineConfig) { e.WeakThreshold = 1.2 }},
		{"zero min samples", func(e *EngineConfig) { e.MinSamples = 0 }},
		{"empty ladder", func(e *EngineConfig) { e.LadderDays = nil }},
		{"ladder not increasing", func(e *EngineConfig) { e.LadderDays = []int{1, 3, 3, 7} }},
		{"zero batch size", func(e *EngineConfig) { e.MaxSectionsPerEntry = 0 }},
		{"zero mock cap", func(e *EngineConfig) { e.Quota.MockTestCap = 0 }},
		{"zero workers", func(e *EngineConfig) { e.FollowUp.Workers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  port: "9090"
  mode: debug
jwt:
  secret: test-secret
engine:
  weak_threshold: 0.5
  recovery_threshold: 0.8
  ladder_days: [2, 4, 8]
  quota:
    mock_test_cap: 3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 0.5, cfg.Engine.WeakThreshold)
	assert.Equal(t, 0.8, cfg.Engine.RecoveryThreshold)
	assert.Equal(t, []int{2, 4, 8}, cfg.Engine.LadderDays)
	assert.Equal(t, 3, cfg.Engine.Quota.MockTestCap)
	// 未配置的项回落到默认值
	assert.Equal(t, 50, cfg.Engine.Quota.PracticeQuestionCap)
	assert.Equal(t, 5, cfg.Engine.MinSamples)
	assert.Equal(t, "logs/engine.log", cfg.Log.File)
	assert.Equal(t, 50, cfg.Redis.PoolSize)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), cfg.ConfigFile)
}

func TestLoadConfigRejectsInvalidEngine(t *testing.T) {
	dir := t.TempDir()
	yaml := `
jwt:
  secret: test-secret
engine:
  weak_threshold: 0.7
  recovery_threshold: 0.6
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestLoadConfigRejectsShortSecretInRelease(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  mode: release
jwt:
  secret: short
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}
