package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Setenv("APP_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, 10, cfg.Sandbox.MaxConcurrent)
	assert.Equal(t, 30*time.Second, cfg.Sandbox.Timeout)
	assert.True(t, cfg.Sandbox.Screenshots)
	assert.Equal(t, time.Hour, cfg.ThreatIntel.CacheTTL)
	assert.InDelta(t, 0.8, cfg.Pipeline.EarlyExitThreshold, 1e-9)
	assert.InDelta(t, 0.35, cfg.Pipeline.WeightThreatIntel, 1e-9)
	assert.Empty(t, cfg.ThreatIntel.VirusTotalKey)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_EnvOverrides(t *testing.T) {
	viper.Reset()
	t.Setenv("SANDBOX_MAX_CONCURRENT", "3")
	t.Setenv("THREAT_CACHE_TTL", "10m")
	t.Setenv("VIRUSTOTAL_API_KEY", "vt-key")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Sandbox.MaxConcurrent)
	assert.Equal(t, 10*time.Minute, cfg.ThreatIntel.CacheTTL)
	assert.Equal(t, "vt-key", cfg.ThreatIntel.VirusTotalKey)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_RejectsBadWeights(t *testing.T) {
	viper.Reset()
	t.Setenv("FUSION_WEIGHT_SANDBOX", "0.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fusion weights")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			ThreatIntel: ThreatIntelConfig{CacheTTL: time.Hour},
			Sandbox:     SandboxConfig{MaxConcurrent: 10, Timeout: 30 * time.Second},
			Pipeline: PipelineConfig{
				EarlyExitThreshold: 0.8,
				WeightThreatIntel:  0.35,
				WeightSandbox:      0.25,
				WeightNetwork:      0.20,
				WeightAuxModel:     0.20,
			},
		}
	}

	assert.NoError(t, base().Validate())

	cfg := base()
	cfg.Sandbox.MaxConcurrent = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Pipeline.EarlyExitThreshold = 1.5
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.ThreatIntel.CacheTTL = 0
	assert.Error(t, cfg.Validate())
}
