package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 1.0, cfg.Models.AnomalyConfidenceScale)
	assert.Equal(t, []time.Duration{time.Minute, 10 * time.Minute, time.Hour}, cfg.Detection.Windows)
	assert.Equal(t, 4, cfg.Ingest.Workers)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "safeguard.yaml", `
log_level: debug
models:
  anomaly_path: /srv/anomaly.gob
  risk_path: /srv/risk.gob
  anomaly_confidence_scale: 2.5
detection:
  windows: [30s, 5m]
  alert_cooldown: 1m
ingest:
  kafka:
    enabled: true
    brokers: [kafka-1:9092]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/srv/anomaly.gob", cfg.Models.AnomalyPath)
	assert.Equal(t, 2.5, cfg.Models.AnomalyConfidenceScale)
	assert.Equal(t, []time.Duration{30 * time.Second, 5 * time.Minute}, cfg.Detection.Windows)
	assert.Equal(t, time.Minute, cfg.Detection.AlertCooldown)
	// untouched keys keep their defaults
	assert.Equal(t, "safeguard.telemetry", cfg.Ingest.Kafka.Topic)
	// output brokers fall back to the ingest brokers
	assert.Equal(t, []string{"kafka-1:9092"}, cfg.Output.Kafka.Brokers)
}

func TestLoadJSONFile(t *testing.T) {
	path := writeFile(t, "safeguard.json", `{"api": {"addr": ":9999"}, "alerts": {"store_limit": 7}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.API.Addr)
	assert.Equal(t, 7, cfg.Alerts.StoreLimit)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "safeguard.yaml", "api:\n  addr: \":7000\"\n")
	t.Setenv("SAFEGUARD_API_ADDR", ":7001")
	t.Setenv("SAFEGUARD_INGEST_KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("SAFEGUARD_UNRELATED", "ignored")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7001", cfg.API.Addr)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Ingest.Kafka.Brokers)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log format", func(c *Config) { c.LogFormat = "xml" }},
		{"missing model path", func(c *Config) { c.Models.RiskPath = "" }},
		{"kafka without brokers", func(c *Config) { c.Ingest.Kafka.Enabled = true }},
		{"storage driver", func(c *Config) { c.Storage.Enabled = true; c.Storage.Driver = "oracle" }},
		{"zones from storage without storage", func(c *Config) { c.Zones.StorageSource = true }},
		{"negative window", func(c *Config) { c.Detection.Windows = []time.Duration{-time.Second} }},
		{"bad timezone", func(c *Config) { c.Ingest.Parser.Timezone = "Mars/Olympus" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestManagerUpdateAndReload(t *testing.T) {
	path := writeFile(t, "safeguard.yaml", "log_level: info\n")
	m, err := NewManager(path)
	require.NoError(t, err)

	cfg := m.Get()
	next := *cfg
	next.LogLevel = "warn"
	require.NoError(t, m.Update(&next))
	assert.Equal(t, "warn", m.Get().LogLevel)

	reloaded, err := m.Reload()
	require.NoError(t, err)
	assert.Equal(t, "warn", reloaded.LogLevel)

	bad := *m.Get()
	bad.LogFormat = "xml"
	assert.Error(t, m.Update(&bad))
	assert.Equal(t, "warn", m.Get().LogLevel)
}
