package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks the environment variables that override file settings.
const EnvPrefix = "SAFEGUARD_"

// Load layers defaults, the optional file at path and SAFEGUARD_*
// environment variables, in that order of precedence. JSON files parse
// through the YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "yaml"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

var sliceConfigPaths = []string{
	"ingest.kafka.brokers",
	"ingest.file_tail.files",
	"zones.feed.brokers",
	"output.kafka.brokers",
	"detection.windows",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"log_level":                       "log_level",
	"log_format":                      "log_format",
	"models_anomaly_path":             "models.anomaly_path",
	"models_risk_path":                "models.risk_path",
	"models_anomaly_confidence_scale": "models.anomaly_confidence_scale",
	"zones_file":                      "zones.file",
	"zones_refresh_interval":          "zones.refresh_interval",
	"zones_storage_source":            "zones.storage_source",
	"zones_feed_enabled":              "zones.feed.enabled",
	"zones_feed_brokers":              "zones.feed.brokers",
	"zones_feed_topic":                "zones.feed.topic",
	"ingest_workers":                  "ingest.workers",
	"ingest_channel_buffer":           "ingest.channel_buffer",
	"ingest_rest_enabled":             "ingest.rest.enabled",
	"ingest_rest_addr":                "ingest.rest.addr",
	"ingest_tcp_enabled":              "ingest.tcp_stream.enabled",
	"ingest_tcp_addr":                 "ingest.tcp_stream.addr",
	"ingest_file_tail_enabled":        "ingest.file_tail.enabled",
	"ingest_file_tail_files":          "ingest.file_tail.files",
	"ingest_kafka_enabled":            "ingest.kafka.enabled",
	"ingest_kafka_brokers":            "ingest.kafka.brokers",
	"ingest_kafka_topic":              "ingest.kafka.topic",
	"ingest_kafka_group_id":           "ingest.kafka.group_id",
	"parser_timezone":                 "ingest.parser.timezone",
	"parser_default_device_id":        "ingest.parser.default_device_id",
	"output_kafka_enabled":            "output.kafka.enabled",
	"output_kafka_brokers":            "output.kafka.brokers",
	"output_kafka_scores_topic":       "output.kafka.scores_topic",
	"output_kafka_alerts_topic":       "output.kafka.alerts_topic",
	"detection_windows":               "detection.windows",
	"detection_alert_cooldown":        "detection.alert_cooldown",
	"detection_dedupe_window":         "detection.dedupe_window",
	"api_enabled":                     "api.enabled",
	"api_addr":                        "api.addr",
	"api_rate_limit_requests":         "api.rate_limit_requests",
	"api_rate_limit_window":           "api.rate_limit_window",
	"storage_enabled":                 "storage.enabled",
	"storage_driver":                  "storage.driver",
	"storage_dsn":                     "storage.dsn",
}

// envTransformFunc maps SAFEGUARD_API_ADDR style names to koanf paths.
// Unknown variables return "" and are skipped.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return envMappings[key]
}
