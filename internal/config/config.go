package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogFormat string          `json:"log_format" yaml:"log_format"`
	Models    ModelsConfig    `json:"models" yaml:"models"`
	Zones     ZonesConfig     `json:"zones" yaml:"zones"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Output    OutputConfig    `json:"output" yaml:"output"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
	Alerts    AlertsConfig    `json:"alerts" yaml:"alerts"`
}

type ModelsConfig struct {
	AnomalyPath string `json:"anomaly_path" yaml:"anomaly_path"`
	RiskPath    string `json:"risk_path" yaml:"risk_path"`
	// AnomalyConfidenceScale is the logistic slope turning raw outlier
	// scores into confidence.
	AnomalyConfidenceScale float64 `json:"anomaly_confidence_scale" yaml:"anomaly_confidence_scale"`
}

type ZonesConfig struct {
	File            string        `json:"file" yaml:"file"`
	RefreshInterval time.Duration `json:"refresh_interval" yaml:"refresh_interval"`
	// StorageSource pulls the risk_zones table on every refresh.
	StorageSource bool        `json:"storage_source" yaml:"storage_source"`
	Feed          KafkaConfig `json:"feed" yaml:"feed"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	Workers       int             `json:"workers" yaml:"workers"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type ParserConfig struct {
	Timezone        string `json:"timezone" yaml:"timezone"`
	DefaultDeviceID string `json:"default_device_id" yaml:"default_device_id"`
}

type OutputConfig struct {
	Kafka OutputKafkaConfig `json:"kafka" yaml:"kafka"`
}

type OutputKafkaConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Brokers     []string `json:"brokers" yaml:"brokers"`
	ScoresTopic string   `json:"scores_topic" yaml:"scores_topic"`
	AlertsTopic string   `json:"alerts_topic" yaml:"alerts_topic"`
}

type DetectionConfig struct {
	// Windows are the rolling per-device summary spans.
	Windows       []time.Duration `json:"windows" yaml:"windows"`
	AlertCooldown time.Duration   `json:"alert_cooldown" yaml:"alert_cooldown"`
	DedupeWindow  time.Duration   `json:"dedupe_window" yaml:"dedupe_window"`
	MaxClockSkew  time.Duration   `json:"max_clock_skew" yaml:"max_clock_skew"`
	MaxFutureSkew time.Duration   `json:"max_future_skew" yaml:"max_future_skew"`
}

type APIConfig struct {
	Enabled           bool          `json:"enabled" yaml:"enabled"`
	Addr              string        `json:"addr" yaml:"addr"`
	RateLimitRequests int           `json:"rate_limit_requests" yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `json:"rate_limit_window" yaml:"rate_limit_window"`
}

type StorageConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	Driver  string        `json:"driver" yaml:"driver"`
	DSN     string        `json:"dsn" yaml:"dsn"`
	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`
}

type BreakerConfig struct {
	MaxRequests      uint32        `json:"max_requests" yaml:"max_requests"`
	Interval         time.Duration `json:"interval" yaml:"interval"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
	FailureThreshold uint32        `json:"failure_threshold" yaml:"failure_threshold"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type AlertsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Models: ModelsConfig{
			AnomalyPath:            "models/anomaly.gob",
			RiskPath:               "models/risk.gob",
			AnomalyConfidenceScale: 1.0,
		},
		Zones: ZonesConfig{
			RefreshInterval: time.Minute,
			Feed:            KafkaConfig{Topic: "safeguard.zones", GroupID: "safeguard-zones"},
		},
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			Workers:       4,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false, Topic: "safeguard.telemetry", GroupID: "safeguard"},
			Parser:        ParserConfig{Timezone: "UTC", DefaultDeviceID: "unknown"},
		},
		Output: OutputConfig{
			Kafka: OutputKafkaConfig{ScoresTopic: "safeguard.scores", AlertsTopic: "safeguard.alerts"},
		},
		Detection: DetectionConfig{
			Windows:       []time.Duration{time.Minute, 10 * time.Minute, time.Hour},
			AlertCooldown: 30 * time.Second,
			DedupeWindow:  5 * time.Second,
			MaxClockSkew:  24 * time.Hour,
			MaxFutureSkew: 5 * time.Minute,
		},
		API: APIConfig{
			Enabled:           true,
			Addr:              ":8081",
			RateLimitRequests: 600,
			RateLimitWindow:   time.Minute,
		},
		Storage: StorageConfig{
			Enabled: false,
			Driver:  "sqlite",
			DSN:     "file:safeguard.db?_pragma=busy_timeout(5000)",
			Breaker: BreakerConfig{
				MaxRequests:      1,
				Interval:         time.Minute,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
		},
		Metrics: MetricsConfig{StoreLimit: 5000},
		Alerts:  AlertsConfig{StoreLimit: 1000},
	}
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func applyDefaults(cfg *Config) {
	if len(cfg.Detection.Windows) == 0 {
		cfg.Detection.Windows = []time.Duration{time.Minute, 10 * time.Minute, time.Hour}
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = 5000
	}
	if cfg.Alerts.StoreLimit <= 0 {
		cfg.Alerts.StoreLimit = 1000
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = 1
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Ingest.Parser.DefaultDeviceID == "" {
		cfg.Ingest.Parser.DefaultDeviceID = "unknown"
	}
	if cfg.Models.AnomalyConfidenceScale <= 0 {
		cfg.Models.AnomalyConfidenceScale = 1.0
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	if len(cfg.Output.Kafka.Brokers) == 0 {
		cfg.Output.Kafka.Brokers = cfg.Ingest.Kafka.Brokers
	}
	if len(cfg.Zones.Feed.Brokers) == 0 {
		cfg.Zones.Feed.Brokers = cfg.Ingest.Kafka.Brokers
	}
}

func Validate(cfg *Config) error {
	switch strings.ToLower(cfg.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("log_format must be json or console, got %q", cfg.LogFormat)
	}
	if cfg.Models.AnomalyPath == "" || cfg.Models.RiskPath == "" {
		return errors.New("models.anomaly_path and models.risk_path are required")
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.API.RateLimitRequests > 0 && cfg.API.RateLimitWindow <= 0 {
		return errors.New("api.rate_limit_window must be > 0 when rate limiting is on")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Zones.Feed.Enabled {
		if len(cfg.Zones.Feed.Brokers) == 0 || cfg.Zones.Feed.Topic == "" || cfg.Zones.Feed.GroupID == "" {
			return errors.New("zones.feed requires brokers, topic, group_id")
		}
	}
	if cfg.Zones.StorageSource && !cfg.Storage.Enabled {
		return errors.New("zones.storage_source requires storage.enabled")
	}
	if cfg.Output.Kafka.Enabled {
		if len(cfg.Output.Kafka.Brokers) == 0 || cfg.Output.Kafka.ScoresTopic == "" || cfg.Output.Kafka.AlertsTopic == "" {
			return errors.New("output.kafka requires brokers, scores_topic, alerts_topic")
		}
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("storage.driver %q is not supported", cfg.Storage.Driver)
		}
		if cfg.Storage.DSN == "" {
			return errors.New("storage.dsn required when storage.enabled is true")
		}
	}
	for _, win := range cfg.Detection.Windows {
		if win <= 0 {
			return fmt.Errorf("detection.windows contains non-positive duration: %s", win)
		}
	}
	if _, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err != nil {
		return fmt.Errorf("ingest.parser.timezone: %w", err)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime atomic.Int64
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	m.touch()
	return m, nil
}

// NewStaticManager serves a fixed config with no backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) touch() {
	if m.path == "" {
		return
	}
	if info, err := os.Stat(m.path); err == nil {
		m.modTime.Store(info.ModTime().UnixNano())
	}
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.touch()
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
	}
	m.cfg.Store(cfg)
	m.touch()
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().UnixNano() > m.modTime.Load(), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
