package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level" toml:"log_level"`
	Schema    SchemaConfig    `json:"schema" yaml:"schema" toml:"schema"`
	Analysis  AnalysisConfig  `json:"analysis" yaml:"analysis" toml:"analysis"`
	Detection DetectionConfig `json:"detection" yaml:"detection" toml:"detection"`
	Timeline  TimelineConfig  `json:"timeline" yaml:"timeline" toml:"timeline"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest" toml:"ingest"`
	API       APIConfig       `json:"api" yaml:"api" toml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage" toml:"storage"`
	Export    ExportConfig    `json:"export" yaml:"export" toml:"export"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics" toml:"metrics"`
	Anomalies AnomaliesConfig `json:"anomalies" yaml:"anomalies" toml:"anomalies"`
}

type AnalysisConfig struct {
	Timezone               string        `json:"timezone" yaml:"timezone" toml:"timezone"`
	Timeout                time.Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	MaxBytes               int64         `json:"max_bytes" yaml:"max_bytes" toml:"max_bytes"`
	ParseWorkers           int           `json:"parse_workers" yaml:"parse_workers" toml:"parse_workers"`
	TopN                   int           `json:"top_n" yaml:"top_n" toml:"top_n"`
	SuspiciousIPMultiplier float64       `json:"suspicious_ip_multiplier" yaml:"suspicious_ip_multiplier" toml:"suspicious_ip_multiplier"`
}

type TimelineConfig struct {
	SensitiveMarkers []string `json:"sensitive_markers" yaml:"sensitive_markers" toml:"sensitive_markers"`
	BlockRateInsight float64  `json:"block_rate_insight" yaml:"block_rate_insight" toml:"block_rate_insight"`
	HighRiskScore    int      `json:"high_risk_score" yaml:"high_risk_score" toml:"high_risk_score"`
}

type IngestConfig struct {
	AllowedExtensions []string    `json:"allowed_extensions" yaml:"allowed_extensions" toml:"allowed_extensions"`
	Spool             SpoolConfig `json:"spool" yaml:"spool" toml:"spool"`
	Kafka             KafkaConfig `json:"kafka" yaml:"kafka" toml:"kafka"`
	DefaultOwner      string      `json:"default_owner" yaml:"default_owner" toml:"default_owner"`
}

type SpoolConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Dir          string `json:"dir" yaml:"dir" toml:"dir"`
	Owner        string `json:"owner" yaml:"owner" toml:"owner"`
	RemoveOnDone bool   `json:"remove_on_done" yaml:"remove_on_done" toml:"remove_on_done"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers" toml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic" toml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id" toml:"group_id"`
}

type APIConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Addr           string `json:"addr" yaml:"addr" toml:"addr"`
	MaxUploadBytes int64  `json:"max_upload_bytes" yaml:"max_upload_bytes" toml:"max_upload_bytes"`
}

type StorageConfig struct {
	Driver string `json:"driver" yaml:"driver" toml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn" toml:"dsn"`
}

type ExportConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	DSN     string `json:"dsn" yaml:"dsn" toml:"dsn"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit" toml:"store_limit"`
}

type AnomaliesConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit" toml:"store_limit"`
}

const defaultMaxBytes = 100 << 20

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Schema:   DefaultSchema(),
		Analysis: AnalysisConfig{
			Timezone:               "UTC",
			Timeout:                2 * time.Minute,
			MaxBytes:               defaultMaxBytes,
			ParseWorkers:           4,
			TopN:                   10,
			SuspiciousIPMultiplier: 3,
		},
		Detection: DefaultDetection(),
		Timeline: TimelineConfig{
			SensitiveMarkers: []string{"HR", "Admin", "Salary"},
			BlockRateInsight: 10,
			HighRiskScore:    70,
		},
		Ingest: IngestConfig{
			AllowedExtensions: []string{".log", ".txt", ".csv"},
			Spool:             SpoolConfig{Enabled: false, Dir: "spool", RemoveOnDone: true},
			Kafka:             KafkaConfig{Enabled: false},
			DefaultOwner:      "anonymous",
		},
		API:       APIConfig{Enabled: true, Addr: ":8080", MaxUploadBytes: defaultMaxBytes},
		Storage:   StorageConfig{Driver: "sqlite", DSN: "file:gatewaylens.db?_pragma=busy_timeout(5000)"},
		Export:    ExportConfig{Enabled: false},
		Metrics:   MetricsConfig{StoreLimit: 1000},
		Anomalies: AnomaliesConfig{StoreLimit: 500},
	}
}

// Load reads a YAML, JSON or TOML file over the defaults. An empty path
// yields the defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return errors.New("config file is empty")
	}
	var decodeErr error
	switch {
	case strings.EqualFold(filepath.Ext(path), ".toml"):
		_, decodeErr = toml.Decode(trimmed, cfg)
	case looksLikeJSON(trimmed):
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	default:
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return fmt.Errorf("decode %s: %w", path, decodeErr)
	}
	return nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".toml":
		var b strings.Builder
		err = toml.NewEncoder(&b).Encode(cfg)
		data = []byte(b.String())
	default:
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GATEWAYLENS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("GATEWAYLENS_TIMEZONE"); v != "" {
		cfg.Analysis.Timezone = v
	}
	if v := os.Getenv("GATEWAYLENS_API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("GATEWAYLENS_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("GATEWAYLENS_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("GATEWAYLENS_EXPORT_DSN"); v != "" {
		cfg.Export.DSN = v
		cfg.Export.Enabled = true
	}
	if v := os.Getenv("GATEWAYLENS_KAFKA_BROKERS"); v != "" {
		cfg.Ingest.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("GATEWAYLENS_SPOOL_DIR"); v != "" {
		cfg.Ingest.Spool.Dir = v
		cfg.Ingest.Spool.Enabled = true
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Analysis.Timezone == "" {
		cfg.Analysis.Timezone = "UTC"
	}
	if cfg.Analysis.Timeout <= 0 {
		cfg.Analysis.Timeout = 2 * time.Minute
	}
	if cfg.Analysis.MaxBytes <= 0 {
		cfg.Analysis.MaxBytes = defaultMaxBytes
	}
	if cfg.Analysis.ParseWorkers <= 0 {
		cfg.Analysis.ParseWorkers = 4
	}
	if cfg.Analysis.TopN <= 0 {
		cfg.Analysis.TopN = 10
	}
	if cfg.Analysis.SuspiciousIPMultiplier <= 0 {
		cfg.Analysis.SuspiciousIPMultiplier = 3
	}
	if cfg.API.MaxUploadBytes <= 0 {
		cfg.API.MaxUploadBytes = defaultMaxBytes
	}
	if cfg.Schema.MinFields <= 0 {
		cfg.Schema.MinFields = 20
	}
	if len(cfg.Schema.Fields) == 0 {
		def := DefaultSchema()
		cfg.Schema.Fields = def.Fields
		if cfg.Schema.Name == "" {
			cfg.Schema.Name, cfg.Schema.Version = def.Name, def.Version
		}
	}
	if cfg.Detection.DedupeStrategy == "" {
		cfg.Detection.DedupeStrategy = DedupeFirst
	}
	if len(cfg.Ingest.AllowedExtensions) == 0 {
		cfg.Ingest.AllowedExtensions = []string{".log", ".txt", ".csv"}
	}
	if cfg.Ingest.DefaultOwner == "" {
		cfg.Ingest.DefaultOwner = "anonymous"
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = 1000
	}
	if cfg.Anomalies.StoreLimit <= 0 {
		cfg.Anomalies.StoreLimit = 500
	}
}

func Validate(cfg *Config) error {
	if _, err := time.LoadLocation(cfg.Analysis.Timezone); err != nil {
		return fmt.Errorf("analysis.timezone: %w", err)
	}
	if err := cfg.Schema.Validate(); err != nil {
		return err
	}
	if err := cfg.Detection.Validate(); err != nil {
		return err
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("storage.driver %q not supported", cfg.Storage.Driver)
	}
	if cfg.Ingest.Spool.Enabled && cfg.Ingest.Spool.Dir == "" {
		return errors.New("ingest.spool.dir required when ingest.spool.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Export.Enabled && cfg.Export.DSN == "" {
		return errors.New("export.dsn required when export.enabled is true")
	}
	return nil
}

// Location resolves the analysis timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Analysis.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	if path != "" {
		if info, err := os.Stat(path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config that is never reloaded.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
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
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
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
