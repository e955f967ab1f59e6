package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML values like "30s" or "10m" as well as integer
// nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", raw, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	*d = Duration(ns)
	return nil
}

// Config captures the settings required to boot the deploywatch engine.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Clients ClientsConfig `yaml:"clients"`
	Tracker TrackerConfig `yaml:"tracker"`
	Rules   RulesConfig   `yaml:"rules"`
	Logging LoggingConfig `yaml:"logging"`
	Cache   CacheConfig   `yaml:"cache"`
	Archive ArchiveConfig `yaml:"archive"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string   `yaml:"address"`
	MetricsAddress  string   `yaml:"metricsAddress"`
	GracefulTimeout Duration `yaml:"gracefulTimeout"`
}

// ClientsConfig groups the collaborator integrations.
type ClientsConfig struct {
	SourceControl SourceControlConfig `yaml:"sourceControl"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
}

// SourceControlConfig configures access to the source-control provider API.
type SourceControlConfig struct {
	BaseURL     string   `yaml:"baseURL"`
	CommitsPath string   `yaml:"commitsPath"`
	DiffPath    string   `yaml:"diffPath"`
	HeadPath    string   `yaml:"headPath"`
	Token       string   `yaml:"token"`
	Timeout     Duration `yaml:"timeout"`
}

// MonitoringConfig configures access to the alerting/metrics backend.
type MonitoringConfig struct {
	BaseURL      string   `yaml:"baseURL"`
	AlertsPath   string   `yaml:"alertsPath"`
	SnapshotPath string   `yaml:"snapshotPath"`
	Timeout      Duration `yaml:"timeout"`
}

// TrackerConfig controls the deployment lifecycle tracker.
type TrackerConfig struct {
	DetectionInterval Duration `yaml:"detectionInterval"`
	MonitorInterval   Duration `yaml:"monitorInterval"`
	CompletionAfter   Duration `yaml:"completionAfter"`
	CorrelationWindow Duration `yaml:"correlationWindow"`
	Services          []string `yaml:"services"`
}

// RulesConfig controls rule-pack loading for the recommender.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls Valkey-backed caching of collaborator lookups.
type CacheConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Addr         string   `yaml:"addr"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db"`
	DialTimeout  Duration `yaml:"dialTimeout"`
	ReadTimeout  Duration `yaml:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout"`
	TLS          bool     `yaml:"tls"`
	DiffTTL      Duration `yaml:"diffTTL"`
	AlertsTTL    Duration `yaml:"alertsTTL"`
}

// ArchiveConfig controls the optional Postgres incident archive.
type ArchiveConfig struct {
	Enabled     bool   `yaml:"enabled"`
	DatabaseURL string `yaml:"databaseURL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("DEPLOYWATCH_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: Duration(10 * time.Second),
		},
		Clients: ClientsConfig{
			SourceControl: SourceControlConfig{
				CommitsPath: "/api/v1/commits",
				DiffPath:    "/api/v1/diff",
				HeadPath:    "/api/v1/head",
				Timeout:     Duration(5 * time.Second),
			},
			Monitoring: MonitoringConfig{
				AlertsPath:   "/api/v1/alerts",
				SnapshotPath: "/api/v1/snapshot",
				Timeout:      Duration(5 * time.Second),
			},
		},
		Tracker: TrackerConfig{
			DetectionInterval: Duration(30 * time.Second),
			MonitorInterval:   Duration(15 * time.Second),
			CompletionAfter:   Duration(10 * time.Minute),
			CorrelationWindow: Duration(5 * time.Minute),
		},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml"},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  Duration(2 * time.Second),
			ReadTimeout:  Duration(500 * time.Millisecond),
			WriteTimeout: Duration(500 * time.Millisecond),
			DiffTTL:      Duration(10 * time.Minute),
			AlertsTTL:    Duration(time.Minute),
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEPLOYWATCH_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("DEPLOYWATCH_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("DEPLOYWATCH_SCM_BASE_URL"); v != "" {
		cfg.Clients.SourceControl.BaseURL = v
	}
	if v := os.Getenv("DEPLOYWATCH_SCM_TOKEN"); v != "" {
		cfg.Clients.SourceControl.Token = v
	}
	if v := os.Getenv("DEPLOYWATCH_MONITORING_BASE_URL"); v != "" {
		cfg.Clients.Monitoring.BaseURL = v
	}
	if v := os.Getenv("DEPLOYWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DEPLOYWATCH_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("DEPLOYWATCH_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("DEPLOYWATCH_TRACKER_SERVICES"); v != "" {
		cfg.Tracker.Services = splitServices(v)
	}
	if v := os.Getenv("DEPLOYWATCH_DETECTION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tracker.DetectionInterval = Duration(d)
		}
	}
	if v := os.Getenv("DEPLOYWATCH_MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tracker.MonitorInterval = Duration(d)
		}
	}
	if v := os.Getenv("DEPLOYWATCH_COMPLETION_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tracker.CompletionAfter = Duration(d)
		}
	}
	if v := os.Getenv("DEPLOYWATCH_CORRELATION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tracker.CorrelationWindow = Duration(d)
		}
	}
	if v := os.Getenv("DEPLOYWATCH_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("DEPLOYWATCH_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("DEPLOYWATCH_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("DEPLOYWATCH_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("DEPLOYWATCH_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("DEPLOYWATCH_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("DEPLOYWATCH_ARCHIVE_ENABLED"); v != "" {
		cfg.Archive.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Archive.DatabaseURL = v
	}
}

func splitServices(raw string) []string {
	parts := strings.Split(raw, ",")
	services := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			services = append(services, trimmed)
		}
	}
	return services
}
