package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// OTelConfig controls the optional OpenTelemetry pipeline. Disabled by
// default; when enabled with no endpoint, spans go to stdout-style
// debug output in the log directory rather than the wire.
type OTelConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SampleRatio  float64 `yaml:"sample_ratio"`
	ExporterKind string  `yaml:"exporter"` // "otlp", "stdout"
}

// RetentionConfig controls background purging of soft-deleted tasks.
type RetentionConfig struct {
	// Days a soft-deleted task survives before it is permanently purged.
	// 0 disables the background sweep entirely.
	DeletedTaskDays int `yaml:"deleted_task_days"`

	// Schedule is a cron expression for the sweep. Empty uses the default
	// (hourly).
	Schedule string `yaml:"schedule"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	// DataDir holds the projects registry and per-workspace task
	// databases. Defaults to <home>/data.
	DataDir string `yaml:"data_dir"`

	LogLevel string `yaml:"log_level"`

	// DefaultWorkspace is used when neither the tool call nor the
	// environment names a workspace. Empty falls back to the process
	// working directory.
	DefaultWorkspace string `yaml:"default_workspace"`

	Retention RetentionConfig `yaml:"retention"`
	OTel      OTelConfig      `yaml:"otel"`

	// AuditEnabled records every mutating tool call to logs/audit.jsonl.
	AuditEnabled bool `yaml:"audit_enabled"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Fingerprint returns a stable hash of the active config, logged at
// startup so operators can tell which settings a process is running with.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "data=%s|log=%s|ws=%s|retain=%d|sched=%s|otel=%v",
		c.DataDir, c.LogLevel, c.DefaultWorkspace,
		c.Retention.DeletedTaskDays, c.Retention.Schedule, c.OTel.Enabled)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Retention: RetentionConfig{
			DeletedTaskDays: 30,
			Schedule:        "@hourly",
		},
		OTel: OTelConfig{
			ServiceName:  "taskdeck",
			SampleRatio:  1.0,
			ExporterKind: "stdout",
		},
		AuditEnabled: true,
	}
}

// HomeDir resolves the taskdeck home directory. TASKDECK_HOME overrides;
// otherwise ~/.taskdeck.
func HomeDir() string {
	if override := os.Getenv("TASKDECK_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".taskdeck")
}

// Load reads config.yaml from the taskdeck home, applies environment
// overrides and defaults, and validates the result. A missing config
// file is not an error; defaults apply.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create taskdeck home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = filepath.Join(cfg.HomeDir, "data")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.Retention.DeletedTaskDays < 0 {
		cfg.Retention.DeletedTaskDays = 0
	}
	if strings.TrimSpace(cfg.Retention.Schedule) == "" {
		cfg.Retention.Schedule = "@hourly"
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "taskdeck"
	}
	if cfg.OTel.SampleRatio <= 0 || cfg.OTel.SampleRatio > 1 {
		cfg.OTel.SampleRatio = 1.0
	}
	if cfg.OTel.ExporterKind == "" {
		cfg.OTel.ExporterKind = "stdout"
	}
}

func validate(cfg *Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q: must be one of debug, info, warn, error", cfg.LogLevel)
	}
	if cfg.Retention.DeletedTaskDays > 0 {
		if _, err := cron.ParseStandard(cfg.Retention.Schedule); err != nil {
			return fmt.Errorf("retention.schedule %q: %w", cfg.Retention.Schedule, err)
		}
	}
	switch cfg.OTel.ExporterKind {
	case "otlp", "stdout":
	default:
		return fmt.Errorf("otel.exporter %q: must be otlp or stdout", cfg.OTel.ExporterKind)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("TASKDECK_DATA_DIR"); raw != "" {
		cfg.DataDir = raw
	}
	if raw := os.Getenv("TASKDECK_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("TASKDECK_RETENTION_DAYS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Retention.DeletedTaskDays = v
		}
	}
	if raw := os.Getenv("TASKDECK_RETENTION_SCHEDULE"); raw != "" {
		cfg.Retention.Schedule = raw
	}
	if raw := os.Getenv("TASKDECK_OTEL_ENDPOINT"); raw != "" {
		cfg.OTel.Enabled = true
		cfg.OTel.Endpoint = raw
		cfg.OTel.ExporterKind = "otlp"
	}
}
