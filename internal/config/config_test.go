package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TASKDECK_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q, want info", cfg.LogLevel)
	}
	if cfg.Retention.DeletedTaskDays != 30 {
		t.Errorf("retention days = %d, want 30", cfg.Retention.DeletedTaskDays)
	}
	if cfg.Retention.Schedule != "@hourly" {
		t.Errorf("schedule = %q, want @hourly", cfg.Retention.Schedule)
	}
	if cfg.DataDir != filepath.Join(cfg.HomeDir, "data") {
		t.Errorf("data dir = %q, want under home", cfg.DataDir)
	}
	if !cfg.AuditEnabled {
		t.Error("audit should default on")
	}
}

func TestLoadFromFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TASKDECK_HOME", home)

	yaml := `
log_level: DEBUG
data_dir: /var/lib/taskdeck
retention:
  deleted_task_days: 7
  schedule: "0 3 * * *"
otel:
  enabled: true
  exporter: otlp
  endpoint: localhost:4318
`
	if err := os.WriteFile(ConfigPath(home), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level not normalized: %q", cfg.LogLevel)
	}
	if cfg.DataDir != "/var/lib/taskdeck" {
		t.Errorf("data dir = %q", cfg.DataDir)
	}
	if cfg.Retention.DeletedTaskDays != 7 || cfg.Retention.Schedule != "0 3 * * *" {
		t.Errorf("retention = %+v", cfg.Retention)
	}
	if !cfg.OTel.Enabled || cfg.OTel.Endpoint != "localhost:4318" {
		t.Errorf("otel = %+v", cfg.OTel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TASKDECK_HOME", t.TempDir())
	t.Setenv("TASKDECK_LOG_LEVEL", "warn")
	t.Setenv("TASKDECK_RETENTION_DAYS", "3")
	t.Setenv("TASKDECK_DATA_DIR", "/tmp/td-data")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
	if cfg.Retention.DeletedTaskDays != 3 {
		t.Errorf("retention days = %d", cfg.Retention.DeletedTaskDays)
	}
	if cfg.DataDir != "/tmp/td-data" {
		t.Errorf("data dir = %q", cfg.DataDir)
	}
}

func TestRejectsBadValues(t *testing.T) {
	home := t.TempDir()
	t.Setenv("TASKDECK_HOME", home)

	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"bad log level", "log_level: loud\n", "log_level"},
		{"bad schedule", "retention:\n  deleted_task_days: 5\n  schedule: \"not a cron\"\n", "retention.schedule"},
		{"bad exporter", "otel:\n  exporter: jaeger\n", "otel.exporter"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := os.WriteFile(ConfigPath(home), []byte(tc.yaml), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q error, got %v", tc.want, err)
			}
		})
	}
}

func TestFingerprintStable(t *testing.T) {
	a := defaultConfig()
	b := defaultConfig()
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("identical configs should share a fingerprint")
	}
	b.Retention.DeletedTaskDays = 99
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("changed retention should change the fingerprint")
	}
}

func TestNegativeRetentionDisables(t *testing.T) {
	cfg := defaultConfig()
	cfg.Retention.DeletedTaskDays = -5
	normalize(&cfg)
	if cfg.Retention.DeletedTaskDays != 0 {
		t.Errorf("negative retention should clamp to 0, got %d", cfg.Retention.DeletedTaskDays)
	}
}
