package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/taskdeck/internal/config"
	"github.com/basket/taskdeck/internal/cron"
	"github.com/basket/taskdeck/internal/registry"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkPermissions,
		checkRegistry,
		checkWorkspaceStores,
		checkRetention,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir)}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}

	for _, dir := range []string{cfg.HomeDir, cfg.DataDir} {
		testFile := filepath.Join(dir, ".write_test")
		if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
			return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("%s unwritable: %v", dir, err)}
		}
		os.Remove(testFile)
	}

	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home and data directories writable"}
}

func checkRegistry(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Registry", Status: "SKIP", Message: "Config missing"}
	}

	reg, err := registry.Open(filepath.Join(cfg.DataDir, "projects.db"))
	if err != nil {
		return CheckResult{Name: "Registry", Status: "FAIL", Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer reg.Close()

	projects, err := reg.List(ctx)
	if err != nil {
		return CheckResult{Name: "Registry", Status: "FAIL", Message: fmt.Sprintf("Query failed: %v", err)}
	}

	return CheckResult{Name: "Registry", Status: "PASS", Message: fmt.Sprintf("%d workspace(s) registered", len(projects))}
}

// checkWorkspaceStores runs SQLite's integrity check against every
// registered workspace database without mutating any of them.
func checkWorkspaceStores(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Workspace Stores", Status: "SKIP", Message: "Config missing"}
	}

	reg, err := registry.Open(filepath.Join(cfg.DataDir, "projects.db"))
	if err != nil {
		return CheckResult{Name: "Workspace Stores", Status: "SKIP", Message: "Registry unavailable"}
	}
	defer reg.Close()

	projects, err := reg.List(ctx)
	if err != nil {
		return CheckResult{Name: "Workspace Stores", Status: "FAIL", Message: fmt.Sprintf("Registry query failed: %v", err)}
	}
	if len(projects) == 0 {
		return CheckResult{Name: "Workspace Stores", Status: "PASS", Message: "No workspace stores yet"}
	}

	var broken []string
	for _, p := range projects {
		if err := integrityCheck(ctx, p.DBPath); err != nil {
			broken = append(broken, fmt.Sprintf("%s: %v", p.WorkspaceKey, err))
		}
	}
	if len(broken) > 0 {
		return CheckResult{
			Name:    "Workspace Stores",
			Status:  "FAIL",
			Message: fmt.Sprintf("%d of %d store(s) failed integrity check", len(broken), len(projects)),
			Detail:  fmt.Sprintf("%v", broken),
		}
	}

	return CheckResult{Name: "Workspace Stores", Status: "PASS", Message: fmt.Sprintf("%d store(s) healthy", len(projects))}
}

func checkRetention(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Retention", Status: "SKIP", Message: "Config missing"}
	}
	if cfg.Retention.DeletedTaskDays <= 0 {
		return CheckResult{Name: "Retention", Status: "WARN", Message: "Retention sweep disabled (deleted tasks kept forever)"}
	}
	next, err := cron.NextRunTime(cfg.Retention.Schedule, time.Now())
	if err != nil {
		return CheckResult{Name: "Retention", Status: "FAIL", Message: fmt.Sprintf("Bad schedule %q: %v", cfg.Retention.Schedule, err)}
	}
	return CheckResult{
		Name:    "Retention",
		Status:  "PASS",
		Message: fmt.Sprintf("Purging tombstones after %d day(s)", cfg.Retention.DeletedTaskDays),
		Detail:  fmt.Sprintf("next sweep %s", next.Format(time.RFC3339)),
	}
}
