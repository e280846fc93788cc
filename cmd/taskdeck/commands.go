package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/basket/taskdeck/internal/config"
	"github.com/basket/taskdeck/internal/doctor"
	"github.com/basket/taskdeck/internal/registry"
	"github.com/basket/taskdeck/internal/tools"
)

// runDoctorCommand prints diagnostics for the local taskdeck installation.
func runDoctorCommand(ctx context.Context, cfg *config.Config) int {
	d := doctor.Run(ctx, cfg, Version)

	fmt.Printf("taskdeck %s (%s/%s, %s)\n\n", d.System.Version, d.System.OS, d.System.Arch, d.System.Go)
	exit := 0
	for _, r := range d.Results {
		fmt.Printf("[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if r.Detail != "" {
			fmt.Printf("       %s\n", r.Detail)
		}
		if r.Status == "FAIL" {
			exit = 1
		}
	}
	return exit
}

// runProjectsCommand prints the workspace registry, most recently used first.
func runProjectsCommand(ctx context.Context, manager *registry.Manager) int {
	projects, err := manager.Registry().List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list projects: %v\n", err)
		return 1
	}
	if len(projects) == 0 {
		fmt.Println("no workspaces registered yet")
		return 0
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tNAME\tPATH\tLAST ACCESSED")
	for _, p := range projects {
		name := p.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.WorkspaceKey, name, p.Path, p.LastAccessedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
	return 0
}

// runCleanupCommand purges soft-deleted tasks in one workspace through the
// same code path the cleanup_deleted tool uses.
func runCleanupCommand(ctx context.Context, handler *tools.Handler, args []string) int {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	olderThanDays := fs.Float64("older-than-days", 30, "purge tombstones older than this many days (0 purges all)")
	workspacePath := fs.String("workspace", "", "workspace path (default: current directory)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	callArgs, err := json.Marshal(map[string]any{
		"workspace":       *workspacePath,
		"older_than_days": *olderThanDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleanup: %v\n", err)
		return 1
	}
	result, err := handler.Call(ctx, "cleanup_deleted", callArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleanup: %v\n", err)
		return 1
	}
	out, _ := json.Marshal(result)
	fmt.Println(string(out))
	return 0
}
