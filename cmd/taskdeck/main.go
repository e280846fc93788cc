package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/taskdeck/internal/audit"
	"github.com/basket/taskdeck/internal/bus"
	"github.com/basket/taskdeck/internal/config"
	"github.com/basket/taskdeck/internal/cron"
	"github.com/basket/taskdeck/internal/mcp"
	otelPkg "github.com/basket/taskdeck/internal/otel"
	"github.com/basket/taskdeck/internal/registry"
	"github.com/basket/taskdeck/internal/telemetry"
	"github.com/basket/taskdeck/internal/tools"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

SERVE MODE (default):
  %s                          Serve the task tools over MCP on stdio

SUBCOMMANDS:
  %s doctor                   Run environment and store diagnostics
  %s projects                 List registered workspaces
  %s cleanup [options]        Purge soft-deleted tasks past a retention age
                              Options: --older-than-days <n> --workspace <path>

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  TASKDECK_HOME           Data directory (default: ~/.taskdeck)
  TASKDECK_WORKSPACE      Default workspace path when a call omits one
  TASKDECK_LOG_LEVEL      debug|info|warn|error
`)
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	if cfg.AuditEnabled {
		if err := audit.Init(cfg.HomeDir); err != nil {
			fatalStartup(nil, "E_AUDIT_INIT", err)
		}
		defer func() { _ = audit.Close() }()
	}

	// Serving MCP means stdout is the wire: logs stay in the file unless
	// stderr is an interactive terminal.
	subcommand := ""
	if args := flag.Args(); len(args) > 0 {
		subcommand = strings.ToLower(strings.TrimSpace(args[0]))
	}
	quietLogs := subcommand == "" && !isatty.IsTerminal(os.Stderr.Fd())

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint(), "version", Version)

	eventBus := bus.New()

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.OTel.Enabled,
		Exporter:    cfg.OTel.ExporterKind,
		Endpoint:    cfg.OTel.Endpoint,
		ServiceName: cfg.OTel.ServiceName,
		SampleRate:  cfg.OTel.SampleRatio,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(ctx)

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}
	otelPkg.BindBus(ctx, eventBus, metrics, logger)

	manager, err := registry.NewManager(cfg.DataDir, eventBus)
	if err != nil {
		fatalStartup(logger, "E_REGISTRY_OPEN", err)
	}
	defer manager.Close()
	logger.Info("startup phase", "phase", "registry_opened", "data_dir", cfg.DataDir)

	handler, err := tools.NewHandler(tools.HandlerConfig{
		Manager:          manager,
		Logger:           logger,
		Tracer:           otelProvider.Tracer,
		Metrics:          metrics,
		AuditEnabled:     cfg.AuditEnabled,
		DefaultWorkspace: cfg.DefaultWorkspace,
	})
	if err != nil {
		fatalStartup(logger, "E_TOOLS_INIT", err)
	}

	switch subcommand {
	case "":
		// fall through to serve
	case "help", "-h", "--help":
		printUsage()
		return
	case "doctor":
		exitAfterClose(manager, runDoctorCommand(ctx, &cfg))
	case "projects":
		exitAfterClose(manager, runProjectsCommand(ctx, manager))
	case "cleanup":
		exitAfterClose(manager, runCleanupCommand(ctx, handler, flag.Args()[1:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand: %s\n", subcommand)
		printUsage()
		os.Exit(2)
	}

	// Background retention sweep across open stores.
	if cfg.Retention.DeletedTaskDays > 0 {
		sweeper, err := cron.NewScheduler(cron.Config{
			Manager:  manager,
			Logger:   logger,
			Schedule: cfg.Retention.Schedule,
			MaxAge:   time.Duration(cfg.Retention.DeletedTaskDays) * 24 * time.Hour,
		})
		if err != nil {
			fatalStartup(logger, "E_RETENTION_INIT", err)
		}
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	// Reload-on-change for retention settings requires a restart today;
	// the watcher only surfaces the event so operators see it in the log.
	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				logger.Info("configuration changed on disk; restart to apply")
			}
		}()
	}

	logger.Info("startup phase", "phase", "serving_mcp")
	server := mcp.NewServer(handler, logger)
	if err := server.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("mcp server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// exitAfterClose flushes what os.Exit would otherwise skip.
func exitAfterClose(manager *registry.Manager, code int) {
	_ = manager.Close()
	_ = audit.Close()
	os.Exit(code)
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}
