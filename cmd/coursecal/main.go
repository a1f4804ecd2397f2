// Coursecal keeps a learner's calendar consistent with the due-date schedule
// of each enrolled course: it fingerprints schedule data, reconciles the
// shared course calendar per course, and reacts to schedule changes on disk.
//
// Usage:
//
//	coursecal daemon [--config <path>]     # watch schedules + periodic sweep
//	coursecal sync-once [--config <path>]  # single reconcile pass then exit
//	coursecal status                       # show config & state DB summary
//	coursecal version                      # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/njoerd114/coursecal/internal/config"
	"github.com/njoerd114/coursecal/internal/icscal"
	"github.com/njoerd114/coursecal/internal/reminders"
	"github.com/njoerd114/coursecal/internal/schedule"
	"github.com/njoerd114/coursecal/internal/state"
	syncp "github.com/njoerd114/coursecal/internal/sync"
	"github.com/njoerd114/coursecal/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "daemon":
		return runSync(os.Args[2:], true)
	case "sync-once":
		return runSync(os.Args[2:], false)
	case "status":
		return runStatus()
	case "version":
		fmt.Println("coursecal", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q; run 'coursecal' for usage", cmd)
	}
}

func printUsage() error {
	fmt.Fprintln(os.Stderr, "coursecal keeps your calendar in step with your course deadlines")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  coursecal daemon [--config ...]      Watch schedules + periodic sweep")
	fmt.Fprintln(os.Stderr, "  coursecal sync-once [--config ...]   Single sync pass then exit")
	fmt.Fprintln(os.Stderr, "  coursecal status                     Show config & state DB summary")
	fmt.Fprintln(os.Stderr, "  coursecal version                    Print version")
	fmt.Fprintln(os.Stderr, "")

	os.Exit(1)
	return nil // unreachable
}

// runSync handles both "daemon" and "sync-once" subcommands.
func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return startSync(*cfgPath, *verbose, daemon)
}

// runStatus prints the current configuration and state summary.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()

	fmt.Println("Coursecal Status")
	fmt.Println("----------------")

	if _, err := os.Stat(cfgPath); err == nil {
		if cfg, loadErr := config.Load(cfgPath); loadErr == nil {
			fmt.Printf("  Config:     %s\n", cfgPath)
			fmt.Printf("  Schedules:  %s\n", cfg.SchedulesDir)
			fmt.Printf("  Backend:    %s\n", cfg.Calendar.Backend)
			fmt.Printf("  Sweep:      %s\n", cfg.SweepSchedule)
		} else {
			fmt.Printf("  Config:     %s (invalid: %v)\n", cfgPath, loadErr)
		}
	} else {
		fmt.Printf("  Config:     not found (%s)\n", cfgPath)
	}

	dbPath, err := state.DefaultDBPath()
	if err == nil {
		if info, statErr := os.Stat(dbPath); statErr == nil {
			fmt.Printf("  State DB:   %s (%d bytes)\n", dbPath, info.Size())
		} else {
			fmt.Println("  State DB:   not found")
		}
	}

	if icsPath, err := icscal.DefaultPath(); err == nil {
		if _, statErr := os.Stat(icsPath); statErr == nil {
			fmt.Printf("  Calendar:   %s\n", icsPath)
		}
	}

	return nil
}

// startSync is the shared implementation for daemon and sync-once modes.
func startSync(cfgPath string, verbose, daemon bool) error {
	// --- Logger --------------------------------------------------------------

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	logger.Info("config loaded",
		"schedules_dir", cfg.SchedulesDir,
		"backend", cfg.Calendar.Backend,
		"sweep_schedule", cfg.SweepSchedule,
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- State DB ------------------------------------------------------------

	dbPath := cfg.StateDBPath
	if dbPath == "" {
		if dbPath, err = state.DefaultDBPath(); err != nil {
			return fmt.Errorf("resolving state DB path: %w", err)
		}
	}
	store, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening state DB at %q: %w", dbPath, err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("closing state DB", "error", closeErr)
		}
	}()
	logger.Info("state DB opened", "path", dbPath)

	// --- Schedule source -----------------------------------------------------

	source := schedule.NewDirSource(cfg.SchedulesDir, logger)

	// --- Calendar provider ---------------------------------------------------

	provider, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if !provider.HasPermission(ctx) {
		logger.Warn("calendar permission absent, requesting")
		ok, err := provider.RequestPermission(ctx)
		if err != nil {
			return fmt.Errorf("requesting calendar permission: %w", err)
		}
		if !ok {
			logger.Warn("calendar permission not granted; courses stay offline until access is granted")
		}
	}

	// --- Sync engine ---------------------------------------------------------

	colorARGB, err := cfg.Calendar.ColorARGB()
	if err != nil {
		return err
	}

	notifier := syncp.NewNotifier()
	reconciler := syncp.NewReconciler(provider, source, store, notifier, cfg.Calendar.Title, colorARGB, logger)
	sched := syncp.NewScheduler(func(ctx context.Context, courseID string) {
		if _, err := reconciler.SyncCourse(ctx, courseID); err != nil {
			logger.Error("sync failed", "course_id", courseID, "error", err)
		}
	}, cfg.DebounceWindow, logger)
	defer sched.Close()

	service := syncp.NewService(provider, source, store, notifier, sched, reconciler, logger)

	// --- Dispatch mode -------------------------------------------------------

	if !daemon {
		logger.Info("running single sync pass")
		stats, err := service.RunOnce(ctx)
		logger.Info("sync complete", "upserted", stats.Upserted, "deleted", stats.Deleted)
		return err
	}

	engine := syncp.NewEngine(service, sched, cfg.SweepSchedule, logger)

	watcher, err := schedule.NewWatcher(cfg.SchedulesDir, engine.OnScheduleChange, logger)
	if err != nil {
		return fmt.Errorf("watching schedules dir %q: %w", cfg.SchedulesDir, err)
	}
	defer func() {
		if closeErr := watcher.Close(); closeErr != nil {
			logger.Error("closing schedule watcher", "error", closeErr)
		}
	}()
	go func() {
		if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("schedule watcher stopped", "error", err)
		}
	}()

	logger.Info("daemon starting", "debounce_window", cfg.DebounceWindow)
	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync engine: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// newProvider builds the configured calendar backend.
func newProvider(cfg *config.Config, logger *slog.Logger) (syncp.CalendarProvider, error) {
	switch cfg.Calendar.Backend {
	case config.BackendICS:
		path := cfg.Calendar.ICSPath
		if path == "" {
			var err error
			if path, err = icscal.DefaultPath(); err != nil {
				return nil, fmt.Errorf("resolving calendar file path: %w", err)
			}
		}
		return icscal.NewProvider(path, logger), nil
	case config.BackendReminders:
		p, err := reminders.NewProvider(cfg.Calendar.RemindersList, logger)
		if err != nil {
			return nil, fmt.Errorf("initialising reminders backend: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown calendar backend %q", cfg.Calendar.Backend)
	}
}
