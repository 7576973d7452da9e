// Calsnap is a daemon that periodically pulls events from a remote calendar
// (an ICS feed or the Google Calendar API), reconciles them against the
// locally persisted snapshot, and keeps that snapshot query-ready for
// downstream readers.
//
// Usage:
//
//	calsnapd daemon [--config <path>]     # scheduled syncs until interrupted
//	calsnapd sync-once [--force] [...]    # single sync pass then exit
//	calsnapd login [--config <path>]      # Google OAuth bootstrap
//	calsnapd status                       # show config, snapshot, history
//	calsnapd version                      # print version
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

	"github.com/calsnap/calsnap/internal/config"
	"github.com/calsnap/calsnap/internal/google"
	"github.com/calsnap/calsnap/internal/history"
	"github.com/calsnap/calsnap/internal/ics"
	"github.com/calsnap/calsnap/internal/snapshot"
	syncp "github.com/calsnap/calsnap/internal/sync"
	"github.com/calsnap/calsnap/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "daemon":
		return runSync(os.Args[2:], true)
	case "sync-once":
		return runSync(os.Args[2:], false)
	case "login":
		return runLogin(os.Args[2:])
	case "status":
		return runStatus(os.Args[2:])
	case "version":
		fmt.Println("calsnapd", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q, run 'calsnapd' for usage", cmd)
	}
}

// printUsage shows help and hints at the config path when none exists yet.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "calsnapd: keep a durable local snapshot of a remote calendar")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  calsnapd daemon [--config ...]        Run scheduled syncs until interrupted")
	fmt.Fprintln(os.Stderr, "  calsnapd sync-once [--force] [...]    Single sync pass then exit")
	fmt.Fprintln(os.Stderr, "  calsnapd login [--config ...]         Authenticate with Google Calendar")
	fmt.Fprintln(os.Stderr, "  calsnapd status                       Show config, snapshot, and history state")
	fmt.Fprintln(os.Stderr, "  calsnapd version                      Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found. Create one at %s to get started.\n", cfgPath)
	}

	os.Exit(1)
	return nil // unreachable
}

// --- Subcommands -------------------------------------------------------------

// runSync handles both "daemon" and "sync-once".
func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	force := fs.Bool("force", false, "sync even when the snapshot is fresh")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if daemon && *force {
		return fmt.Errorf("--force only applies to sync-once")
	}

	logger := newLogger(*verbose)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}
	logger.Info("config loaded",
		"provider", cfg.Source.Provider,
		"cadence_hours", cfg.Sync.CadenceHours,
		"lookahead_weeks", cfg.Sync.LookaheadWeeks,
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

	// --- Collaborators -------------------------------------------------------

	source, auth, sourceID, err := buildSource(cfg, logger)
	if err != nil {
		return err
	}

	snapStore := snapshot.NewStore(cfg.SnapshotPath)

	histStore, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		return fmt.Errorf("opening history DB at %q: %w", cfg.HistoryDBPath, err)
	}
	defer func() {
		if closeErr := histStore.Close(); closeErr != nil {
			logger.Error("closing history DB", "error", closeErr)
		}
	}()

	engine := syncp.NewEngine(syncp.Options{
		Config:    config.FileSource{Path: *cfgPath},
		Auth:      auth,
		Source:    source,
		Snapshots: snapStore,
		History:   histStore,
		SourceID:  sourceID,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Dispatch mode -------------------------------------------------------

	if !daemon {
		logger.Info("running single sync pass", "force", *force)
		res, err := engine.RunSync(ctx, *force)
		if err != nil {
			return fmt.Errorf("sync: %w", err)
		}
		for _, w := range res.Warnings {
			logger.Warn("validation warning", "detail", w)
		}
		logger.Info("sync complete",
			"up_to_date", res.UpToDate,
			"events", res.EventCount,
			"conflicts", len(res.Conflicts),
			"duration", res.Duration,
		)
		return nil
	}

	return runDaemon(ctx, engine, cfg, logger)
}

// runDaemon starts the scheduler and logs state transitions until the
// context is cancelled.
func runDaemon(ctx context.Context, engine *syncp.Engine, cfg *config.Config, logger *slog.Logger) error {
	states, unsubscribe := engine.ObserveState()
	defer unsubscribe()
	go func() {
		for st := range states {
			logger.Debug("sync state",
				"status", st.Status,
				"last_sync", st.LastSyncTime,
				"next_sync", st.NextSyncTime,
				"retry_count", st.RetryCount,
			)
		}
	}()

	scheduler := syncp.NewScheduler(engine, logger)
	scheduler.Schedule(cfg.Sync.Cadence(), cfg.Sync.QuietHours)
	scheduler.Start()
	logger.Info("daemon started", "cadence", cfg.Sync.Cadence())

	// Run an immediate first pass so the snapshot is warm.
	if cfg.Sync.Enabled {
		if _, err := engine.RunSync(ctx, false); err != nil && !errors.Is(err, syncp.ErrAlreadyInProgress) {
			logger.Error("initial sync failed", "error", err)
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")
	engine.Cancel()
	scheduler.CancelScheduled()
	<-scheduler.Stop().Done()
	logger.Info("shutdown complete")
	return nil
}

// runLogin performs the Google OAuth bootstrap.
func runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := newLogger(false)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}
	if cfg.Source.Provider != "google" {
		return fmt.Errorf("login only applies to the google provider (configured: %s)", cfg.Source.Provider)
	}

	client, err := google.NewClient(cfg.Source.CredentialsFile, cfg.Source.TokenFile, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return client.Login(ctx)
}

// runStatus prints the current configuration, snapshot, and history state.
func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Println("Calsnap Status")
	fmt.Println("──────────────")

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Printf("  Config:    %s (%v)\n", *cfgPath, err)
		return nil
	}
	fmt.Printf("  Config:    %s ✓\n", *cfgPath)
	fmt.Printf("  Provider:  %s\n", cfg.Source.Provider)
	fmt.Printf("  Cadence:   %dh\n", cfg.Sync.CadenceHours)
	if q := cfg.Sync.QuietHours; q != nil {
		fmt.Printf("  Quiet:     %02d:00–%02d:00\n", q.StartHour, q.EndHour)
	}

	snapStore := snapshot.NewStore(cfg.SnapshotPath)
	doc, err := snapStore.Read()
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		fmt.Println("  Snapshot:  not written yet")
	case err != nil:
		fmt.Printf("  Snapshot:  %v\n", err)
	default:
		fmt.Printf("  Snapshot:  %s (%d events", snapStore.Path(), doc.EventCount)
		if doc.LastSyncTime != nil {
			fmt.Printf(", synced %s", doc.LastSyncTime.Local().Format(time.RFC1123))
		}
		fmt.Println(")")
	}

	histStore, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		fmt.Printf("  History:   %v\n", err)
		return nil
	}
	defer histStore.Close()

	stats, err := histStore.LoadStatistics(context.Background())
	if err != nil {
		fmt.Printf("  History:   %v\n", err)
		return nil
	}
	fmt.Printf("  Attempts:  %d (%d ok, %d failed, %.0f%% success)\n",
		stats.TotalAttempts, stats.Successes, stats.Failures, stats.SuccessRate()*100)
	fmt.Printf("  Streak:    %d current, %d longest\n", stats.CurrentStreak, stats.LongestStreak)
	if stats.TotalAttempts > 0 {
		fmt.Printf("  Avg time:  %s\n", stats.AvgDuration.Round(time.Millisecond))
	}
	if stats.Successes > 0 {
		fmt.Printf("  Avg size:  %.1f events per sync\n", stats.AvgEventsPerSuccess())
	}

	recent, err := histStore.RecentAttempts(context.Background(), 5)
	if err != nil {
		fmt.Printf("  Recent:    %v\n", err)
		return nil
	}
	for _, a := range recent {
		line := fmt.Sprintf("%s  %-7s", a.StartedAt.Local().Format("2006-01-02 15:04"), a.Status)
		if a.Status == "success" {
			line += fmt.Sprintf(" %d events", a.EventCount)
		} else if a.Error != "" {
			line += " " + a.Error
		}
		fmt.Println("    " + line)
	}

	return nil
}

// --- Helpers -----------------------------------------------------------------

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// buildSource constructs the remote fetch and auth collaborators for the
// configured provider.
func buildSource(cfg *config.Config, logger *slog.Logger) (syncp.EventSource, syncp.Authenticator, string, error) {
	switch cfg.Source.Provider {
	case "ics":
		fetcher := ics.NewFetcher(logger)
		return fetcher, fetcher, cfg.Source.ICSURL, nil
	case "google":
		client, err := google.NewClient(cfg.Source.CredentialsFile, cfg.Source.TokenFile, logger)
		if err != nil {
			return nil, nil, "", err
		}
		return client, client, cfg.Source.CalendarID, nil
	default:
		return nil, nil, "", fmt.Errorf("unsupported provider %q", cfg.Source.Provider)
	}
}
