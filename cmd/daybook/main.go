package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thinkscotty/daybook/internal/aggregate"
	"github.com/thinkscotty/daybook/internal/ai"
	"github.com/thinkscotty/daybook/internal/auth"
	"github.com/thinkscotty/daybook/internal/config"
	"github.com/thinkscotty/daybook/internal/database"
	"github.com/thinkscotty/daybook/internal/metrics"
	"github.com/thinkscotty/daybook/internal/models"
	"github.com/thinkscotty/daybook/internal/scheduler"
	"github.com/thinkscotty/daybook/internal/scraper"
	"github.com/thinkscotty/daybook/internal/server"
	"github.com/thinkscotty/daybook/internal/similarity"
	"github.com/thinkscotty/daybook/internal/slack"
	"github.com/thinkscotty/daybook/internal/source"
	"github.com/thinkscotty/daybook/internal/updater"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	runKind := flag.String("run", "", "Run one digest (morning|evening) end to end, then exit")
	fetchKind := flag.String("fetch", "", "Aggregate one digest's sources (morning|evening), print the snapshot, then exit")
	doCheck := flag.Bool("check", false, "Probe generation providers and Slack, then exit")
	doStatus := flag.Bool("status", false, "Print the schedule and last recorded runs, then exit")
	showVersion := flag.Bool("version", false, "Show version and exit")
	doUpdate := flag.Bool("update", false, "Check for updates and install if available")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Daybook %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if *doUpdate {
		runUpdate(version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	var logLevel slog.Level
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Daybook", "version", version)

	// Initialize database
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	slog.Info("Database initialized", "path", cfg.Database.Path)

	loc, err := cfg.Schedule.Location()
	if err != nil {
		slog.Error("Invalid schedule timezone", "timezone", cfg.Schedule.Timezone, "error", err)
		os.Exit(1)
	}

	// Build the pipeline: sources -> aggregator -> provider chain -> Slack
	tokens := auth.NewTokenCache(db, auth.GoogleCredentials{
		ClientID:     cfg.Secrets.GoogleClientID,
		ClientSecret: cfg.Secrets.GoogleClientSecret,
		RefreshToken: cfg.Secrets.GoogleRefreshToken,
	})
	sim := similarity.New(cfg.Similarity.Threshold, cfg.Similarity.NGramSize)
	scr := scraper.New(time.Duration(cfg.Scraper.TimeoutSeconds)*time.Second, cfg.Scraper.MaxArticleBytes)
	sources := source.Registry(cfg, tokens, db, sim, scr, loc)

	m := metrics.New(prometheus.DefaultRegisterer)
	agg := aggregate.New(sources, time.Duration(cfg.Aggregate.SourceTimeoutSeconds)*time.Second, cfg.Aggregate.Parallelism, m)
	chain := ai.NewChain(cfg.Generation, cfg.Secrets, m)
	slackClient := slack.New(cfg.Slack, cfg.Secrets, m)

	sched, err := scheduler.New(cfg, db, agg, chain, slackClient, m)
	if err != nil {
		slog.Error("Failed to build scheduler", "error", err)
		os.Exit(1)
	}

	// One-shot modes run the wired pipeline without the daemon around it.
	switch {
	case *runKind != "":
		os.Exit(runOnce(sched, *runKind))
	case *fetchKind != "":
		os.Exit(fetchOnce(agg, *fetchKind))
	case *doCheck:
		os.Exit(checkOnce(chain, slackClient))
	case *doStatus:
		os.Exit(statusOnce(cfg, db, loc))
	}

	if err := auth.EnsureOpsToken(db, cfg.Secrets.OpsToken); err != nil {
		slog.Error("Failed to provision ops token", "error", err)
		os.Exit(1)
	}

	// Build HTTP server
	srv := server.New(cfg, db, sched, agg, chain, slackClient, version)

	// Start scheduler in background
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	// Log a hint when a newer release exists; failures here are ignored.
	go func() {
		checkCtx, checkCancel := context.WithTimeout(ctx, 30*time.Second)
		defer checkCancel()
		if info, err := updater.CheckForUpdate(checkCtx, version); err == nil && info != nil {
			slog.Info("Update available", "current", version, "latest", info.TagName)
		}
	}()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
		srv.Shutdown(context.Background())
	}()

	// Start serving
	slog.Info("Server listening", "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// runOnce executes a full digest run synchronously. The exit code follows the
// run outcome so cron or systemd timers can alert on it.
func runOnce(sched *scheduler.Scheduler, kind string) int {
	if !models.ValidKind(kind) {
		fmt.Fprintf(os.Stderr, "Unknown digest kind %q (want morning or evening)\n", kind)
		return 2
	}

	outcome, err := sched.RunNow(context.Background(), models.RunKind(kind))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %s\n", err)
		return 1
	}

	fmt.Printf("%s digest finished: %s\n", kind, outcome)
	if !outcome.Completed() {
		return 1
	}
	return 0
}

// fetchOnce aggregates sources for one digest and prints the snapshot as
// JSON. Nothing is generated, delivered, or recorded.
func fetchOnce(agg *aggregate.Aggregator, kind string) int {
	if !models.ValidKind(kind) {
		fmt.Fprintf(os.Stderr, "Unknown digest kind %q (want morning or evening)\n", kind)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	snap := agg.Collect(ctx, models.RunKind(kind))
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Encoding snapshot failed: %s\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func checkOnce(chain *ai.Chain, sc *slack.Client) int {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failed := 0
	for _, res := range chain.Checks(ctx) {
		printCheck(res.Target, res.Err)
		if res.Err != nil {
			failed++
		}
	}
	err := sc.Check(ctx)
	printCheck("slack", err)
	if err != nil {
		failed++
	}

	if failed > 0 {
		fmt.Printf("%d check(s) failed\n", failed)
		return 1
	}
	fmt.Println("All checks passed.")
	return 0
}

func printCheck(target string, err error) {
	if err != nil {
		fmt.Printf("  %-10s FAIL  %s\n", target, err)
		return
	}
	fmt.Printf("  %-10s OK\n", target)
}

func statusOnce(cfg config.Config, db *database.DB, loc *time.Location) int {
	fmt.Printf("Schedule (%s): morning %s, evening %s\n", cfg.Schedule.Timezone, cfg.Schedule.Morning, cfg.Schedule.Evening)

	for _, kind := range models.Kinds() {
		rec, err := db.LastRunByKind(kind)
		if errors.Is(err, sql.ErrNoRows) {
			fmt.Printf("  %-8s no runs recorded\n", kind)
			continue
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Reading last %s run failed: %s\n", kind, err)
			return 1
		}

		line := fmt.Sprintf("  %-8s %s  %s (%s)", kind, rec.StartedAt.In(loc).Format("2006-01-02 15:04"), rec.Outcome, rec.Trigger)
		if rec.ProviderName != "" {
			line += " via " + rec.ProviderName
		}
		if rec.Degraded {
			line += " [degraded]"
		}
		fmt.Println(line)
	}
	return 0
}

func runUpdate(currentVersion string) {
	fmt.Printf("Daybook %s — checking for updates...\n", currentVersion)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	info, err := updater.CheckForUpdate(ctx, currentVersion)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Update check failed: %s\n", err)
		os.Exit(1)
	}
	if info == nil {
		fmt.Println("Already running the latest version.")
		return
	}

	fmt.Printf("Update available: %s → %s\n", currentVersion, info.TagName)
	fmt.Printf("Binary: %s (%s)\n", info.AssetName, updater.FormatBytes(info.AssetSize))
	fmt.Printf("Downloading...\n")

	result, err := updater.DownloadAndInstall(ctx, info, currentVersion)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Installation failed: %s\n", err)
		os.Exit(1)
	}

	fmt.Printf("Updated %s → %s successfully.\n", result.OldVersion, result.NewVersion)
	fmt.Println("Restart the service to use the new version:")
	fmt.Println("  sudo systemctl restart daybook")
}
