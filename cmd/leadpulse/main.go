package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/leadpulse/leadpulse/internal/api"
	"github.com/leadpulse/leadpulse/internal/engine"
	"github.com/leadpulse/leadpulse/internal/genai"
	"github.com/leadpulse/leadpulse/internal/lockfile"
	"github.com/leadpulse/leadpulse/internal/orchestrator"
	"github.com/leadpulse/leadpulse/internal/scheduler"
	"github.com/leadpulse/leadpulse/internal/sms"
	"github.com/leadpulse/leadpulse/internal/store"
	"github.com/leadpulse/leadpulse/internal/util"
	"github.com/leadpulse/leadpulse/internal/webhook"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LeadPulse state data
	DefaultStateDir = "/var/lib/leadpulse"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "leadpulse.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("LeadPulse failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LeadPulse exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL    string
	StateDir       string
	OpenAIKey      string
	BookingLink    string
	APIAddr        string
	SweepCron      string
	SweepLimit     int
	Staleness      time.Duration
	GenTimeout     time.Duration
	OptOutPhrases  string
	BookingPhrases string
	SchedulerStart bool
}

// Flags holds command line flag values
type Flags struct {
	dbDSN          *string
	openaiKey      *string
	bookingLink    *string
	apiAddr        *string
	sweepCron      *string
	sweepLimit     *int
	staleness      *time.Duration
	genTimeout     *time.Duration
	optOutPhrases  *string
	bookingPhrases *string
	schedulerStart *bool
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("LEADPULSE_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StateDir:       util.ParseStringEnv("LEADPULSE_STATE_DIR", DefaultStateDir),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		BookingLink:    os.Getenv("BOOKING_LINK"),
		APIAddr:        os.Getenv("API_ADDR"),
		SweepCron:      util.ParseStringEnv("SWEEP_CRON", scheduler.DefaultSweepSpec),
		SweepLimit:     util.ParseIntEnv("SWEEP_LIMIT", scheduler.DefaultSweepLimit),
		Staleness:      util.ParseDurationEnv("STALENESS_THRESHOLD", engine.DefaultStalenessThreshold),
		GenTimeout:     util.ParseDurationEnv("GENAI_TIMEOUT", genai.DefaultTimeout),
		OptOutPhrases:  os.Getenv("OPT_OUT_PHRASES"),
		BookingPhrases: os.Getenv("BOOKING_PHRASES"),
		SchedulerStart: util.ParseBoolEnv("SCHEDULER_AUTOSTART", true),
	}

	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"LEADPULSE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"BOOKING_LINK_SET", config.BookingLink != "",
		"API_ADDR", config.APIAddr,
		"SWEEP_CRON", config.SweepCron,
		"STALENESS_THRESHOLD", config.Staleness)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN, SQLite path or Postgres URL (overrides $DATABASE_URL)"),
		openaiKey:      flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		bookingLink:    flag.String("booking-link", config.BookingLink, "booking link offered to engaged leads (overrides $BOOKING_LINK)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		sweepCron:      flag.String("sweep-cron", config.SweepCron, "cron expression for the staleness sweep (overrides $SWEEP_CRON)"),
		sweepLimit:     flag.Int("sweep-limit", config.SweepLimit, "max conversations per sweep run (overrides $SWEEP_LIMIT)"),
		staleness:      flag.Duration("staleness-threshold", config.Staleness, "quiet period before engaged conversations go unresponsive (overrides $STALENESS_THRESHOLD)"),
		genTimeout:     flag.Duration("genai-timeout", config.GenTimeout, "per-call reply generation timeout (overrides $GENAI_TIMEOUT)"),
		optOutPhrases:  flag.String("opt-out-phrases", config.OptOutPhrases, "comma-separated opt-out phrase overrides (overrides $OPT_OUT_PHRASES)"),
		bookingPhrases: flag.String("booking-phrases", config.BookingPhrases, "comma-separated booking phrase overrides (overrides $BOOKING_PHRASES)"),
		schedulerStart: flag.Bool("scheduler-autostart", config.SchedulerStart, "start the staleness sweep at boot (overrides $SCHEDULER_AUTOSTART)"),
	}
	flag.Parse()
	return flags
}

func run(flags Flags) error {
	st, dedup, lock, err := openStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()
	if lock != nil {
		defer lock.Release()
	}

	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.bookingLink != "" {
		genaiOpts = append(genaiOpts, genai.WithBookingLink(*flags.bookingLink))
	}
	if *flags.genTimeout > 0 {
		genaiOpts = append(genaiOpts, genai.WithTimeout(*flags.genTimeout))
	}
	gen, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return err
	}

	sender, err := sms.NewClient()
	if err != nil {
		return err
	}

	engineCfg := engine.DefaultConfig()
	engineCfg.StalenessThreshold = *flags.staleness
	if phrases := splitPhrases(*flags.optOutPhrases); len(phrases) > 0 {
		engineCfg.OptOutPhrases = phrases
	}
	if phrases := splitPhrases(*flags.bookingPhrases); len(phrases) > 0 {
		engineCfg.BookingPhrases = phrases
	}

	orch := orchestrator.New(st, gen, sender, engineCfg)
	reconciler := webhook.NewReconciler(orch, dedup)
	sched := scheduler.New(st, orch, *flags.staleness,
		scheduler.WithSpec(*flags.sweepCron),
		scheduler.WithSweepLimit(*flags.sweepLimit),
	)
	if *flags.schedulerStart {
		if err := sched.Start(); err != nil {
			return err
		}
	}
	defer sched.Stop()

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(st, orch, reconciler, sched, apiOpts...)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		slog.Info("Shutting down on signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// splitPhrases parses a comma-separated phrase list, dropping empties.
func splitPhrases(raw string) []string {
	if raw == "" {
		return nil
	}
	var phrases []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			phrases = append(phrases, strings.ToLower(p))
		}
	}
	return phrases
}

// openStore builds the storage backend from the DSN. File-based
// databases get their state directory created and locked against a
// second instance; Postgres relies on the server for concurrency.
func openStore(dsn string) (store.Store, store.DedupRepo, *lockfile.Lock, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		st, err := store.NewPostgresStore(store.WithDSN(dsn))
		if err != nil {
			return nil, nil, nil, err
		}
		return st, st, nil, nil
	}

	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	lock, err := lockfile.AcquireLock(filepath.Dir(dsn))
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := store.NewSQLiteStore(store.WithDSN(dsn))
	if err != nil {
		lock.Release()
		return nil, nil, nil, err
	}
	return st, st, lock, nil
}
