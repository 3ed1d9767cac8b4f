package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/ReactPipe/internal/bot"
	"github.com/BTreeMap/ReactPipe/internal/lockfile"
	"github.com/BTreeMap/ReactPipe/internal/store"
	"github.com/BTreeMap/ReactPipe/internal/util"
	"github.com/BTreeMap/ReactPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ReactPipe state data
	DefaultStateDir = "/var/lib/reactpipe"
	// DefaultWhatsAppDBFileName is the default SQLite database filename for the whatsmeow device store
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultRegistryDBFileName is the default SQLite database filename for the reaction registry
	DefaultRegistryDBFileName = "reactpipe.db"
	// DefaultThrottleSeconds is the default minimum spacing between outbound calls
	DefaultThrottleSeconds = 1
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Initialize structured logger
	initializeLogger(config.Debug)

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Hold the state directory for the lifetime of the process so two bots
	// never share one device store and registry database.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	// Build module options
	waOpts := buildWhatsAppOptions(flags)
	storeOpts := buildStoreOptions(flags)
	botOpts := buildBotOptions(flags)

	// Start the service
	slog.Info("Bootstrapping ReactPipe with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "store", len(storeOpts), "bot", len(botOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "registry_dsn_set", *flags.registryDSN != "", "throttle_seconds", *flags.throttleSeconds)
	if err := bot.Run(waOpts, storeOpts, botOpts); err != nil {
		slog.Error("ReactPipe failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("ReactPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	WhatsAppDBDSN   string
	RegistryDBDSN   string
	StateDir        string
	ThrottleSeconds int
	SweepCron       string
	Debug           bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput        *string
	numeric         *bool
	stateDir        *string
	whatsappDSN     *string
	registryDSN     *string
	throttleSeconds *int
	sweepCron       *string
}

// initializeLogger sets up structured logging
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
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
		WhatsAppDBDSN:   os.Getenv("WHATSAPP_DB_DSN"),
		RegistryDBDSN:   os.Getenv("DATABASE_DSN"),
		StateDir:        os.Getenv("REACTPIPE_STATE_DIR"),
		ThrottleSeconds: util.ParseIntEnv("REACTPIPE_THROTTLE_SECONDS", DefaultThrottleSeconds),
		SweepCron:       os.Getenv("REACTPIPE_SWEEP_CRON"),
		Debug:           util.ParseBoolEnv("REACTPIPE_DEBUG", false),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No REACTPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("REACTPIPE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// Legacy DATABASE_URL is honored for the registry database
	if config.RegistryDBDSN == "" {
		config.RegistryDBDSN = os.Getenv("DATABASE_URL")
		if config.RegistryDBDSN != "" {
			slog.Debug("Using DATABASE_URL as DATABASE_DSN", "dsn_set", true)
		}
	}

	// If no database DSNs are provided, default to SQLite in the state directory
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = "file:" + filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
		slog.Debug("No WhatsApp database DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDBDSN)
	}
	if config.RegistryDBDSN == "" {
		config.RegistryDBDSN = filepath.Join(config.StateDir, DefaultRegistryDBFileName)
		slog.Debug("No registry database DSN provided, defaulting to SQLite", "sqlite_path", config.RegistryDBDSN)
	}

	slog.Debug("environment variables loaded",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDBDSN != "",
		"DATABASE_DSN_SET", config.RegistryDBDSN != "",
		"REACTPIPE_STATE_DIR", config.StateDir,
		"REACTPIPE_THROTTLE_SECONDS", config.ThrottleSeconds,
		"REACTPIPE_SWEEP_CRON", config.SweepCron,
		"REACTPIPE_DEBUG", config.Debug)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:        flag.String("qr-output", "", "path to write login QR code"),
		numeric:         flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for ReactPipe data (overrides $REACTPIPE_STATE_DIR)"),
		whatsappDSN:     flag.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "database DSN for the whatsmeow device store (overrides $WHATSAPP_DB_DSN)"),
		registryDSN:     flag.String("db-dsn", config.RegistryDBDSN, "database DSN for the reaction registry (overrides $DATABASE_DSN or $DATABASE_URL)"),
		throttleSeconds: flag.Int("throttle-seconds", config.ThrottleSeconds, "minimum spacing in seconds between outbound calls (overrides $REACTPIPE_THROTTLE_SECONDS)"),
		sweepCron:       flag.String("sweep-cron", config.SweepCron, "cron schedule for the registry maintenance sweep (overrides $REACTPIPE_SWEEP_CRON)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"whatsappDSN_set", *flags.whatsappDSN != "",
		"registryDSN_set", *flags.registryDSN != "",
		"throttleSeconds", *flags.throttleSeconds,
		"sweepCron", *flags.sweepCron)

	// Re-derive default DSNs when only the state directory was overridden
	if *flags.stateDir != config.StateDir {
		if *flags.whatsappDSN == config.WhatsAppDBDSN && strings.Contains(config.WhatsAppDBDSN, DefaultWhatsAppDBFileName) {
			*flags.whatsappDSN = "file:" + filepath.Join(*flags.stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
			slog.Debug("Updated WhatsApp DSN based on state directory", "new_state_dir", *flags.stateDir)
		}
		if *flags.registryDSN == config.RegistryDBDSN && config.RegistryDBDSN == filepath.Join(config.StateDir, DefaultRegistryDBFileName) {
			*flags.registryDSN = filepath.Join(*flags.stateDir, DefaultRegistryDBFileName)
			slog.Debug("Updated registry DSN based on state directory", "new_state_dir", *flags.stateDir)
		}
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.registryDSN) != "postgres" {
		stateDir := filepath.Dir(*flags.registryDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
		slog.Debug("State directory created successfully", "state_dir", stateDir)
	}
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", *flags.stateDir)
		return err
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.whatsappDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDSN))
	}
	return waOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.registryDSN != "" {
		// Check if it's a PostgreSQL DSN using the shared detection function
		if store.DetectDSNType(*flags.registryDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.registryDSN))
		} else {
			// Assume SQLite for file paths
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.registryDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.registryDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildBotOptions constructs bot configuration options
func buildBotOptions(flags Flags) []bot.Option {
	var botOpts []bot.Option
	if *flags.throttleSeconds > 0 {
		botOpts = append(botOpts, bot.WithThrottleInterval(time.Duration(*flags.throttleSeconds)*time.Second))
	}
	if *flags.sweepCron != "" {
		botOpts = append(botOpts, bot.WithSweepCron(*flags.sweepCron))
	}
	return botOpts
}
