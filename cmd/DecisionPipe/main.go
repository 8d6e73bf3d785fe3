package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BTreeMap/DecisionPipe/internal/api"
	"github.com/BTreeMap/DecisionPipe/internal/genai"
	"github.com/BTreeMap/DecisionPipe/internal/store"
	"github.com/BTreeMap/DecisionPipe/internal/transcribe"
	"github.com/BTreeMap/DecisionPipe/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for DecisionPipe state data
	DefaultStateDir = "/var/lib/decisionpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "decisionpipe.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build module options
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	transcribeOpts := buildTranscribeOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping DecisionPipe with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "genai", len(genaiOpts), "transcribe", len(transcribeOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := api.Run(storeOpts, genaiOpts, transcribeOpts, apiOpts); err != nil {
		slog.Error("DecisionPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("DecisionPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	SlackBotToken   string
	SigningSecret   string
	DatabaseURL     string
	StateDir        string
	OpenAIKey       string
	OpenAIModel     string
	APIAddr         string
	DiscussionTurns int
}

// Flags holds command line flag values
type Flags struct {
	stateDir        *string
	dbDSN           *string
	slackToken      *string
	signingSecret   *string
	openaiKey       *string
	openaiModel     *string
	apiAddr         *string
	discussionTurns *int
}

// initializeLogger sets up structured logging; DECISIONPIPE_DEBUG enables
// debug-level output.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("DECISIONPIPE_DEBUG", false) {
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
		SlackBotToken: os.Getenv("SLACK_BOT_TOKEN"),
		SigningSecret: os.Getenv("SLACK_SIGNING_SECRET"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("DECISIONPIPE_STATE_DIR"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		APIAddr:       os.Getenv("API_ADDR"),
	}

	if turns := os.Getenv("DISCUSSION_TURNS"); turns != "" {
		n, err := strconv.Atoi(turns)
		if err != nil || n <= 0 {
			slog.Warn("Invalid DISCUSSION_TURNS value, ignoring", "value", turns)
		} else {
			config.DiscussionTurns = n
		}
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No DECISIONPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("DECISIONPIPE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"SLACK_BOT_TOKEN_SET", config.SlackBotToken != "",
		"SLACK_SIGNING_SECRET_SET", config.SigningSecret != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"DECISIONPIPE_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"API_ADDR", config.APIAddr,
		"DISCUSSION_TURNS", config.DiscussionTurns)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for DecisionPipe data (overrides $DECISIONPIPE_STATE_DIR)"),
		dbDSN:           flag.String("db-dsn", config.DatabaseURL, "database DSN for the report store (overrides $DATABASE_URL)"),
		slackToken:      flag.String("slack-bot-token", config.SlackBotToken, "Slack bot token (overrides $SLACK_BOT_TOKEN)"),
		signingSecret:   flag.String("slack-signing-secret", config.SigningSecret, "Slack signing secret for webhook verification (overrides $SLACK_SIGNING_SECRET)"),
		openaiKey:       flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:     flag.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		apiAddr:         flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		discussionTurns: flag.Int("discussion-turns", config.DiscussionTurns, "number of discussion turns (overrides $DISCUSSION_TURNS)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"slackTokenSet", *flags.slackToken != "",
		"signingSecretSet", *flags.signingSecret != "",
		"openaiKeySet", *flags.openaiKey != "",
		"openaiModel", *flags.openaiModel,
		"apiAddr", *flags.apiAddr,
		"discussionTurns", *flags.discussionTurns)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure state directory exists if we're using a file-based DSN
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
		slog.Debug("State directory created successfully", "state_dir", stateDir)
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildGenAIOptions constructs completion client configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	return genaiOpts
}

// buildTranscribeOptions constructs transcription client configuration options
func buildTranscribeOptions(flags Flags) []transcribe.Option {
	var transcribeOpts []transcribe.Option
	if *flags.openaiKey != "" {
		transcribeOpts = append(transcribeOpts, transcribe.WithAPIKey(*flags.openaiKey))
	}
	return transcribeOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.slackToken != "" {
		apiOpts = append(apiOpts, api.WithBotToken(*flags.slackToken))
	}
	if *flags.signingSecret != "" {
		apiOpts = append(apiOpts, api.WithSigningSecret(*flags.signingSecret))
	}
	if *flags.discussionTurns > 0 {
		apiOpts = append(apiOpts, api.WithDiscussionTurns(*flags.discussionTurns))
	}
	return apiOpts
}
