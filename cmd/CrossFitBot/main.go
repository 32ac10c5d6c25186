package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/api"
	"github.com/11996262609/CrossFit-ChatBot/internal/flow"
	"github.com/11996262609/CrossFit-ChatBot/internal/util"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for bot state data
	DefaultStateDir = "/var/lib/crossfitbot"
	// DefaultAppDBFileName is the default SQLite database for durable records
	DefaultAppDBFileName = "chatbot.db"
	// DefaultWhatsAppDBFileName is the default SQLite database for the whatsmeow session
	DefaultWhatsAppDBFileName = "whatsmeow.db"
	// DefaultMediaDirName is the attachment directory inside the state dir
	DefaultMediaDirName = "media"
	// DefaultTypingDelay is the pause before menu sends
	DefaultTypingDelay = 1200 * time.Millisecond
)

func main() {
	loadDotEnv()

	config, err := parseCommandLineFlags(os.Args[1:], loadEnvironmentConfig())
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	initializeLogger(config.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping CrossFit chatbot", "state_dir", config.StateDir, "status_addr", config.StatusAddr)
	if err := run(ctx, config); err != nil {
		slog.Error("Chatbot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Chatbot exited successfully")
}

// Config holds the resolved configuration.
type Config struct {
	StateDir      string
	WhatsAppDBDSN string
	DatabaseDSN   string
	DynamoDBTable string
	MediaDir      string
	CatalogFile   string

	OperatorAddress   string
	BackOfficeAddress string
	SSMParamPrefix    string

	HandoffSilence    time.Duration
	TakeoverSilence   time.Duration
	AttachmentSilence time.Duration
	BotSendGrace      time.Duration
	DebounceWindow    time.Duration
	PendingForwardTTL time.Duration
	FollowUpThreshold time.Duration
	FollowUpInterval  time.Duration
	TypingDelay       time.Duration

	StatusAddr  string
	StatusToken string

	QROutput    string
	NumericCode bool
	Debug       bool
}

// initializeLogger installs a text handler on stdout.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadDotEnv loads .env files from the working directory and its parents.
// Variables already in the environment are not overridden.
func loadDotEnv() {
	for _, path := range []string{".env", "../.env", "../../.env"} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", path, err)
		}
	}
}

// loadEnvironmentConfig reads the environment. Paths derived from the state
// directory are left empty here and filled in by resolveDefaults.
func loadEnvironmentConfig() Config {
	return Config{
		StateDir:      util.StringEnv("STATE_DIR", DefaultStateDir),
		WhatsAppDBDSN: util.StringEnv("WHATSAPP_DB_DSN", ""),
		DatabaseDSN:   util.StringEnv("DATABASE_DSN", ""),
		DynamoDBTable: util.StringEnv("DYNAMODB_TABLE", ""),
		MediaDir:      util.StringEnv("MEDIA_DIR", ""),
		CatalogFile:   util.StringEnv("CATALOG_FILE", ""),

		OperatorAddress:   util.StringEnv("OPERATOR_ADDRESS", ""),
		BackOfficeAddress: util.StringEnv("BACKOFFICE_ADDRESS", ""),
		SSMParamPrefix:    util.StringEnv("SSM_PARAM_PREFIX", ""),

		HandoffSilence:    util.ParseDurationEnv("HANDOFF_SILENCE", flow.DefaultHandoffSilence),
		TakeoverSilence:   util.ParseDurationEnv("TAKEOVER_SILENCE", flow.DefaultTakeoverSilence),
		AttachmentSilence: util.ParseDurationEnv("ATTACHMENT_SILENCE", flow.DefaultAttachmentSilence),
		BotSendGrace:      util.ParseDurationEnv("BOT_SEND_GRACE", flow.DefaultBotSendGrace),
		DebounceWindow:    util.ParseDurationEnv("DEBOUNCE_WINDOW", flow.DefaultDebounceWindow),
		PendingForwardTTL: util.ParseDurationEnv("PENDING_FORWARD_TTL", flow.DefaultPendingForwardTTL),
		FollowUpThreshold: util.ParseDurationEnv("FOLLOWUP_THRESHOLD", flow.DefaultFollowUpThreshold),
		FollowUpInterval:  util.ParseDurationEnv("FOLLOWUP_INTERVAL", flow.DefaultFollowUpInterval),
		TypingDelay:       util.ParseDurationEnv("TYPING_DELAY", DefaultTypingDelay),

		StatusAddr:  util.StringEnv("STATUS_ADDR", api.DefaultAddr),
		StatusToken: util.StringEnv("STATUS_TOKEN", ""),

		QROutput:    util.StringEnv("QR_OUTPUT", ""),
		NumericCode: util.ParseBoolEnv("NUMERIC_CODE", false),
		Debug:       util.ParseBoolEnv("DEBUG", false),
	}
}

// parseCommandLineFlags applies flags over the environment configuration.
// Flags win over environment values.
func parseCommandLineFlags(args []string, env Config) (Config, error) {
	c := env
	fs := pflag.NewFlagSet("CrossFitBot", pflag.ContinueOnError)

	fs.StringVar(&c.StateDir, "state-dir", env.StateDir, "state directory for lock, databases and media (overrides $STATE_DIR)")
	fs.StringVar(&c.WhatsAppDBDSN, "whatsapp-db-dsn", env.WhatsAppDBDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)")
	fs.StringVar(&c.DatabaseDSN, "db-dsn", env.DatabaseDSN, "durable record database DSN, SQLite path or PostgreSQL URL (overrides $DATABASE_DSN)")
	fs.StringVar(&c.DynamoDBTable, "dynamodb-table", env.DynamoDBTable, "store durable records in this DynamoDB table (overrides $DYNAMODB_TABLE)")
	fs.StringVar(&c.MediaDir, "media-dir", env.MediaDir, "attachment directory (overrides $MEDIA_DIR)")
	fs.StringVar(&c.CatalogFile, "catalog", env.CatalogFile, "YAML reply catalog, embedded default when empty (overrides $CATALOG_FILE)")

	fs.StringVar(&c.OperatorAddress, "operator", env.OperatorAddress, "operator phone or JID for handoff notices (overrides $OPERATOR_ADDRESS)")
	fs.StringVar(&c.BackOfficeAddress, "backoffice", env.BackOfficeAddress, "back-office phone or JID for attachments, defaults to the operator (overrides $BACKOFFICE_ADDRESS)")
	fs.StringVar(&c.SSMParamPrefix, "ssm-prefix", env.SSMParamPrefix, "resolve unset addresses and status token from SSM under this prefix (overrides $SSM_PARAM_PREFIX)")

	fs.DurationVar(&c.HandoffSilence, "handoff-silence", env.HandoffSilence, "silence after a handoff request")
	fs.DurationVar(&c.TakeoverSilence, "takeover-silence", env.TakeoverSilence, "silence after an operator takeover")
	fs.DurationVar(&c.AttachmentSilence, "attachment-silence", env.AttachmentSilence, "silence after an attachment")
	fs.DurationVar(&c.BotSendGrace, "bot-send-grace", env.BotSendGrace, "window in which outgoing messages are attributed to the bot")
	fs.DurationVar(&c.DebounceWindow, "debounce-window", env.DebounceWindow, "minimum gap between repeated menus")
	fs.DurationVar(&c.PendingForwardTTL, "pending-forward-ttl", env.PendingForwardTTL, "how long a caption-less attachment waits for its follow-up text")
	fs.DurationVar(&c.FollowUpThreshold, "followup-threshold", env.FollowUpThreshold, "attachment age before a reminder is sent")
	fs.DurationVar(&c.FollowUpInterval, "followup-interval", env.FollowUpInterval, "interval between follow-up sweeps")
	fs.DurationVar(&c.TypingDelay, "typing-delay", env.TypingDelay, "composing pause before menus, 0 disables")

	fs.StringVar(&c.StatusAddr, "status-addr", env.StatusAddr, "status server address, empty disables (overrides $STATUS_ADDR)")
	fs.StringVar(&c.StatusToken, "status-token", env.StatusToken, "token required by the QR routes (overrides $STATUS_TOKEN)")

	fs.StringVar(&c.QROutput, "qr-output", env.QROutput, "path to write the login QR code (overrides $QR_OUTPUT)")
	fs.BoolVar(&c.NumericCode, "numeric-code", env.NumericCode, "print the raw login code instead of a QR code")
	fs.BoolVar(&c.Debug, "debug", env.Debug, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return c, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return c, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return resolveDefaults(c), nil
}

// resolveDefaults fills the paths derived from the state directory.
func resolveDefaults(c Config) Config {
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.WhatsAppDBDSN == "" {
		c.WhatsAppDBDSN = "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
	}
	if c.DatabaseDSN == "" {
		c.DatabaseDSN = filepath.Join(c.StateDir, DefaultAppDBFileName)
	}
	if c.MediaDir == "" {
		c.MediaDir = filepath.Join(c.StateDir, DefaultMediaDirName)
	}
	c.OperatorAddress = strings.TrimSpace(c.OperatorAddress)
	c.BackOfficeAddress = strings.TrimSpace(c.BackOfficeAddress)
	return c
}

// whatsmeowLogLevel maps the debug switch to a whatsmeow log level.
func whatsmeowLogLevel(debug bool) string {
	if debug {
		return "DEBUG"
	}
	return "INFO"
}
