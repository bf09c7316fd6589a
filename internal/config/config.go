package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port     string
	APIToken string
	LogLevel string

	// Backend selection
	LedgerBackend   string
	CalendarBackend string

	// Database
	SQLiteDBPath string

	// Conversation history. HistoryTurns previous turns go to the language
	// model; 0 disables history.
	HistoryBackend string
	HistoryTurns   int

	// AMQP (audit events). Empty URL disables publishing.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google
	GoogleSpreadsheetID       string
	GoogleSheetName           string
	GoogleCalendarID          string
	GoogleServiceAccountJSON  string
	GoogleServiceAccountFile  string
	GoogleApplicationCredFile string

	// Chat
	TelegramToken    string
	AuthorizedUserID string

	// Language model. Empty key selects the rule-based classifier.
	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string
	LLMTimeout time.Duration

	// Interpretation
	DefaultCurrency      string
	Timezone             string
	UndoDepth            int
	CategoriesFile       string
	EventLookback        time.Duration
	EventLookahead       time.Duration
	DefaultEventDuration time.Duration
}

func Load() *Config {
	cfg := &Config{
		Port:     getEnv("PORT", "8081"),
		APIToken: getEnv("API_TOKEN", ""),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		LedgerBackend:   getEnv("LEDGER_BACKEND", "memory"),
		CalendarBackend: getEnv("CALENDAR_BACKEND", "memory"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/ledgerchat.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "ledgerchat"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "audit_mutations"),

		GoogleSpreadsheetID:       getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:           getEnv("GOOGLE_SHEET_NAME", "Ledger"),
		GoogleCalendarID:          getEnv("GOOGLE_CALENDAR_ID", "primary"),
		GoogleServiceAccountJSON:  getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile:  getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleApplicationCredFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		TelegramToken:    getEnv("TELEGRAM_TOKEN", ""),
		AuthorizedUserID: getEnv("AUTHORIZED_USER_ID", ""),

		LLMAPIKey:  getEnv("LLM_API_KEY", getEnv("OPENAI_API_KEY", "")),
		LLMBaseURL: getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMModel:   getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout: getEnvDuration("LLM_TIMEOUT", 30*time.Second),

		DefaultCurrency:      strings.ToUpper(getEnv("DEFAULT_CURRENCY", "EUR")),
		Timezone:             getEnv("TIMEZONE", "UTC"),
		UndoDepth:            getEnvInt("UNDO_DEPTH", 1),
		CategoriesFile:       getEnv("CATEGORIES_FILE", ""),
		EventLookback:        getEnvDuration("EVENT_LOOKBACK", 7*24*time.Hour),
		EventLookahead:       getEnvDuration("EVENT_LOOKAHEAD", 30*24*time.Hour),
		DefaultEventDuration: getEnvDuration("DEFAULT_EVENT_DURATION", 60*time.Minute),
	}

	// history lives next to the ledger unless told otherwise
	defaultHistory := "memory"
	if cfg.LedgerBackend == "sqlite" {
		defaultHistory = "sqlite"
	}
	cfg.HistoryBackend = getEnv("HISTORY_BACKEND", defaultHistory)
	cfg.HistoryTurns = getEnvInt("HISTORY_TURNS", 10)

	return cfg
}

// Location returns the configured time zone. Validate reports a bad name.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HasGoogleCredentials reports whether any service account source is set.
func (c *Config) HasGoogleCredentials() bool {
	return c.GoogleServiceAccountJSON != "" || c.GoogleServiceAccountFile != "" || c.GoogleApplicationCredFile != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !oneOf(c.LogLevel, "debug", "info", "warn", "error") {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	// Validate backends
	validLedger := []string{"memory", "sheets", "sqlite"}
	if !oneOf(c.LedgerBackend, validLedger...) {
		errors = append(errors, fmt.Sprintf("invalid ledger backend '%s': must be one of %v", c.LedgerBackend, validLedger))
	}
	validCalendar := []string{"memory", "google"}
	if !oneOf(c.CalendarBackend, validCalendar...) {
		errors = append(errors, fmt.Sprintf("invalid calendar backend '%s': must be one of %v", c.CalendarBackend, validCalendar))
	}

	if !oneOf(c.HistoryBackend, "memory", "sqlite") {
		errors = append(errors, fmt.Sprintf("invalid history backend '%s': must be one of [memory sqlite]", c.HistoryBackend))
	}
	if c.HistoryTurns < 0 || c.HistoryTurns > 50 {
		errors = append(errors, fmt.Sprintf("invalid history turns %d: must be between 0 and 50", c.HistoryTurns))
	}

	// Validate SQLite configuration if the ledger or the history uses it
	if c.LedgerBackend == "sqlite" || c.HistoryBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using a sqlite backend")
		} else {
			// Check if directory exists or can be created
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Google backends need a spreadsheet/calendar and service account credentials
	if c.LedgerBackend == "sheets" {
		if c.GoogleSpreadsheetID == "" {
			errors = append(errors, "Google Spreadsheet ID is required when using sheets backend")
		}
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when using sheets backend")
		}
	}
	if c.CalendarBackend == "google" && c.GoogleCalendarID == "" {
		errors = append(errors, "Google Calendar ID is required when using google calendar backend")
	}
	if c.LedgerBackend == "sheets" || c.CalendarBackend == "google" {
		if !c.HasGoogleCredentials() {
			errors = append(errors, "one of GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS must be provided for Google backends")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if c.LLMAPIKey != "" {
		if u, err := url.Parse(c.LLMBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("invalid LLM base URL '%s': must be an http(s) URL", c.LLMBaseURL))
		}
		if c.LLMModel == "" {
			errors = append(errors, "LLM model cannot be empty when an LLM API key is provided")
		}
	}
	if c.LLMTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid LLM timeout %v: must be positive", c.LLMTimeout))
	}

	// Interpretation settings
	if len(c.DefaultCurrency) != 3 {
		errors = append(errors, fmt.Sprintf("invalid default currency '%s': must be a 3-letter code", c.DefaultCurrency))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}
	if c.UndoDepth < 1 {
		errors = append(errors, fmt.Sprintf("invalid undo depth %d: must be at least 1", c.UndoDepth))
	} else if c.UndoDepth > 100 {
		errors = append(errors, fmt.Sprintf("invalid undo depth %d: must be at most 100", c.UndoDepth))
	}
	if c.CategoriesFile != "" {
		if _, err := os.Stat(c.CategoriesFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("categories file does not exist: %s", c.CategoriesFile))
		}
	}
	if c.EventLookback < 0 || c.EventLookahead <= 0 {
		errors = append(errors, fmt.Sprintf("invalid event window -%v/+%v: lookahead must be positive and lookback not negative", c.EventLookback, c.EventLookahead))
	}
	if c.DefaultEventDuration < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid default event duration %v: must be at least 1 minute", c.DefaultEventDuration))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
