package backend

import (
	"fmt"
	"time"

	"ledgerchat/internal/config"
	"ledgerchat/internal/googleauth"
)

// Config holds configuration for backend creation
type Config struct {
	Ledger   LedgerType
	Calendar CalendarType

	SQLiteDBPath string
	History      HistoryType

	// Empty AMQPURL disables audit publishing.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	GoogleSpreadsheetID string
	GoogleSheetName     string
	GoogleCalendarID    string
	GoogleCredentials   googleauth.Credentials

	DefaultCurrency string
	Location        *time.Location
}

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		Ledger:   LedgerType(appConfig.LedgerBackend),
		Calendar: CalendarType(appConfig.CalendarBackend),

		SQLiteDBPath: appConfig.SQLiteDBPath,
		History:      HistoryType(appConfig.HistoryBackend),

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,

		GoogleSpreadsheetID: appConfig.GoogleSpreadsheetID,
		GoogleSheetName:     appConfig.GoogleSheetName,
		GoogleCalendarID:    appConfig.GoogleCalendarID,
		GoogleCredentials: googleauth.Credentials{
			JSON:            appConfig.GoogleServiceAccountJSON,
			File:            appConfig.GoogleServiceAccountFile,
			ApplicationFile: appConfig.GoogleApplicationCredFile,
		},

		DefaultCurrency: appConfig.DefaultCurrency,
		Location:        appConfig.Location(),
	}
	return cfg, cfg.Validate()
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Ledger.IsValid() {
		return fmt.Errorf("invalid ledger backend: %s", c.Ledger)
	}
	if !c.Calendar.IsValid() {
		return fmt.Errorf("invalid calendar backend: %s", c.Calendar)
	}
	if !c.History.IsValid() {
		return fmt.Errorf("invalid history backend: %s", c.History)
	}
	if c.History == SQLiteHistory && c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required for sqlite history")
	}

	switch c.Ledger {
	case SQLiteLedger:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite backend")
		}
	case SheetsLedger:
		if c.GoogleSpreadsheetID == "" {
			return fmt.Errorf("Google Spreadsheet ID is required for sheets backend")
		}
	}
	if c.Calendar == GoogleCalendar && c.GoogleCalendarID == "" {
		return fmt.Errorf("Google Calendar ID is required for google calendar backend")
	}
	return nil
}
