// Package backend builds the ledger store, event store and audit recorders
// selected by configuration.
package backend

import (
	"context"
	"fmt"
	"time"

	"ledgerchat/internal/amqp"
	"ledgerchat/internal/audit"
	gcal "ledgerchat/internal/calendar/google"
	calmem "ledgerchat/internal/calendar/memory"
	"ledgerchat/internal/core"
	"ledgerchat/internal/log"
	"ledgerchat/internal/history"
	gsheet "ledgerchat/internal/sheets/google"
	"ledgerchat/internal/sheets/memory"
	"ledgerchat/internal/storage"
)

// Factory creates backends from configuration.
type Factory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) *Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Factory{logger: logger.WithComponent(log.ComponentBackend)}
}

// Build creates every backend. On error, whatever was already opened is
// closed.
func (f *Factory) Build(ctx context.Context, cfg Config) (_ *Backends, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Backends{}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	recorders := audit.Multi{audit.Log{}}

	var repo *storage.SQLiteRepository
	openSQLite := func() (*storage.SQLiteRepository, error) {
		if repo != nil {
			return repo, nil
		}
		r, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		b.onClose(r.Close)
		repo = r
		return repo, nil
	}

	switch cfg.Ledger {
	case SQLiteLedger:
		repo, err := openSQLite()
		if err != nil {
			return nil, err
		}
		b.Ledger = repo
		recorders = append(recorders, repo)
		b.Checks = append(b.Checks, Check{Name: "ledger", Check: repo.Ping})
	case SheetsLedger:
		cli, err := gsheet.New(ctx, gsheet.Options{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			DefaultCurrency: cfg.DefaultCurrency,
			Credentials:     cfg.GoogleCredentials,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
		}
		if err := cli.EnsureHeader(ctx); err != nil {
			return nil, fmt.Errorf("prepare ledger sheet: %w", err)
		}
		b.Ledger = cli
		b.Linker = cli
		b.Checks = append(b.Checks, Check{Name: "ledger", Check: snapshotCheck(cli)})
	default:
		b.Ledger = memory.New()
	}
	f.logger.InfoContext(ctx, "Initialized ledger backend", log.FieldBackend, cfg.Ledger)

	switch cfg.Calendar {
	case GoogleCalendar:
		cli, err := gcal.New(ctx, gcal.Options{
			CalendarID:  cfg.GoogleCalendarID,
			Location:    cfg.Location,
			Credentials: cfg.GoogleCredentials,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Calendar client: %w", err)
		}
		b.Calendar = cli
		b.Checks = append(b.Checks, Check{Name: "calendar", Check: func(ctx context.Context) error {
			now := time.Now()
			_, err := cli.List(ctx, core.TimeRange{Start: now, End: now.Add(time.Minute)})
			return err
		}})
	default:
		b.Calendar = calmem.New()
	}
	f.logger.InfoContext(ctx, "Initialized calendar backend", log.FieldBackend, cfg.Calendar)

	if cfg.History == SQLiteHistory {
		repo, err := openSQLite()
		if err != nil {
			return nil, err
		}
		b.History = repo
	} else {
		b.History = history.NewMemory(0)
	}
	f.logger.InfoContext(ctx, "Initialized conversation history", log.FieldBackend, cfg.History)

	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without audit publishing", log.FieldError, err)
		} else {
			b.onClose(client.Close)
			recorders = append(recorders, client)
			f.logger.InfoContext(ctx, "Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}
	b.Recorder = recorders

	return b, nil
}

type snapshotter interface {
	Snapshot(ctx context.Context) (core.LedgerSnapshot, error)
}

func snapshotCheck(s snapshotter) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := s.Snapshot(ctx)
		return err
	}
}
