// Package telegram connects the dispatcher to a Telegram bot through long
// polling. Updates are handled one at a time, in arrival order.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ledgerchat/internal/dispatch"
	"ledgerchat/internal/log"
)

const (
	// maxMessageLen is Telegram's limit on a text message, in characters.
	maxMessageLen  = 4096
	defaultTimeout = 60

	greeting = "Hi! Tell me what you spent (\"Lunch 15 and taxi 20\"), ask \"how much this month\", " +
		"edit or delete by number (\"delete #3\"), manage your calendar (\"meeting with John tomorrow at 2pm\") " +
		"or say \"undo\"."
	textOnly = "I can only read text messages."
)

// API is the subset of the bot client the transport uses.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// MessageHandler runs one chat message and returns the replies.
type MessageHandler interface {
	Handle(ctx context.Context, msg dispatch.Message) ([]string, error)
	Authorized(identity string) bool
}

type Options struct {
	Logger *log.Logger
	// PollTimeout is the long polling timeout in seconds.
	PollTimeout int
	Debug       bool
}

type Bot struct {
	api     API
	handler MessageHandler
	logger  *log.Logger
	timeout int
}

// New logs in with token and returns a bot ready to Run.
func New(token string, h MessageHandler, opts Options) (*Bot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("missing TELEGRAM_TOKEN")
	}
	b := NewWithAPI(nil, h, opts)
	if err := tgbotapi.SetLogger(botLogger{b.logger}); err != nil {
		return nil, fmt.Errorf("set telegram logger: %w", err)
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	api.Debug = opts.Debug
	b.api = api
	b.logger.Info("Telegram bot authorized", "username", api.Self.UserName)
	return b, nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api API, h MessageHandler, opts Options) *Bot {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultTimeout
	}
	return &Bot{
		api:     api,
		handler: h,
		logger:  logger.WithComponent(log.ComponentTelegram),
		timeout: opts.PollTimeout,
	}
}

// Run polls for updates until ctx is done or the update channel closes.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = b.timeout
	cfg.AllowedUpdates = []string{"message"}
	updates := b.api.GetUpdatesChan(cfg)
	defer b.api.StopReceivingUpdates()

	b.logger.InfoContext(ctx, "Telegram polling started", "timeout_s", b.timeout)
	for {
		select {
		case <-ctx.Done():
			b.logger.InfoContext(ctx, "Telegram polling stopped")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, upd)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	m := upd.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return
	}
	identity := strconv.FormatInt(m.From.ID, 10)
	msgID := fmt.Sprintf("tg:%d:%d", m.Chat.ID, m.MessageID)
	logger := b.logger.WithFields(log.NewFields().WithMessage(identity, msgID))

	var replies []string
	switch {
	case m.IsCommand() && (m.Command() == "start" || m.Command() == "help") && b.handler.Authorized(identity):
		replies = []string{greeting}
	case strings.TrimSpace(m.Text) == "":
		if !b.handler.Authorized(identity) {
			return
		}
		replies = []string{textOnly}
	default:
		var err error
		replies, err = b.handler.Handle(ctx, dispatch.Message{Identity: identity, Text: m.Text, MessageID: msgID})
		if err != nil {
			logger.WarnContext(ctx, "Message not handled", log.FieldError, err)
		}
	}

	for i, reply := range replies {
		for _, part := range split(reply, maxMessageLen) {
			out := tgbotapi.NewMessage(m.Chat.ID, part)
			if i == 0 {
				out.ReplyToMessageID = m.MessageID
			}
			if _, err := b.api.Send(out); err != nil {
				logger.Failure(ctx, "Telegram send failed", err)
				return
			}
		}
	}
	logger.DebugContext(ctx, "Replies sent", "count", len(replies))
}

// split cuts s into chunks of at most n characters, preferring line breaks.
func split(s string, n int) []string {
	var parts []string
	for utf8.RuneCountInString(s) > n {
		cut := byteOffset(s, n)
		if nl := strings.LastIndexByte(s[:cut], '\n'); nl > 0 {
			cut = nl + 1
		}
		parts = append(parts, strings.TrimRight(s[:cut], "\n"))
		s = s[cut:]
	}
	return append(parts, s)
}

func byteOffset(s string, runes int) int {
	i := 0
	for off := range s {
		if i == runes {
			return off
		}
		i++
	}
	return len(s)
}

// botLogger routes the client library's own logging through slog.
type botLogger struct{ l *log.Logger }

func (b botLogger) Println(v ...any) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (b botLogger) Printf(format string, v ...any) {
	b.l.Debug(fmt.Sprintf(format, v...))
}
