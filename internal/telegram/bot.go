package telegram

import (
	"context"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/autoreply/internal/config"
	"github.com/mixelka/autoreply/internal/database"
	"github.com/mixelka/autoreply/internal/email"
	"github.com/mixelka/autoreply/internal/formatter"
	"github.com/mixelka/autoreply/internal/pipeline"
	"github.com/mixelka/autoreply/internal/secret"
)

// Bot is the operator console
type Bot struct {
	bot        *bot.Bot
	db         *database.DB
	supervisor *email.Supervisor
	pool       *email.Pool
	resolver   *email.Resolver
	pipeline   *pipeline.Pipeline
	box        *secret.Box
	formatter  *formatter.TelegramFormatter
	logger     *slog.Logger
	config     *config.Config
}

// BotDeps dependencies for creating a bot
type BotDeps struct {
	Config     *config.Config
	DB         *database.DB
	Supervisor *email.Supervisor
	Pool       *email.Pool
	Resolver   *email.Resolver
	Pipeline   *pipeline.Pipeline
	Box        *secret.Box
	Formatter  *formatter.TelegramFormatter
	Logger     *slog.Logger
}

// NewBot creates a new Telegram bot
func NewBot(deps BotDeps) (*Bot, error) {
	b := &Bot{
		db:         deps.DB,
		supervisor: deps.Supervisor,
		pool:       deps.Pool,
		resolver:   deps.Resolver,
		pipeline:   deps.Pipeline,
		box:        deps.Box,
		formatter:  deps.Formatter,
		logger:     deps.Logger.With("component", "telegram_bot"),
		config:     deps.Config,
	}
	if b.formatter == nil {
		b.formatter = formatter.NewTelegramFormatter()
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
		bot.WithMiddlewares(b.operatorOnly),
	}

	tgBot, err := bot.New(deps.Config.TelegramToken, opts...)
	if err != nil {
		return nil, err
	}

	b.bot = tgBot
	b.registerHandlers()

	return b, nil
}

// registerHandlers registers command handlers
func (b *Bot) registerHandlers() {
	commands := map[string]bot.HandlerFunc{
		"connect":       b.handleConnect,
		"disconnect":    b.handleDisconnect,
		"accounts":      b.handleAccounts,
		"status":        b.handleStatus,
		"poll_start":    b.handlePollStart,
		"poll_stop":     b.handlePollStop,
		"poll_startall": b.handlePollStartAll,
		"poll_stopall":  b.handlePollStopAll,
		"autosend":      b.handleAutoSend,
		"persona":       b.handlePersona,
		"signature":     b.handleSignature,
		"show":          b.handleShow,
		"queue":         b.handleQueue,
		"send":          b.handleSend,
		"redraft":       b.handleRedraft,
		"retry":         b.handleRetry,
		"test":          b.handleTest,
		"stats":         b.handleStats,
		"start":         b.handleStart,
		"help":          b.handleHelp,
	}
	for cmd, h := range commands {
		b.bot.RegisterHandler(bot.HandlerTypeMessageText, cmd, bot.MatchTypeCommand, h)
	}
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, b.handleCallback)
}

// Start starts the bot and blocks until ctx is done
func (b *Bot) Start(ctx context.Context) {
	b.logger.Info("starting telegram bot", "chat_id", b.config.TelegramChatID)
	b.bot.Start(ctx)
}

// operatorOnly drops updates that do not come from the operator chat
func (b *Bot) operatorOnly(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
		var chatID int64
		switch {
		case update.Message != nil:
			chatID = update.Message.Chat.ID
		case update.CallbackQuery != nil && update.CallbackQuery.Message.Message != nil:
			chatID = update.CallbackQuery.Message.Message.Chat.ID
		}
		if chatID != b.config.TelegramChatID {
			b.logger.Debug("ignoring update from foreign chat", "chat_id", chatID)
			return
		}
		next(ctx, tgBot, update)
	}
}

// defaultHandler handles unknown messages
func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	// Ignore non-message updates and messages without text
	if update.Message == nil {
		return
	}

	// Log unknown commands
	if update.Message.Text != "" && update.Message.Text[0] == '/' {
		b.logger.Debug("unknown command", "text", update.Message.Text)
	}
}

// handleStart handles /start command
func (b *Bot) handleStart(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.handleHelp(ctx, tgBot, update)
}

// handleHelp handles /help command
func (b *Bot) handleHelp(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message

	text := `<b>Автоответчик</b>

Бот принимает письма из подключённых ящиков, готовит ответы и присылает их сюда на проверку.

<b>Ящики:</b>
/connect email password [imap [smtp]] - подключить ящик
/disconnect id - отключить и удалить ящик
/accounts - список ящиков
/autosend id on|off - отправлять проверенные ответы без подтверждения
/persona id текст - задать стиль ответов
/signature id текст - задать подпись

<b>Опрос:</b>
/status [id] - состояние опроса
/poll_start id, /poll_stop id
/poll_startall, /poll_stopall

<b>Письма:</b>
/queue - письма, ожидающие оператора
/show id - показать письмо и черновик
/send id [force] - отправить черновик
/redraft id - переписать черновик
/retry id - повторить обработку после ошибки
/test id тема | текст - прогнать письмо через ящик без почтового сервера
/stats - статистика

<b>Примеры:</b>
<code>/connect support@gmail.com app-password</code>
<code>/connect info@example.com password mail.example.com:993 mail.example.com:587</code>

<b>Важно:</b>
- Сообщение с паролем удаляется сразу после получения
- Для Gmail используйте пароль приложения
- Серверы определяются автоматически, если не указаны`

	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, text)
}
