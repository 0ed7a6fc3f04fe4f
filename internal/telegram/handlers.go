package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/autoreply/internal/database"
	"github.com/mixelka/autoreply/internal/email"
	"github.com/mixelka/autoreply/internal/formatter"
	"github.com/mixelka/autoreply/internal/pipeline"
	appmodels "github.com/mixelka/autoreply/pkg/models"
)

const defaultPersona = "a friendly and professional customer support agent"

// handleConnect handles /connect command
// Usage: /connect email password [imap_server [smtp_server]]
func (b *Bot) handleConnect(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	chatID, topicID := msg.Chat.ID, msg.MessageThreadID

	// In groups only administrators may add mailboxes
	if msg.Chat.Type != "private" && msg.From != nil {
		isAdmin, err := b.isUserAdmin(ctx, chatID, msg.From.ID)
		if err != nil {
			b.logger.Error("failed to check admin status", "error", err)
			b.sendMessage(ctx, chatID, topicID, "Ошибка проверки прав")
			return
		}
		if !isAdmin {
			b.sendMessage(ctx, chatID, topicID, "Только администраторы могут подключать почтовые ящики")
			return
		}
	}

	args := commandArgs(msg.Text)
	if len(args) < 2 || len(args) > 4 {
		b.sendMessage(ctx, chatID, topicID,
			"Использование: <code>/connect email@example.com password</code>\nИли: <code>/connect email@example.com password imap.server.com:993 smtp.server.com:587</code>")
		return
	}

	emailAddr := strings.ToLower(args[0])
	password := args[1]

	// Delete the message with password immediately
	if err := b.deleteMessage(ctx, chatID, msg.ID); err != nil {
		b.logger.Warn("failed to delete connect message", "error", err)
	}

	if email.DomainOf(emailAddr) == "" {
		b.sendMessage(ctx, chatID, topicID, "Некорректный адрес: "+b.formatter.Escape(emailAddr))
		return
	}

	existing, err := b.db.GetAccountByEmail(ctx, emailAddr)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		b.logger.Error("failed to check existing account", "error", err)
		b.sendMessage(ctx, chatID, topicID, "Ошибка проверки существующего подключения")
		return
	}
	if existing != nil {
		b.sendMessage(ctx, chatID, topicID,
			fmt.Sprintf("Ящик <b>%s</b> уже подключён (id %d)", b.formatter.Escape(existing.Email), existing.ID))
		return
	}

	var endpoints email.Endpoints
	if len(args) >= 3 {
		endpoints.IMAP = args[2]
	}
	if len(args) == 4 {
		endpoints.SMTP = args[3]
	}
	if endpoints.IMAP == "" || endpoints.SMTP == "" {
		b.sendMessage(ctx, chatID, topicID, "Определяю серверы...")
		resolved, err := b.resolver.Resolve(ctx, emailAddr)
		if err != nil {
			b.logger.Error("failed to resolve mail servers", "email", emailAddr, "error", err)
			b.sendMessage(ctx, chatID, topicID,
				fmt.Sprintf("Не удалось определить серверы для %s\nУкажите вручную: <code>/connect email password imap.server.com:993 smtp.server.com:587</code>", b.formatter.Escape(emailAddr)))
			return
		}
		if endpoints.IMAP == "" {
			endpoints.IMAP = resolved.IMAP
		}
		if endpoints.SMTP == "" {
			endpoints.SMTP = resolved.SMTP
		}
		b.logger.Info("resolved mail servers", "email", emailAddr, "imap", endpoints.IMAP, "smtp", endpoints.SMTP)
	}

	b.sendMessage(ctx, chatID, topicID, fmt.Sprintf("Проверяю подключение к %s...", b.formatter.Escape(endpoints.IMAP)))

	err = b.pool.TestConnection(ctx, email.ClientConfig{
		Email:       emailAddr,
		Password:    password,
		Server:      endpoints.IMAP,
		DialTimeout: b.config.IMAPDialTimeout,
	})
	if err != nil {
		b.logger.Error("connection test failed", "email", emailAddr, "error", err)
		b.sendMessage(ctx, chatID, topicID, "Ошибка подключения: "+b.formatter.Escape(err.Error()))
		return
	}

	encryptedPassword, err := b.box.Encrypt(password)
	if err != nil {
		b.logger.Error("failed to encrypt password", "error", err)
		b.sendMessage(ctx, chatID, topicID, "Ошибка шифрования пароля")
		return
	}

	account := &appmodels.Account{
		Name:       strings.SplitN(emailAddr, "@", 2)[0],
		Email:      emailAddr,
		Password:   encryptedPassword,
		IMAPServer: endpoints.IMAP,
		SMTPServer: endpoints.SMTP,
		Persona:    defaultPersona,
		IsActive:   true,
	}
	if err := b.db.CreateAccount(ctx, account); err != nil {
		b.logger.Error("failed to create account", "error", err)
		b.sendMessage(ctx, chatID, topicID, "Ошибка сохранения ящика в базу данных")
		return
	}

	if err := b.supervisor.Start(ctx, account.ID); err != nil {
		b.logger.Error("failed to start poller", "account_id", account.ID, "error", err)
		if err := b.db.DeleteAccount(ctx, account.ID); err != nil {
			b.logger.Error("failed to roll back account", "account_id", account.ID, "error", err)
		}
		b.sendMessage(ctx, chatID, topicID, "Ошибка запуска опроса: "+b.formatter.Escape(err.Error()))
		return
	}

	b.logger.Info("account connected", "account_id", account.ID, "email", emailAddr)
	b.sendMessage(ctx, chatID, topicID,
		fmt.Sprintf("Ящик <b>%s</b> подключён (id %d)\nIMAP: %s\nSMTP: %s\n\nОтветы ждут подтверждения. Автоотправка: <code>/autosend %d on</code>",
			b.formatter.Escape(emailAddr), account.ID, b.formatter.Escape(endpoints.IMAP), b.formatter.Escape(endpoints.SMTP), account.ID))
}

// handleDisconnect handles /disconnect command
func (b *Bot) handleDisconnect(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	id, ok := b.requireID(ctx, msg, "/disconnect id")
	if !ok {
		return
	}

	account, err := b.db.GetAccountByID(ctx, id)
	if err != nil {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, describeError(err))
		return
	}

	b.supervisor.Stop(account.ID)

	if err := b.db.DeleteAccount(ctx, account.ID); err != nil {
		b.logger.Error("failed to delete account", "error", err)
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, "Ошибка удаления ящика")
		return
	}

	b.logger.Info("account disconnected", "account_id", account.ID, "email", account.Email)
	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID,
		fmt.Sprintf("Ящик <b>%s</b> отключён", b.formatter.Escape(account.Email)))
}

// handleAccounts handles /accounts command
func (b *Bot) handleAccounts(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message

	accounts, err := b.db.ListAccounts(ctx)
	if err != nil {
		b.logger.Error("failed to list accounts", "error", err)
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, "Ошибка получения списка ящиков")
		return
	}
	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, b.formatter.FormatAccounts(accounts))
}

// handleStatus handles /status [id]
func (b *Bot) handleStatus(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message

	if len(commandArgs(msg.Text)) == 0 {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, b.formatter.FormatStatus(b.supervisor.GlobalStatus()))
		return
	}

	id, ok := b.requireID(ctx, msg, "/status id")
	if !ok {
		return
	}
	st, err := b.supervisor.Status(ctx, id)
	if err != nil {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, describeError(err))
		return
	}
	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, b.formatter.FormatAccountStatus(st))
}

// handlePollStart handles /poll_start id
func (b *Bot) handlePollStart(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	id, ok := b.requireID(ctx, msg, "/poll_start id")
	if !ok {
		return
	}

	if err := b.db.SetAccountActive(ctx, id, true); err != nil {
		b.logger.Error("failed to activate account", "account_id", id, "error", err)
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, describeError(err))
		return
	}
	if err := b.supervisor.Start(ctx, id); err != nil {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, describeError(err))
		return
	}
	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, fmt.Sprintf("Опрос ящика %d запущен", id))
}

// handlePollStop handles /poll_stop id. The account stays stopped across restarts.
func (b *Bot) handlePollStop(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	id, ok := b.requireID(ctx, msg, "/poll_stop id")
	if !ok {
		return
	}

	b.supervisor.Stop(id)
	if err := b.db.SetAccountActive(ctx, id, false); err != nil {
		b.logger.Error("failed to deactivate account", "account_id", id, "error", err)
	}
	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, fmt.Sprintf("Опрос ящика %d остановлен", id))
}

// handlePollStartAll handles /poll_startall
func (b *Bot) handlePollStartAll(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message

	if err := b.supervisor.StartAll(ctx); err != nil {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, "Не все ящики запущены: "+b.formatter.Escape(err.Error()))
		return
	}
	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, b.formatter.FormatStatus(b.supervisor.GlobalStatus()))
}

// handlePollStopAll handles /poll_stopall. Active accounts resume on restart.
func (b *Bot) handlePollStopAll(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message

	b.supervisor.StopAll()
	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, "Опрос всех ящиков остановлен")
}

// handleAutoSend handles /autosend id on|off
func (b *Bot) handleAutoSend(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	args := commandArgs(msg.Text)
	if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, "Использование: <code>/autosend id on|off</code>")
		return
	}
	id, err := parseID(args[0])
	if err != nil {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, describeError(err))
		return
	}
	if _, err := b.db.GetAccountByID(ctx, id); err != nil {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, describeError(err))
		return
	}

	on := args[1] == "on"
	if err := b.db.SetAccountAutoSend(ctx, id, on); err != nil {
		b.logger.Error("failed to set auto send", "account_id", id, "error", err)
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, describeError(err))
		return
	}

	text := fmt.Sprintf("Ящик %d: ответы ждут подтверждения", id)
	if on {
		text = fmt.Sprintf("Ящик %d: проверенные ответы отправляются автоматически", id)
	}
	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, text)
}

// handlePersona handles /persona id text
func (b *Bot) handlePersona(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.updateProfile(ctx, update.Message, "/persona id текст", func(a *appmodels.Account, text string) {
		a.Persona = text
	})
}

// handleSignature handles /signature id text
func (b *Bot) handleSignature(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	b.updateProfile(ctx, update.Message, "/signature id текст", func(a *appmodels.Account, text string) {
		a.Signature = text
	})
}

func (b *Bot) updateProfile(ctx context.Context, msg *models.Message, usage string, apply func(*appmodels.Account, string)) {
	id, ok := b.requireID(ctx, msg, usage)
	if !ok {
		return
	}
	text := textAfter(msg.Text, 2)
	if text == "" {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, "Использование: <code>"+usage+"</code>")
		return
	}

	account, err := b.db.GetAccountByID(ctx, id)
	if err != nil {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, describeError(err))
		return
	}
	apply(account, text)
	if err := b.db.SetAccountProfile(ctx, id, account.Persona, account.Signature); err != nil {
		b.logger.Error("failed to update profile", "account_id", id, "error", err)
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, describeError(err))
		return
	}
	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, fmt.Sprintf("Ящик %d обновлён", id))
}

// handleShow handles /show id
func (b *Bot) handleShow(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	id, ok := b.requireID(ctx, msg, "/show id")
	if !ok {
		return
	}

	m, err := b.db.GetMessageByID(ctx, id)
	if err != nil {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, describeError(err))
		return
	}
	account, err := b.db.GetAccountByID(ctx, m.AccountID)
	if err != nil {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, describeError(err))
		return
	}

	text := b.formatter.FormatMessage(account, m)
	keyboard := formatter.BuildMessageKeyboard(m.ID, m.Status)
	if _, err := b.sendMessageWithKeyboard(ctx, msg.Chat.ID, msg.MessageThreadID, text, keyboard); err != nil {
		b.logger.Error("failed to send message card", "message_id", m.ID, "error", err)
	}
}

// handleQueue handles /queue: messages waiting for the operator
func (b *Bot) handleQueue(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message

	var waiting []*appmodels.Message
	for _, status := range []appmodels.Status{
		appmodels.StatusReadyToSend,
		appmodels.StatusNeedsRedraft,
		appmodels.StatusEscalate,
		appmodels.StatusError,
	} {
		list, err := b.db.ListMessages(ctx, database.MessageFilter{Status: status, Limit: 20})
		if err != nil {
			b.logger.Error("failed to list messages", "status", status, "error", err)
			b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, describeError(err))
			return
		}
		waiting = append(waiting, list...)
	}
	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, b.formatter.FormatQueue(waiting))
}

// handleSend handles /send id [force]
func (b *Bot) handleSend(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	id, ok := b.requireID(ctx, msg, "/send id [force]")
	if !ok {
		return
	}
	args := commandArgs(msg.Text)
	force := len(args) > 1 && args[1] == "force"

	b.send(ctx, msg.Chat.ID, msg.MessageThreadID, id, force)
}

// handleRedraft handles /redraft id
func (b *Bot) handleRedraft(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	id, ok := b.requireID(ctx, msg, "/redraft id")
	if !ok {
		return
	}

	b.redraft(ctx, msg.Chat.ID, msg.MessageThreadID, id)
}

// handleRetry handles /retry id
func (b *Bot) handleRetry(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	id, ok := b.requireID(ctx, msg, "/retry id")
	if !ok {
		return
	}

	b.retry(ctx, msg.Chat.ID, msg.MessageThreadID, id)
}

// handleTest handles /test id subject | body: runs a hand-written message
// through the pipeline as if it arrived in the mailbox
func (b *Bot) handleTest(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	const usage = "/test id тема | текст"
	id, ok := b.requireID(ctx, msg, usage)
	if !ok {
		return
	}
	subject, body, ok := parseTestMessage(textAfter(msg.Text, 2))
	if !ok {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, "Использование: <code>"+usage+"</code>")
		return
	}

	m, err := b.pipeline.Submit(ctx, id, subject, body)
	if err != nil {
		b.logger.Error("failed to submit test message", "account_id", id, "error", err)
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, describeError(err))
		return
	}
	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID,
		fmt.Sprintf("Тестовое письмо #%d поставлено в очередь. Результат: <code>/show %d</code>", m.ID, m.ID))
}

// handleStats handles /stats
func (b *Bot) handleStats(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message

	stats, err := b.db.Stats(ctx)
	if err != nil {
		b.logger.Error("failed to get stats", "error", err)
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, "Ошибка получения статистики")
		return
	}
	b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, b.formatter.FormatStats(stats))
}

// handleCallback handles inline button callbacks
func (b *Bot) handleCallback(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	callback := update.CallbackQuery
	if callback == nil {
		return
	}

	data, err := formatter.DecodeCallback(callback.Data)
	if err != nil {
		b.logger.Error("failed to decode callback", "error", err, "data", callback.Data)
		b.answerCallback(ctx, callback.ID, "Ошибка", false)
		return
	}

	card := callback.Message.Message
	if card == nil {
		b.answerCallback(ctx, callback.ID, "Сообщение устарело, используйте /show", true)
		return
	}
	chatID, topicID := card.Chat.ID, card.MessageThreadID

	switch data.Action {
	case appmodels.CallbackSend, appmodels.CallbackOverride:
		b.answerCallback(ctx, callback.ID, "Отправляю...", false)
		b.clearKeyboard(ctx, card)
		b.send(ctx, chatID, topicID, data.MessageID, data.Action == appmodels.CallbackOverride)
	case appmodels.CallbackRedraft:
		b.answerCallback(ctx, callback.ID, "Переписываю...", false)
		b.clearKeyboard(ctx, card)
		b.redraft(ctx, chatID, topicID, data.MessageID)
	case appmodels.CallbackRetry:
		b.answerCallback(ctx, callback.ID, "Повторяю обработку...", false)
		b.clearKeyboard(ctx, card)
		b.retry(ctx, chatID, topicID, data.MessageID)
	default:
		b.answerCallback(ctx, callback.ID, "Неизвестное действие", false)
	}
}

// clearKeyboard removes the buttons from a message card
func (b *Bot) clearKeyboard(ctx context.Context, card *models.Message) {
	empty := &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{}}
	if err := b.editMessageReplyMarkup(ctx, card.Chat.ID, card.ID, empty); err != nil {
		b.logger.Warn("failed to clear keyboard", "message_id", card.ID, "error", err)
	}
}

func (b *Bot) send(ctx context.Context, chatID int64, topicID int, id int64, force bool) {
	if err := b.pipeline.Send(ctx, id, force); err != nil {
		b.logger.Warn("send failed", "message_id", id, "override", force, "error", err)
		b.reportFailure(ctx, chatID, topicID, id, err)
		return
	}
	b.logger.Info("reply sent by operator", "message_id", id, "override", force)
	b.sendMessage(ctx, chatID, topicID, fmt.Sprintf("#%d: ответ отправлен", id))
}

// redraft runs synchronously; the resulting card arrives through Notify
func (b *Bot) redraft(ctx context.Context, chatID int64, topicID int, id int64) {
	if err := b.pipeline.Redraft(ctx, id); err != nil {
		b.logger.Warn("redraft failed", "message_id", id, "error", err)
		b.reportFailure(ctx, chatID, topicID, id, err)
	}
}

// reportFailure replies with a rejected operator action. Stage failures
// already produced an error card through Notify.
func (b *Bot) reportFailure(ctx context.Context, chatID int64, topicID int, id int64, err error) {
	var stageErr *pipeline.Error
	if errors.As(err, &stageErr) {
		return
	}
	b.sendMessage(ctx, chatID, topicID, fmt.Sprintf("#%d: %s", id, describeError(err)))
}

func (b *Bot) retry(ctx context.Context, chatID int64, topicID int, id int64) {
	if err := b.pipeline.Retry(ctx, id); err != nil {
		b.logger.Warn("retry rejected", "message_id", id, "error", err)
		b.sendMessage(ctx, chatID, topicID, fmt.Sprintf("#%d: %s", id, describeError(err)))
		return
	}
	b.sendMessage(ctx, chatID, topicID, fmt.Sprintf("#%d: поставлено в очередь", id))
}
