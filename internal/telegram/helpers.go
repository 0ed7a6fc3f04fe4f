package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/autoreply/internal/database"
	"github.com/mixelka/autoreply/internal/email"
	"github.com/mixelka/autoreply/internal/pipeline"
)

// isUserAdmin checks if a user is an admin in the chat
func (b *Bot) isUserAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	apiCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	member, err := b.bot.GetChatMember(apiCtx, &bot.GetChatMemberParams{
		ChatID: chatID,
		UserID: userID,
	})
	if err != nil {
		return false, err
	}

	b.logger.Debug("member type", "user_id", userID, "type", member.Type)
	switch member.Type {
	case models.ChatMemberTypeOwner, models.ChatMemberTypeAdministrator:
		return true, nil
	default:
		return false, nil
	}
}

// sendMessage sends an HTML message, to a topic when topicID is set
func (b *Bot) sendMessage(ctx context.Context, chatID int64, topicID int, text string) (*models.Message, error) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}

	if topicID != 0 {
		params.MessageThreadID = topicID
	}

	return b.bot.SendMessage(ctx, params)
}

// sendMessageWithKeyboard sends a message with an inline keyboard, if any
func (b *Bot) sendMessageWithKeyboard(ctx context.Context, chatID int64, topicID int, text string, keyboard *models.InlineKeyboardMarkup) (*models.Message, error) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}

	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	if topicID != 0 {
		params.MessageThreadID = topicID
	}

	return b.bot.SendMessage(ctx, params)
}

// deleteMessage deletes a message
func (b *Bot) deleteMessage(ctx context.Context, chatID int64, msgID int) error {
	_, err := b.bot.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: msgID,
	})
	return err
}

// editMessageReplyMarkup edits the reply markup of a message
func (b *Bot) editMessageReplyMarkup(ctx context.Context, chatID int64, msgID int, keyboard *models.InlineKeyboardMarkup) error {
	_, err := b.bot.EditMessageReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{
		ChatID:      chatID,
		MessageID:   msgID,
		ReplyMarkup: keyboard,
	})
	return err
}

// answerCallback answers a callback query
func (b *Bot) answerCallback(ctx context.Context, callbackID, text string, showAlert bool) error {
	_, err := b.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       showAlert,
	})
	return err
}

// commandArgs returns the words after the command
func commandArgs(text string) []string {
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil
	}
	return parts[1:]
}

// parseID parses a positive record id
func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// requireID parses the single id argument of a command, replying with
// usage when it is missing or malformed
func (b *Bot) requireID(ctx context.Context, msg *models.Message, usage string) (int64, bool) {
	args := commandArgs(msg.Text)
	if len(args) < 1 {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, "Использование: <code>"+usage+"</code>")
		return 0, false
	}
	id, err := parseID(args[0])
	if err != nil {
		b.sendMessage(ctx, msg.Chat.ID, msg.MessageThreadID, "Некорректный id: <code>"+b.formatter.Escape(args[0])+"</code>")
		return 0, false
	}
	return id, true
}

// textAfter returns text with its first n words removed, keeping the
// line breaks of the remainder
func textAfter(text string, n int) string {
	s := text
	for i := 0; i < n; i++ {
		s = strings.TrimLeft(s, " \t\r\n")
		idx := strings.IndexAny(s, " \t\r\n")
		if idx < 0 {
			return ""
		}
		s = s[idx:]
	}
	return strings.TrimSpace(s)
}

// parseTestMessage splits "subject | body". The subject may be empty, the
// body may not.
func parseTestMessage(text string) (subject, body string, ok bool) {
	subject, body, found := strings.Cut(text, "|")
	if !found {
		subject, body = "", subject
	}
	subject = strings.TrimSpace(subject)
	body = strings.TrimSpace(body)
	return subject, body, body != ""
}

// describeError turns a pipeline or storage error into operator text
func describeError(err error) string {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return "Не найдено"
	case errors.Is(err, pipeline.ErrOverrideRequired):
		return "Черновик не прошёл проверку. Отправить всё равно: <code>/send id force</code>"
	case errors.Is(err, pipeline.ErrNoDraft):
		return "У письма нет черновика"
	case errors.Is(err, pipeline.ErrSendInProgress):
		return "Письмо уже отправляется"
	case errors.Is(err, pipeline.ErrInvalidTransition):
		return "Действие недоступно в текущем состоянии письма"
	case errors.Is(err, pipeline.ErrQueueClosed):
		return "Очередь обработки остановлена"
	case errors.Is(err, email.ErrAccountInactive):
		return "Ящик выключен"
	default:
		return fmt.Sprintf("Ошибка: <code>%s</code>", html.EscapeString(err.Error()))
	}
}
