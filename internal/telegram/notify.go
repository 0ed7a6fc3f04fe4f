package telegram

import (
	"context"
	"time"

	"github.com/mixelka/autoreply/internal/formatter"
	"github.com/mixelka/autoreply/pkg/models"
)

const notifyTimeout = 10 * time.Second

// Notify posts a message card to the operator chat. It runs on pipeline
// workers, so a shutdown in progress does not drop the card.
func (b *Bot) Notify(ctx context.Context, account *models.Account, msg *models.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	text := b.formatter.FormatMessage(account, msg)
	keyboard := formatter.BuildMessageKeyboard(msg.ID, msg.Status)

	tgMsg, err := b.sendMessageWithKeyboard(ctx, b.config.TelegramChatID, 0, text, keyboard)
	if err != nil {
		b.logger.Error("failed to notify operator",
			"message_id", msg.ID,
			"status", msg.Status,
			"error", err,
		)
		return
	}

	b.logger.Info("operator notified",
		"account_id", account.ID,
		"message_id", msg.ID,
		"status", msg.Status,
		"telegram_msg_id", tgMsg.ID,
	)
}
