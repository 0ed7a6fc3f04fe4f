package formatter

import (
	"github.com/go-telegram/bot/models"
	"github.com/goccy/go-json"

	appmodels "github.com/mixelka/autoreply/pkg/models"
)

// BuildMessageKeyboard returns the operator actions available for a
// message in the given status, or nil when there are none.
func BuildMessageKeyboard(msgID int64, status appmodels.Status) *models.InlineKeyboardMarkup {
	var row []models.InlineKeyboardButton

	switch status {
	case appmodels.StatusReadyToSend:
		row = append(row, button("📤 Отправить", appmodels.CallbackSend, msgID))
		row = append(row, button("♻️ Переписать", appmodels.CallbackRedraft, msgID))
	case appmodels.StatusNeedsRedraft, appmodels.StatusEscalate:
		row = append(row, button("⚠️ Отправить всё равно", appmodels.CallbackOverride, msgID))
		row = append(row, button("♻️ Переписать", appmodels.CallbackRedraft, msgID))
	case appmodels.StatusError:
		row = append(row, button("🔁 Повторить", appmodels.CallbackRetry, msgID))
		row = append(row, button("♻️ Переписать", appmodels.CallbackRedraft, msgID))
	default:
		return nil
	}

	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{row},
	}
}

func button(text string, action appmodels.CallbackAction, msgID int64) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{
		Text: text,
		CallbackData: EncodeCallback(appmodels.CallbackData{
			Action:    action,
			MessageID: msgID,
		}),
	}
}

// EncodeCallback encodes callback data to string
func EncodeCallback(data appmodels.CallbackData) string {
	b, _ := json.Marshal(data)
	return string(b)
}

// DecodeCallback decodes callback data from string
func DecodeCallback(data string) (appmodels.CallbackData, error) {
	var cb appmodels.CallbackData
	err := json.Unmarshal([]byte(data), &cb)
	return cb, err
}
