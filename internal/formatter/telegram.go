package formatter

import (
	"fmt"
	"strings"

	"github.com/mixelka/autoreply/internal/database"
	"github.com/mixelka/autoreply/internal/email"
	"github.com/mixelka/autoreply/pkg/models"
)

// TelegramFormatter renders pipeline state for the operator chat
type TelegramFormatter struct {
	maxLength int
}

// NewTelegramFormatter creates a new Telegram formatter
func NewTelegramFormatter() *TelegramFormatter {
	return &TelegramFormatter{
		maxLength: 4000, // Leave room for markup
	}
}

var statusTitles = map[models.Status]string{
	models.StatusNew:          "🆕 Новое письмо",
	models.StatusClassifying:  "🔎 Классификация",
	models.StatusDrafting:     "✍️ Подготовка ответа",
	models.StatusValidating:   "🧐 Проверка ответа",
	models.StatusReadyToSend:  "✅ Ответ готов к отправке",
	models.StatusNeedsRedraft: "♻️ Ответ отклонён проверкой",
	models.StatusEscalate:     "⚠️ Требуется оператор",
	models.StatusSending:      "📨 Ответ отправляется",
	models.StatusSent:         "📤 Ответ отправлен",
	models.StatusError:        "❌ Ошибка обработки",
}

// StatusTitle returns the operator-facing name of a status
func StatusTitle(s models.Status) string {
	if t, ok := statusTitles[s]; ok {
		return t
	}
	return string(s)
}

// FormatMessage renders a message with its draft and pipeline state
func (f *TelegramFormatter) FormatMessage(account *models.Account, msg *models.Message) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("<b>%s</b> #%d\n", StatusTitle(msg.Status), msg.ID))
	if account != nil {
		sb.WriteString(fmt.Sprintf("<b>Ящик:</b> %s\n", f.escapeHTML(account.Email)))
	}

	from := f.escapeHTML(msg.FromAddr)
	if msg.FromName != "" {
		from = fmt.Sprintf("%s &lt;%s&gt;", f.escapeHTML(msg.FromName), f.escapeHTML(msg.FromAddr))
	}
	sb.WriteString(fmt.Sprintf("<b>От:</b> %s\n", from))
	sb.WriteString(fmt.Sprintf("<b>Тема:</b> %s\n", f.escapeHTML(msg.Subject)))
	sb.WriteString(fmt.Sprintf("<b>Дата:</b> %s\n", msg.ReceivedAt.Format("02.01.2006 15:04")))

	if len(msg.Intents) > 0 {
		parts := make([]string, 0, len(msg.Intents))
		for _, mi := range msg.Intents {
			parts = append(parts, fmt.Sprintf("%s (%.2f)", f.escapeHTML(mi.Name), mi.Confidence))
		}
		sb.WriteString(fmt.Sprintf("<b>Намерения:</b> %s\n", strings.Join(parts, ", ")))
	}
	if msg.RedraftCount > 0 {
		sb.WriteString(fmt.Sprintf("<b>Переписано:</b> %d раз\n", msg.RedraftCount))
	}

	if msg.ErrorDetail != "" {
		sb.WriteString(fmt.Sprintf("\n<b>Ошибка:</b> <code>%s</code>\n", f.escapeHTML(msg.ErrorDetail)))
	}
	if msg.ValidationStatus == models.ValidationFail && msg.ValidationFeedback != "" {
		sb.WriteString(fmt.Sprintf("\n<b>Замечания проверки:</b>\n<i>%s</i>\n", f.escapeHTML(msg.ValidationFeedback)))
	}

	// Draft first, the inbound body gets what is left
	if msg.Draft != "" {
		sb.WriteString("\n<b>Черновик ответа:</b>\n")
		draft := f.truncate(msg.Draft, (f.maxLength-sb.Len())/2)
		sb.WriteString(f.escapeHTML(draft))
		sb.WriteString("\n")
	}

	sb.WriteString("\n<b>Письмо:</b>\n")
	body := f.truncate(msg.BodyText, f.maxLength-sb.Len()-50)
	sb.WriteString(f.escapeHTML(body))

	return sb.String()
}

// FormatStatus renders the supervisor's global view
func (f *TelegramFormatter) FormatStatus(g email.GlobalStatus) string {
	var sb strings.Builder

	sb.WriteString("<b>📡 Состояние опроса</b>\n\n")
	sb.WriteString(fmt.Sprintf("Активных: %d\n", g.Active))
	sb.WriteString(fmt.Sprintf("Подключено: %d\n", g.Connected))
	if g.Crashed > 0 {
		sb.WriteString(fmt.Sprintf("Упало: %d\n", g.Crashed))
	}
	sb.WriteString(fmt.Sprintf("В очереди: %d\n", g.Queue))

	if len(g.Accounts) == 0 {
		sb.WriteString("\nНет запущенных ящиков.")
		return sb.String()
	}

	sb.WriteString("\n")
	for _, st := range g.Accounts {
		sb.WriteString(f.accountLine(st))
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatAccountStatus renders one poller's status
func (f *TelegramFormatter) FormatAccountStatus(st email.PollStatus) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("<b>📬 %s</b> (id %d)\n\n", f.escapeHTML(st.Email), st.AccountID))
	sb.WriteString(fmt.Sprintf("Опрос: %s\n", yesNo(st.Active)))
	sb.WriteString(fmt.Sprintf("Соединение: %s\n", yesNo(st.Connected)))
	if st.Crashed {
		sb.WriteString("Состояние: упал\n")
	}
	if !st.LastPolled.IsZero() {
		sb.WriteString(fmt.Sprintf("Последний опрос: %s\n", st.LastPolled.Format("02.01.2006 15:04:05")))
	}
	if !st.Marker.IsZero() {
		sb.WriteString(fmt.Sprintf("Позиция: UID %d (validity %d)\n", st.Marker.LastUID, st.Marker.UIDValidity))
	}
	if st.LastError != "" {
		sb.WriteString(fmt.Sprintf("Последняя ошибка: <code>%s</code>\n", f.escapeHTML(st.LastError)))
	}
	return sb.String()
}

// FormatStats renders dashboard counters
func (f *TelegramFormatter) FormatStats(s *database.Stats) string {
	var sb strings.Builder

	sb.WriteString("<b>📊 Статистика</b>\n\n")
	sb.WriteString(fmt.Sprintf("Писем: %d\n", s.TotalMessages))
	sb.WriteString(fmt.Sprintf("Обработано: %d (%.1f%%)\n", s.Processed, s.ProcessingRate))
	sb.WriteString(fmt.Sprintf("Эскалировано: %d\n", s.Escalated))
	sb.WriteString(fmt.Sprintf("Ошибок: %d\n", s.Errors))
	sb.WriteString(fmt.Sprintf("Намерений: %d\n", s.Intents))
	sb.WriteString(fmt.Sprintf("Ящиков: %d (активных %d)\n", s.Accounts, s.ActiveAccounts))

	if s.TotalMessages > 0 {
		sb.WriteString("\n")
		for _, status := range models.Statuses() {
			if n := s.ByStatus[status]; n > 0 {
				sb.WriteString(fmt.Sprintf("%s: %d\n", StatusTitle(status), n))
			}
		}
	}
	return sb.String()
}

// FormatAccounts renders the account list
func (f *TelegramFormatter) FormatAccounts(accounts []*models.Account) string {
	if len(accounts) == 0 {
		return "Нет подключённых ящиков."
	}

	var sb strings.Builder
	sb.WriteString("<b>📬 Ящики</b>\n\n")
	for _, a := range accounts {
		mode := "ручная отправка"
		if a.AutoSend {
			mode = "автоотправка"
		}
		state := "⏸"
		if a.IsActive {
			state = "▶️"
		}
		sb.WriteString(fmt.Sprintf("%s <b>%d</b> %s, %s\n", state, a.ID, f.escapeHTML(a.Email), mode))
	}
	return sb.String()
}

// FormatQueue renders messages waiting for an operator decision
func (f *TelegramFormatter) FormatQueue(msgs []*models.Message) string {
	if len(msgs) == 0 {
		return "Нет писем, ожидающих решения."
	}

	var sb strings.Builder
	sb.WriteString("<b>📥 Ожидают решения</b>\n\n")
	for _, m := range msgs {
		line := fmt.Sprintf("<b>#%d</b> %s\n    %s: %s\n",
			m.ID, StatusTitle(m.Status), f.escapeHTML(m.FromAddr), f.escapeHTML(f.truncate(m.Subject, 60)))
		if sb.Len()+len(line) > f.maxLength {
			sb.WriteString("…")
			break
		}
		sb.WriteString(line)
	}
	sb.WriteString("\nПодробнее: <code>/show id</code>")
	return sb.String()
}

func (f *TelegramFormatter) accountLine(st email.PollStatus) string {
	icon := "🟢"
	switch {
	case st.Crashed:
		icon = "💥"
	case !st.Active:
		icon = "⏸"
	case !st.Connected:
		icon = "🟡"
	}
	line := fmt.Sprintf("%s <b>%d</b> %s", icon, st.AccountID, f.escapeHTML(st.Email))
	if st.LastError != "" {
		line += fmt.Sprintf("\n    <i>%s</i>", f.escapeHTML(f.truncate(st.LastError, 120)))
	}
	return line
}

func yesNo(v bool) string {
	if v {
		return "да"
	}
	return "нет"
}

// Escape escapes text for HTML parse mode
func (f *TelegramFormatter) Escape(s string) string {
	return f.escapeHTML(s)
}

// escapeHTML escapes HTML special characters for Telegram
func (f *TelegramFormatter) escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// truncate cuts text to maxLen runes
func (f *TelegramFormatter) truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 100
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}
