package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/SiteGenerator/internal/models"
)

// Sender is the part of tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier posts payment ledger events to an operator chat.
type Notifier struct {
	api    Sender
	chatID int64
	log    *slog.Logger
}

func NewNotifier(token string, chatID int64, log *slog.Logger) (*Notifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return NewNotifierWithSender(api, chatID, log), nil
}

func NewNotifierWithSender(api Sender, chatID int64, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{api: api, chatID: chatID, log: log}
}

func (n *Notifier) PaymentOpened(_ context.Context, user *models.User, payment *models.Payment) {
	n.sendText(fmt.Sprintf("🧾 New payment opened\nUser: %s (#%d)\nPlan: %s × %d month(s)\nAmount: %s %s\nTxn: %s",
		user.Email, user.ID, payment.Plan, payment.PlanMonths, formatAmount(payment.Amount), payment.Currency, payment.TransactionID))
}

func (n *Notifier) PaymentAwaitingApproval(_ context.Context, payment *models.Payment) {
	n.sendText(fmt.Sprintf("⏳ Payment %s reported as paid by user #%d and awaits approval.\nPlan: %s, amount: %s %s",
		payment.TransactionID, payment.UserID, payment.Plan, formatAmount(payment.Amount), payment.Currency))
}

func (n *Notifier) PaymentCompleted(_ context.Context, payment *models.Payment) {
	n.sendText(fmt.Sprintf("✅ Payment %s completed\nUser #%d is now on %s",
		payment.TransactionID, payment.UserID, payment.Plan))
}

func (n *Notifier) sendText(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		n.log.Error("send telegram notification", "err", err)
	}
}

// formatAmount renders minor units as a decimal string, 99900 -> "999.00".
func formatAmount(minor int) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// Noop drops every event. Used when no bot token is configured.
type Noop struct{}

func (Noop) PaymentOpened(context.Context, *models.User, *models.Payment) {}
func (Noop) PaymentAwaitingApproval(context.Context, *models.Payment)     {}
func (Noop) PaymentCompleted(context.Context, *models.Payment)            {}
