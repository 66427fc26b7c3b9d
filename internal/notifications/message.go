package notifications

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/pushpay-backend/pkg/telegram"
)

// FormatPaymentMessage renders the operator message for a resolved intent.
func FormatPaymentMessage(eventType enums.OutboxEventType, event *payloads.PaymentResolvedEvent) string {
	var b strings.Builder
	esc := telegram.EscapeMarkdown

	if eventType == enums.EventPaymentCompleted {
		b.WriteString("🎉 *New Payment Received!*\n\n")
		fmt.Fprintf(&b, "💰 *Amount:* KES %d\n", event.Amount)
		fmt.Fprintf(&b, "🧾 *Receipt:* %s\n", esc(valueOr(event.Receipt, "n/a")))
	} else {
		b.WriteString("⚠️ *Payment Failed*\n\n")
		fmt.Fprintf(&b, "💰 *Amount:* KES %d\n", event.Amount)
		fmt.Fprintf(&b, "❌ *Reason:* %s\n", esc(valueOr(event.ResultDesc, "unknown")))
	}
	fmt.Fprintf(&b, "📱 *Phone:* %s\n", esc(event.PayerIdentifier))
	purpose := string(event.Purpose)
	if event.PurposeReference != nil && *event.PurposeReference != "" {
		purpose = fmt.Sprintf("%s (%s)", purpose, *event.PurposeReference)
	}
	fmt.Fprintf(&b, "📦 *Purpose:* %s\n", esc(purpose))
	fmt.Fprintf(&b, "🆔 *Intent:* %s\n\n", esc(event.CorrelationToken))
	b.WriteString("_System Notification_")
	return b.String()
}

func valueOr(value *string, fallback string) string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return fallback
	}
	return *value
}
