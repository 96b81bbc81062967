package mailer

import (
	"context"
	"log/slog"
)

// LogDelivery logs messages instead of sending them. Used for local development.
type LogDelivery struct{}

var _ Delivery = LogDelivery{}

func (LogDelivery) Deliver(_ context.Context, msg *Message) error {
	replyTo := ""
	if msg.ReplyTo != nil {
		replyTo = msg.ReplyTo.String()
	}
	slog.Info("mail delivery (log only)",
		"from", msg.From,
		"reply_to", replyTo,
		"to", msg.To,
		"subject", msg.Subject,
		"body_bytes", len(msg.Body),
		"attachments", msg.Attachments,
	)
	return nil
}
