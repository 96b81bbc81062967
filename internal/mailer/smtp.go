package mailer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SMTPConfig describes the relay used for outbound mail.
type SMTPConfig struct {
	Addr     string // host:port
	Username string
	Password string
}

// SMTPDelivery submits messages to an SMTP relay. STARTTLS is used when the
// relay offers it; PLAIN auth is used when a username is configured.
type SMTPDelivery struct {
	cfg      SMTPConfig
	sendMail func(addr string, a sasl.Client, from string, to []string, r *bytes.Reader) error
}

var _ Delivery = (*SMTPDelivery)(nil)

// NewSMTPDelivery creates an SMTPDelivery for cfg.
func NewSMTPDelivery(cfg SMTPConfig) *SMTPDelivery {
	return &SMTPDelivery{
		cfg: cfg,
		sendMail: func(addr string, a sasl.Client, from string, to []string, r *bytes.Reader) error {
			return smtp.SendMail(addr, a, from, to, r)
		},
	}
}

func (d *SMTPDelivery) Deliver(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return invalidMessage(fmt.Errorf("parse from address: %w", err))
	}
	to, err := parseAddresses(msg.To)
	if err != nil {
		return invalidMessage(err)
	}
	if len(to) == 0 {
		return invalidMessage(errNoRecipients)
	}
	rcpts := make([]string, len(to))
	for i, a := range to {
		rcpts[i] = a.Address
	}

	var buf bytes.Buffer
	if err := Compose(&buf, msg); err != nil {
		return invalidMessage(fmt.Errorf("compose message: %w", err))
	}

	var auth sasl.Client
	if d.cfg.Username != "" {
		auth = sasl.NewPlainClient("", d.cfg.Username, d.cfg.Password)
	}
	if err := d.sendMail(d.cfg.Addr, auth, from.Address, rcpts, bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("smtp send via %s: %w", d.cfg.Addr, err)
	}
	slog.Debug("message submitted", "relay", d.cfg.Addr, "recipients", len(rcpts), "attachments", len(msg.Attachments))
	return nil
}
