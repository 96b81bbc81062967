// Package mailer composes outbound messages and hands them to a transport.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/emersion/go-message/mail"
)

// Message is one outbound mail. Attachments are file:// URIs of staged files;
// they are read during Deliver and must exist until it returns.
type Message struct {
	From        string
	ReplyTo     *mail.Address // optional
	To          []string
	Subject     string
	Body        string
	Attachments []string
}

// Delivery sends a message synchronously. It never retries.
type Delivery interface {
	Deliver(ctx context.Context, msg *Message) error
}

// DeliveryFunc adapts a function to Delivery.
type DeliveryFunc func(ctx context.Context, msg *Message) error

func (f DeliveryFunc) Deliver(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// ErrInvalidMessage marks failures caused by the message itself (addresses,
// attachments) rather than by the transport. The circuit breaker ignores them.
var ErrInvalidMessage = errors.New("invalid message")

var errNoRecipients = errors.New("message has no recipients")

func invalidMessage(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
}

// attachmentPath converts a file:// URI back to a local path.
func attachmentPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse attachment uri: %w", err)
	}
	if u.Scheme != "file" || u.Path == "" {
		return "", fmt.Errorf("unsupported attachment uri %q", uri)
	}
	return filepath.FromSlash(u.Path), nil
}
