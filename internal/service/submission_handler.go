package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/mirsubmit/backend/internal/mailer"
	"github.com/mirsubmit/backend/internal/metrics"
	"github.com/mirsubmit/backend/internal/model"
	"github.com/mirsubmit/backend/internal/storage"
)

// Form fields with a fixed meaning for mail handlers.
const (
	FieldSenderName  = "name"
	FieldSenderEmail = "mail"
	FieldCopy        = "copy"
)

// SubmissionHandler processes a submission that already passed the captcha gate.
type SubmissionHandler interface {
	Handle(ctx context.Context, sub *model.Submission) error
}

// MailHandlerConfig is bound once at startup.
type MailHandlerConfig struct {
	Sender         string
	Recipients     []string
	Subject        string
	Renderer       BodyRenderer
	RequiredFields []string
	Attachments    *model.AttachmentConfig
}

// MailSubmissionHandler validates a submission, stages its attachments,
// renders the body and mails it. Staged files are removed on every exit path.
type MailSubmissionHandler struct {
	cfg      MailHandlerConfig
	stager   storage.Stager
	delivery mailer.Delivery
	metrics  *metrics.Metrics
}

var _ SubmissionHandler = (*MailSubmissionHandler)(nil)

// NewMailSubmissionHandler checks cfg and returns a handler. Required field
// names are deduplicated keeping their first position.
func NewMailSubmissionHandler(cfg MailHandlerConfig, stager storage.Stager, delivery mailer.Delivery, m *metrics.Metrics) (*MailSubmissionHandler, error) {
	if strings.TrimSpace(cfg.Sender) == "" {
		return nil, errors.New("mail handler: sender is required")
	}
	if len(cfg.Recipients) == 0 {
		return nil, errors.New("mail handler: at least one recipient is required")
	}
	if cfg.Renderer == nil {
		return nil, errors.New("mail handler: body renderer is required")
	}
	if delivery == nil {
		return nil, errors.New("mail handler: delivery is required")
	}
	if err := cfg.Attachments.Validate(); err != nil {
		return nil, fmt.Errorf("mail handler: %w", err)
	}
	if cfg.Attachments.Enabled() && stager == nil {
		return nil, errors.New("mail handler: attachments enabled without a stager")
	}
	cfg.RequiredFields = dedupe(cfg.RequiredFields)
	cfg.Recipients = append([]string(nil), cfg.Recipients...)
	return &MailSubmissionHandler{cfg: cfg, stager: stager, delivery: delivery, metrics: m}, nil
}

func (h *MailSubmissionHandler) Handle(ctx context.Context, sub *model.Submission) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	log := slog.With("submission", sub.ID, "action", sub.Action)

	if err := CheckRequiredFields(sub.Fields, h.cfg.RequiredFields); err != nil {
		return err
	}
	if err := CheckAttachmentPolicy(sub.Attachments, h.cfg.Attachments); err != nil {
		return err
	}

	formSender, err := resolveFormSender(sub.Fields)
	if err != nil {
		return err
	}
	sendCopy := isTruthy(sub.Fields.Value(FieldCopy))
	if sendCopy && formSender == nil {
		return model.ErrMissingSenderForCopy
	}

	var staged []*model.StagedFile
	if len(sub.Attachments) > 0 {
		dir := filepath.Join(h.cfg.Attachments.UploadDir, sub.ID)
		defer func() {
			h.cleanup(context.WithoutCancel(ctx), log, dir, staged)
		}()

		var limit, total int64
		if h.cfg.Attachments.MaxFileSize != nil {
			limit = *h.cfg.Attachments.MaxFileSize
		}
		for _, a := range sub.Attachments {
			f, err := h.stager.Stage(ctx, dir, a, limit)
			if err != nil {
				return fmt.Errorf("stage attachment: %w", err)
			}
			staged = append(staged, f)
			total += f.Size
			h.metrics.ObserveAttachment(f.Size)
		}
		// declared sizes may lie; check what actually arrived
		if maxTotal := h.cfg.Attachments.MaxTotalSize; maxTotal != nil && total > *maxTotal {
			return model.NewValidationError(model.ErrTotalAttachmentsTooLarge, "file",
				fmt.Sprintf("%d bytes received", total))
		}
	}

	body := h.cfg.Renderer.Render(sub.Fields)
	uris := make([]string, len(staged))
	for i, f := range staged {
		uris[i] = f.URI()
	}

	msg := &mailer.Message{
		From:        h.cfg.Sender,
		ReplyTo:     formSender,
		To:          h.cfg.Recipients,
		Subject:     h.cfg.Subject,
		Body:        body,
		Attachments: uris,
	}
	if err := h.delivery.Deliver(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", model.ErrDelivery, err)
	}

	if sendCopy {
		cp := &mailer.Message{
			From:    h.cfg.Sender,
			To:      []string{formSender.String()},
			Subject: h.cfg.Subject,
			Body:    body,
		}
		if err := h.delivery.Deliver(ctx, cp); err != nil {
			return fmt.Errorf("%w: copy to sender: %w", model.ErrDelivery, err)
		}
	}

	log.Info("submission delivered", "attachments", len(staged), "copy", sendCopy)
	return nil
}

func (h *MailSubmissionHandler) cleanup(ctx context.Context, log *slog.Logger, dir string, staged []*model.StagedFile) {
	for _, f := range staged {
		if err := h.stager.Release(ctx, f); err != nil {
			log.Warn("failed to delete staged attachment", "path", f.Path, "error", err)
		}
	}
	if err := h.stager.RemoveDir(ctx, dir); err != nil {
		log.Warn("failed to delete staging directory", "path", dir, "error", err)
	}
}

// resolveFormSender returns the visitor's address with their name as display
// name, or nil when no mail was given. A mail value that is not a bare address
// fails with ErrInvalidSender.
func resolveFormSender(fields *model.FormFields) (*mail.Address, error) {
	email := strings.TrimSpace(fields.Value(FieldSenderEmail))
	if email == "" {
		return nil, nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" {
		return nil, model.NewValidationError(model.ErrInvalidSender, FieldSenderEmail, "not a mail address")
	}
	return &mail.Address{
		Name:    strings.TrimSpace(fields.Value(FieldSenderName)),
		Address: addr.Address,
	}, nil
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "on", "yes", "1":
		return true
	}
	return false
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
