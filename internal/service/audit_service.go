package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mirsubmit/backend/internal/model"
	"github.com/mirsubmit/backend/internal/repository"
)

// AuditService records the outcome of each submission. With no repository it
// only logs.
type AuditService struct {
	repo repository.SubmissionLogRepository
}

func NewAuditService(repo repository.SubmissionLogRepository) *AuditService {
	return &AuditService{repo: repo}
}

// Record persists rec. Failures are logged, never returned: the submission
// outcome is already decided.
func (s *AuditService) Record(ctx context.Context, rec *model.SubmissionRecord) {
	if s == nil {
		return
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	slog.Info("submission processed",
		"submission", rec.ID,
		"action", rec.Action,
		"outcome", rec.Outcome,
		"error_code", rec.ErrorCode,
		"attachments", rec.AttachmentCount,
	)
	if s.repo == nil {
		return
	}
	if err := s.repo.Save(context.WithoutCancel(ctx), rec); err != nil {
		slog.Error("failed to save submission record", "submission", rec.ID, "error", err)
	}
}

// SenderDomain returns the lower-cased domain part of an email address.
func SenderDomain(email string) string {
	i := strings.LastIndexByte(email, '@')
	if i < 0 || i == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[i+1:]))
}
