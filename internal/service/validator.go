package service

import (
	"fmt"
	"strings"

	"github.com/mirsubmit/backend/internal/model"
)

// CheckRequiredFields fails with ErrMissingField for the first name, in the
// given order, that is absent or blank.
func CheckRequiredFields(fields *model.FormFields, names []string) error {
	for _, name := range names {
		v, ok := fields.Get(name)
		if !ok || strings.TrimSpace(v) == "" {
			return model.NewValidationError(model.ErrMissingField, name, "")
		}
	}
	return nil
}

// CheckSenderDomain fails with ErrDisallowedSender when email ends with
// "@"+domain for any of domains, ignoring case.
func CheckSenderDomain(email string, domains []string) error {
	addr := strings.ToLower(strings.TrimSpace(email))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
		if d == "" {
			continue
		}
		if strings.HasSuffix(addr, "@"+d) {
			return model.NewValidationError(model.ErrDisallowedSender, "mail", d)
		}
	}
	return nil
}

// CheckAttachmentPolicy applies count and declared-size quotas.
func CheckAttachmentPolicy(attachments []model.InboundAttachment, cfg *model.AttachmentConfig) error {
	if !cfg.Enabled() {
		if len(attachments) > 0 {
			return model.NewValidationError(model.ErrAttachmentsNotAllowed, "file", "")
		}
		return nil
	}

	n := len(attachments)
	if cfg.MinCount != nil && n < *cfg.MinCount {
		return model.NewValidationError(model.ErrTooFewAttachments, "file", fmt.Sprintf("min %d", *cfg.MinCount))
	}
	if cfg.MaxCount != nil && n > *cfg.MaxCount {
		return model.NewValidationError(model.ErrTooManyAttachments, "file", fmt.Sprintf("max %d", *cfg.MaxCount))
	}

	var total int64
	for _, a := range attachments {
		size := a.Size()
		if cfg.MaxFileSize != nil && size > *cfg.MaxFileSize {
			return model.NewValidationError(model.ErrAttachmentTooLarge, a.Filename(),
				fmt.Sprintf("max %d bytes", *cfg.MaxFileSize))
		}
		total += size
	}
	if cfg.MaxTotalSize != nil && total > *cfg.MaxTotalSize {
		return model.NewValidationError(model.ErrTotalAttachmentsTooLarge, "file",
			fmt.Sprintf("max %d bytes", *cfg.MaxTotalSize))
	}
	return nil
}
