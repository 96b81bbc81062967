package model

import (
	"errors"
	"fmt"
)

// Validation failures. They are user-visible: the endpoint redirects back to
// the form with the matching code.
var (
	ErrMissingField             = errors.New("missing required field")
	ErrDisallowedSender         = errors.New("disallowed sender domain")
	ErrInvalidSender            = errors.New("invalid sender address")
	ErrAttachmentsNotAllowed    = errors.New("attachments are not allowed")
	ErrTooFewAttachments        = errors.New("not enough attachments")
	ErrTooManyAttachments       = errors.New("too many attachments")
	ErrAttachmentTooLarge       = errors.New("attachment exceeds max file size")
	ErrTotalAttachmentsTooLarge = errors.New("total attachment size exceeds limit")
	ErrInvalidAttachmentName    = errors.New("invalid attachment name")
)

var (
	// ErrCaptchaInvalid is returned when the answer is wrong or no challenge is outstanding.
	ErrCaptchaInvalid = errors.New("captcha invalid or expired")
	// ErrMissingSenderForCopy is returned when a copy was requested but the form carries no sender address.
	ErrMissingSenderForCopy = errors.New("copy requested without sender address")
	// ErrDelivery wraps failures of the delivery transport.
	ErrDelivery = errors.New("delivery failed")
)

var validationCodes = map[error]string{
	ErrMissingField:             "missing_field",
	ErrDisallowedSender:         "disallowed_sender",
	ErrInvalidSender:            "invalid_sender",
	ErrAttachmentsNotAllowed:    "attachments_not_allowed",
	ErrTooFewAttachments:        "too_few_attachments",
	ErrTooManyAttachments:       "too_many_attachments",
	ErrAttachmentTooLarge:       "attachment_too_large",
	ErrTotalAttachmentsTooLarge: "total_attachments_too_large",
	ErrInvalidAttachmentName:    "invalid_attachment_name",
}

// ValidationError is a rejected submission. Kind is one of the Err* validation
// sentinels above, so errors.Is works against the sentinel.
type ValidationError struct {
	Kind   error
	Field  string
	Detail string
}

// NewValidationError creates a ValidationError of the given kind.
func NewValidationError(kind error, field, detail string) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Detail: detail}
}

func (e *ValidationError) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Kind }

// Code is the short identifier placed in the error redirect (error=<code>).
func (e *ValidationError) Code() string {
	if code, ok := validationCodes[e.Kind]; ok {
		return code
	}
	return "invalid"
}

// IOError reports a failed filesystem operation while staging attachments.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
