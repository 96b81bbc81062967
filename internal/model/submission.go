package model

import "time"

// Submission is one form post routed to a submission handler.
type Submission struct {
	ID          string
	Action      string
	Fields      *FormFields
	Attachments []InboundAttachment
}

// Submission outcomes recorded in metrics and the submission log.
const (
	OutcomeDelivered = "delivered"
	OutcomeRejected  = "rejected"
	OutcomeCaptcha   = "captcha_failed"
	OutcomeFailed    = "failed"
)

// SubmissionRecord is an audit entry for a processed submission. It never
// contains field values or message bodies.
type SubmissionRecord struct {
	ID              string    `json:"id"`
	Action          string    `json:"action"`
	Handler         string    `json:"handler"`
	SenderDomain    string    `json:"sender_domain,omitempty"`
	AttachmentCount int       `json:"attachment_count"`
	Outcome         string    `json:"outcome"`
	ErrorCode       string    `json:"error_code,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
