package model

import (
	"errors"
	"io"
	"net/url"
	"path/filepath"
)

// InboundAttachment is a file uploaded with a submission. Filename is the
// client-supplied name and must be treated as untrusted; Size is the declared
// size in bytes.
type InboundAttachment interface {
	Filename() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// StagedFile is an attachment copied to durable storage for the lifetime of a
// single submission.
type StagedFile struct {
	Name string // sanitized file name, used as the attachment name on delivery
	Path string // absolute path on disk
	Size int64  // bytes actually written
}

// URI returns the file:// URI handed to the delivery layer.
func (s *StagedFile) URI() string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(s.Path)}
	return u.String()
}

// AttachmentConfig bounds the attachments a submission handler accepts.
// Nil limits are unbounded.
type AttachmentConfig struct {
	UploadDir    string
	MinCount     *int
	MaxCount     *int
	MaxFileSize  *int64
	MaxTotalSize *int64
}

// Enabled reports whether attachments may be submitted at all. An upload
// directory is required and a max count of 0 disables uploads.
func (c *AttachmentConfig) Enabled() bool {
	if c == nil || c.UploadDir == "" {
		return false
	}
	return c.MaxCount == nil || *c.MaxCount > 0
}

// Validate checks the invariants between limits.
func (c *AttachmentConfig) Validate() error {
	if c == nil {
		return nil
	}
	if c.MinCount != nil && c.MaxCount != nil && *c.MinCount > *c.MaxCount {
		return errors.New("attachment min count can't be greater than max count")
	}
	if c.MaxFileSize != nil && c.MaxTotalSize != nil && *c.MaxFileSize > *c.MaxTotalSize {
		return errors.New("attachment max file size can't be greater than max total size")
	}
	hasLimit := c.MinCount != nil || c.MaxCount != nil || c.MaxFileSize != nil || c.MaxTotalSize != nil
	if hasLimit && c.UploadDir == "" {
		return errors.New("attachment upload dir is required when limits are set")
	}
	return nil
}
