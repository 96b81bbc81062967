package storage

import (
	"context"

	"github.com/mirsubmit/backend/internal/model"
)

// Stager copies inbound attachments to durable storage for the duration of a
// submission and removes them afterwards.
type Stager interface {
	// Stage copies the attachment into dir and returns the staged file.
	// limit > 0 caps the number of bytes accepted regardless of the declared size.
	Stage(ctx context.Context, dir string, a model.InboundAttachment, limit int64) (*model.StagedFile, error)

	// Release deletes a staged file. Deleting a file that no longer exists is not an error.
	Release(ctx context.Context, f *model.StagedFile) error

	// RemoveDir deletes an empty staging directory. A missing directory is not an error.
	RemoveDir(ctx context.Context, dir string) error
}
