package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/mirsubmit/backend/internal/model"
	"golang.org/x/text/unicode/norm"
)

// maxDuplicateNames bounds the suffixes tried for same-named attachments.
const maxDuplicateNames = 100

// LocalStager stages attachments on the local filesystem.
type LocalStager struct {
	dirPerm  os.FileMode
	filePerm os.FileMode
}

// NewLocalStager creates a LocalStager. Staged files are readable by the
// service user only.
func NewLocalStager() *LocalStager {
	return &LocalStager{dirPerm: 0o700, filePerm: 0o600}
}

var _ Stager = (*LocalStager)(nil)

func (s *LocalStager) Stage(ctx context.Context, dir string, a model.InboundAttachment, limit int64) (*model.StagedFile, error) {
	name := norm.NFC.String(a.Filename())
	if strings.TrimSpace(name) == "" || utf8.RuneCountInString(name) > MaxFilenameLength {
		return nil, model.NewValidationError(model.ErrInvalidAttachmentName, name, "blank or too long")
	}

	dest, err := SafeResolve(dir, name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, &model.IOError{Op: "mkdir", Path: dir, Err: err}
	}

	src, err := a.Open()
	if err != nil {
		return nil, &model.IOError{Op: "open", Path: name, Err: err}
	}
	defer src.Close()

	f, name, dest, err := s.createUnique(dir, name, dest)
	if err != nil {
		return nil, err
	}

	var r io.Reader = src
	if limit > 0 {
		r = io.LimitReader(src, limit+1)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.discard(dest)
		return nil, &model.IOError{Op: "copy", Path: dest, Err: err}
	}
	if limit > 0 && n > limit {
		s.discard(dest)
		return nil, model.NewValidationError(model.ErrAttachmentTooLarge, name,
			fmt.Sprintf("more than %d bytes received", limit))
	}

	slog.Debug("attachment staged", "file", name, "path", dest, "bytes", n)
	return &model.StagedFile{Name: name, Path: dest, Size: n}, nil
}

// createUnique opens dest exclusively. When a file of that name is already
// staged in dir it tries name-2.ext, name-3.ext and so on.
func (s *LocalStager) createUnique(dir, name, dest string) (*os.File, string, string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		stem, ext = name, ""
	}
	for i := 1; i <= maxDuplicateNames; i++ {
		if i > 1 {
			candidate := fmt.Sprintf("%s-%d%s", stem, i, ext)
			p, err := SafeResolve(dir, candidate)
			if err != nil {
				return nil, "", "", err
			}
			name, dest = candidate, p
		}
		f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, s.filePerm)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, "", "", &model.IOError{Op: "create", Path: dest, Err: err}
		}
		return f, name, dest, nil
	}
	return nil, "", "", model.NewValidationError(model.ErrInvalidAttachmentName, name, "too many files with the same name")
}

func (s *LocalStager) Release(_ context.Context, f *model.StagedFile) error {
	if f == nil {
		return nil
	}
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &model.IOError{Op: "remove", Path: f.Path, Err: err}
	}
	return nil
}

func (s *LocalStager) RemoveDir(_ context.Context, dir string) error {
	if err := os.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &model.IOError{Op: "remove", Path: dir, Err: err}
	}
	return nil
}

// discard removes a partially written file after a failed copy.
func (s *LocalStager) discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove partial attachment", "path", path, "error", err)
	}
}
