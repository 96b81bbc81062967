package storage

import (
	"path/filepath"
	"strings"

	"github.com/mirsubmit/backend/internal/model"
)

// MaxFilenameLength bounds attachment names, in characters.
const MaxFilenameLength = 255

// SafeResolve joins baseDir and a client-supplied file name. The name must be a
// single path element: absolute paths, drive or UNC prefixes, separators, parent
// segments and NUL bytes are rejected, as is anything whose cleaned result is
// not strictly inside baseDir.
func SafeResolve(baseDir, name string) (string, error) {
	invalid := func(detail string) error {
		return model.NewValidationError(model.ErrInvalidAttachmentName, name, detail)
	}

	switch {
	case name == "", name == ".", name == "..":
		return "", invalid("not a file name")
	case strings.ContainsRune(name, 0):
		return "", invalid("contains NUL")
	case filepath.IsAbs(name), filepath.VolumeName(name) != "":
		return "", invalid("absolute path")
	case len(name) >= 2 && name[1] == ':':
		return "", invalid("drive-relative path")
	case strings.ContainsAny(name, `/\`):
		return "", invalid("contains path separator")
	}

	base, err := filepath.Abs(baseDir)
	if err != nil {
		return "", &model.IOError{Op: "resolve", Path: baseDir, Err: err}
	}
	target := filepath.Join(base, name)
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", invalid("escapes upload directory")
	}
	return target, nil
}
