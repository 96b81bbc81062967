package service

import (
	"io"
	"net/url"
	"strings"
	"testing"

	"github.com/mirsubmit/backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAttachment struct {
	name string
	size int64
	body string
}

func (a *stubAttachment) Filename() string { return a.name }
func (a *stubAttachment) Size() int64 {
	if a.size == 0 {
		return int64(len(a.body))
	}
	return a.size
}
func (a *stubAttachment) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(a.body)), nil
}

func intPtr(n int) *int       { return &n }
func int64Ptr(n int64) *int64 { return &n }

func sizes(ns ...int64) []model.InboundAttachment {
	out := make([]model.InboundAttachment, len(ns))
	for i, n := range ns {
		out[i] = &stubAttachment{name: "f" + string(rune('a'+i)), size: n}
	}
	return out
}

// ---------------------------------------------------------------------------
// CheckRequiredFields
// ---------------------------------------------------------------------------

func TestCheckRequiredFields(t *testing.T) {
	fields := model.NewFormFields(url.Values{
		"name":     {"Erika"},
		"title_de": {"   "},
		"mail":     {"erika@uni.example"},
	})

	assert.NoError(t, CheckRequiredFields(fields, []string{"name", "mail"}))
	assert.NoError(t, CheckRequiredFields(fields, nil))

	err := CheckRequiredFields(fields, []string{"name", "title_en", "title_de"})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.ErrorIs(t, err, model.ErrMissingField)
	assert.Equal(t, "title_en", ve.Field, "first missing in configured order")

	err = CheckRequiredFields(fields, []string{"title_de", "title_en"})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "title_de", ve.Field, "blank counts as missing")
}

// ---------------------------------------------------------------------------
// CheckSenderDomain
// ---------------------------------------------------------------------------

func TestCheckSenderDomain(t *testing.T) {
	domains := []string{"mailinator.com", "@Spam.Example"}

	tests := []struct {
		email string
		bad   bool
	}{
		{"someone@uni.example", false},
		{"x@mailinator.com", true},
		{"X@MAILINATOR.COM", true},
		{"x@spam.example", true},
		{"x@notmailinator.com", false},
		{"x@sub.mailinator.com", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			err := CheckSenderDomain(tt.email, domains)
			if tt.bad {
				assert.ErrorIs(t, err, model.ErrDisallowedSender)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.NoError(t, CheckSenderDomain("x@mailinator.com", []string{"", "  "}))
}

// ---------------------------------------------------------------------------
// CheckAttachmentPolicy
// ---------------------------------------------------------------------------

func TestCheckAttachmentPolicy(t *testing.T) {
	base := func(mod func(c *model.AttachmentConfig)) *model.AttachmentConfig {
		c := &model.AttachmentConfig{UploadDir: "/tmp/uploads"}
		if mod != nil {
			mod(c)
		}
		return c
	}

	tests := []struct {
		name        string
		attachments []model.InboundAttachment
		cfg         *model.AttachmentConfig
		want        error
	}{
		{"nil config no attachments", nil, nil, nil},
		{"nil config with attachment", sizes(10), nil, model.ErrAttachmentsNotAllowed},
		{"max count zero", sizes(10), base(func(c *model.AttachmentConfig) { c.MaxCount = intPtr(0) }), model.ErrAttachmentsNotAllowed},
		{"max count zero no attachments", nil, base(func(c *model.AttachmentConfig) { c.MaxCount = intPtr(0) }), nil},
		{"unbounded", sizes(10, 20, 30), base(nil), nil},
		{"too few", nil, base(func(c *model.AttachmentConfig) { c.MinCount = intPtr(1) }), model.ErrTooFewAttachments},
		{"too many", sizes(1, 2), base(func(c *model.AttachmentConfig) { c.MaxCount = intPtr(1) }), model.ErrTooManyAttachments},
		{"file too large", sizes(5, 11), base(func(c *model.AttachmentConfig) { c.MaxFileSize = int64Ptr(10) }), model.ErrAttachmentTooLarge},
		{"file at limit", sizes(10), base(func(c *model.AttachmentConfig) { c.MaxFileSize = int64Ptr(10) }), nil},
		{"total too large", sizes(6, 6), base(func(c *model.AttachmentConfig) { c.MaxTotalSize = int64Ptr(11) }), model.ErrTotalAttachmentsTooLarge},
		{"total at limit", sizes(6, 6), base(func(c *model.AttachmentConfig) { c.MaxTotalSize = int64Ptr(12) }), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckAttachmentPolicy(tt.attachments, tt.cfg)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheckAttachmentPolicy_TooLargeNamesFile(t *testing.T) {
	cfg := &model.AttachmentConfig{UploadDir: "/tmp", MaxFileSize: int64Ptr(10)}
	err := CheckAttachmentPolicy([]model.InboundAttachment{&stubAttachment{name: "thesis.pdf", size: 11}}, cfg)

	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "thesis.pdf", ve.Field)
}

// Raising a size limit never rejects a set that was accepted; lowering it
// never accepts a set that was rejected.
func TestCheckAttachmentPolicy_SizeLimitsMonotonic(t *testing.T) {
	sets := [][]int64{{0}, {1}, {5, 5}, {9, 1, 3}, {100}, {50, 50, 50}, {7, 8, 9, 10}}
	limits := []int64{0, 1, 5, 9, 10, 27, 34, 100, 150, 1000}

	accepted := func(set []int64, file, total int64) bool {
		cfg := &model.AttachmentConfig{UploadDir: "/tmp", MaxFileSize: int64Ptr(file), MaxTotalSize: int64Ptr(total)}
		return CheckAttachmentPolicy(sizes(set...), cfg) == nil
	}

	for _, set := range sets {
		for i, f1 := range limits {
			for _, t1 := range limits[i:] {
				for j, f2 := range limits {
					for _, t2 := range limits[j:] {
						if f2 < f1 || t2 < t1 {
							continue
						}
						if accepted(set, f1, t1) && !accepted(set, f2, t2) {
							t.Fatalf("set %v accepted at (%d,%d) but rejected at (%d,%d)", set, f1, t1, f2, t2)
						}
					}
				}
			}
		}
	}
}
