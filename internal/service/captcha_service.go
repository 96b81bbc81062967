package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mirsubmit/backend/internal/captcha"
	"github.com/mirsubmit/backend/internal/model"
)

// CaptchaService issues and verifies per-session captcha challenges.
type CaptchaService interface {
	// IssueImage mints a new challenge (replacing any outstanding one) and
	// returns it rendered as PNG.
	IssueImage(ctx context.Context, sessionID string) ([]byte, error)

	// IssueAudio renders the outstanding challenge as WAV, minting one if
	// none is outstanding.
	IssueAudio(ctx context.Context, sessionID string) ([]byte, error)

	// Verify consumes the outstanding challenge and compares it with answer.
	// It returns model.ErrCaptchaInvalid on mismatch or when nothing is
	// outstanding. The challenge is gone afterwards in every case.
	Verify(ctx context.Context, sessionID, answer string) error
}

// CaptchaOptions configures challenge length and rendering.
type CaptchaOptions struct {
	Length    int
	Width     int
	Height    int
	AudioLang string
}

// DefaultCaptchaOptions returns the options used when none are configured.
func DefaultCaptchaOptions() CaptchaOptions {
	return CaptchaOptions{
		Length:    captcha.DefaultLength,
		Width:     captcha.DefaultWidth,
		Height:    captcha.DefaultHeight,
		AudioLang: captcha.DefaultLang,
	}
}

type captchaServiceImpl struct {
	store    *ChallengeStore
	opts     CaptchaOptions
	generate func() string
}

// NewCaptchaService creates a CaptchaService backed by store.
func NewCaptchaService(store *ChallengeStore, opts CaptchaOptions) CaptchaService {
	return &captchaServiceImpl{
		store: store,
		opts:  opts,
		generate: func() string {
			return captcha.GenerateText(opts.Length)
		},
	}
}

func (s *captchaServiceImpl) IssueImage(ctx context.Context, sessionID string) ([]byte, error) {
	text := s.generate()
	if err := s.store.Put(ctx, sessionID, text); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}
	img, err := captcha.RenderImage(text, s.opts.Width, s.opts.Height)
	if err != nil {
		return nil, fmt.Errorf("render challenge image: %w", err)
	}
	return img, nil
}

func (s *captchaServiceImpl) IssueAudio(ctx context.Context, sessionID string) ([]byte, error) {
	text, err := s.store.PeekOrGenerate(ctx, sessionID, s.generate)
	if err != nil {
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	wav, err := captcha.RenderAudio(text, s.opts.AudioLang)
	if err != nil {
		return nil, fmt.Errorf("render challenge audio: %w", err)
	}
	return wav, nil
}

func (s *captchaServiceImpl) Verify(ctx context.Context, sessionID, answer string) error {
	expected, ok, err := s.store.Consume(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	if !ok {
		slog.Debug("captcha verification without outstanding challenge")
		return model.ErrCaptchaInvalid
	}
	given := strings.TrimSpace(answer)
	if subtle.ConstantTimeCompare([]byte(given), []byte(expected)) != 1 {
		return model.ErrCaptchaInvalid
	}
	return nil
}
