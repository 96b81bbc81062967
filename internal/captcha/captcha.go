// Package captcha produces digit challenges and renders them as PNG images
// and WAV audio using github.com/dchest/captcha.
package captcha

import (
	"bytes"
	"errors"
	"fmt"

	dcaptcha "github.com/dchest/captcha"
)

const (
	DefaultLength = 6
	DefaultWidth  = dcaptcha.StdWidth
	DefaultHeight = dcaptcha.StdHeight
	DefaultLang   = "en"
)

// ErrNonDigitChallenge is returned when a challenge text contains anything but ASCII digits.
var ErrNonDigitChallenge = errors.New("challenge text must contain digits only")

// GenerateText returns a fresh digits-only challenge of the given length.
// Non-positive lengths fall back to DefaultLength.
func GenerateText(length int) string {
	if length <= 0 {
		length = DefaultLength
	}
	digits := dcaptcha.RandomDigits(length)
	out := make([]byte, len(digits))
	for i, d := range digits {
		out[i] = '0' + d
	}
	return string(out)
}

// RenderImage renders text as a PNG. The output is deterministic for a given
// text and size, so re-rendering an outstanding challenge yields the same image.
func RenderImage(text string, width, height int) ([]byte, error) {
	digits, err := toDigits(text)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", width, height)
	}

	var buf bytes.Buffer
	if _, err := dcaptcha.NewImage(text, digits, width, height).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode captcha image: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderAudio renders text as a spoken WAV clip. Unknown languages fall back
// to English voices.
func RenderAudio(text, lang string) ([]byte, error) {
	digits, err := toDigits(text)
	if err != nil {
		return nil, err
	}
	if lang == "" {
		lang = DefaultLang
	}

	var buf bytes.Buffer
	if _, err := dcaptcha.NewAudio(text, digits, lang).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode captcha audio: %w", err)
	}
	return buf.Bytes(), nil
}

func toDigits(text string) ([]byte, error) {
	if text == "" {
		return nil, ErrNonDigitChallenge
	}
	digits := make([]byte, len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c < '0' || c > '9' {
			return nil, ErrNonDigitChallenge
		}
		digits[i] = c - '0'
	}
	return digits, nil
}
