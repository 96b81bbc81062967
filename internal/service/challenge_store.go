package service

import (
	"context"
	"errors"

	"github.com/mirsubmit/backend/internal/repository"
)

// ChallengeSessionKey is the session slot holding the outstanding captcha text.
const ChallengeSessionKey = "mwf_captcha"

// ChallengeStore is the one outstanding captcha per visitor session.
// There is no plain read: Consume reads and clears in one step.
type ChallengeStore struct {
	sessions repository.SessionStore
}

func NewChallengeStore(sessions repository.SessionStore) *ChallengeStore {
	return &ChallengeStore{sessions: sessions}
}

// Put replaces any outstanding challenge.
func (s *ChallengeStore) Put(ctx context.Context, sessionID, text string) error {
	return s.sessions.Set(ctx, sessionID, ChallengeSessionKey, text)
}

// PeekOrGenerate returns the outstanding challenge, or stores and returns a
// new one from generate when none is outstanding.
func (s *ChallengeStore) PeekOrGenerate(ctx context.Context, sessionID string, generate func() string) (string, error) {
	text, err := s.sessions.Get(ctx, sessionID, ChallengeSessionKey)
	if err == nil && text != "" {
		return text, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", err
	}
	text = generate()
	if err := s.Put(ctx, sessionID, text); err != nil {
		return "", err
	}
	return text, nil
}

// Consume removes the outstanding challenge and returns it. ok is false when
// nothing was outstanding (never issued, already consumed, or expired).
func (s *ChallengeStore) Consume(ctx context.Context, sessionID string) (text string, ok bool, err error) {
	text, err = s.sessions.Take(ctx, sessionID, ChallengeSessionKey)
	if errors.Is(err, repository.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return text, true, nil
}
