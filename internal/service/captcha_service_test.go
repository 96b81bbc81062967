package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mirsubmit/backend/internal/model"
	"github.com/mirsubmit/backend/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// mockSessionStore is a func-field stub for error paths.
// ---------------------------------------------------------------------------

type mockSessionStore struct {
	getFunc  func(ctx context.Context, sessionID, key string) (string, error)
	setFunc  func(ctx context.Context, sessionID, key, value string) error
	takeFunc func(ctx context.Context, sessionID, key string) (string, error)
}

func (m *mockSessionStore) Get(ctx context.Context, sessionID, key string) (string, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, sessionID, key)
	}
	return "", repository.ErrNotFound
}

func (m *mockSessionStore) Set(ctx context.Context, sessionID, key, value string) error {
	if m.setFunc != nil {
		return m.setFunc(ctx, sessionID, key, value)
	}
	return nil
}

func (m *mockSessionStore) Take(ctx context.Context, sessionID, key string) (string, error) {
	if m.takeFunc != nil {
		return m.takeFunc(ctx, sessionID, key)
	}
	return "", repository.ErrNotFound
}

func (m *mockSessionStore) Ping(context.Context) error { return nil }

func newMemoryChallengeStore(t *testing.T) *ChallengeStore {
	t.Helper()
	s := repository.NewMemorySessionStore(time.Minute, 0)
	t.Cleanup(func() { _ = s.Close() })
	return NewChallengeStore(s)
}

func newTestCaptchaService(t *testing.T, texts ...string) (*captchaServiceImpl, *ChallengeStore) {
	t.Helper()
	store := newMemoryChallengeStore(t)
	svc := NewCaptchaService(store, DefaultCaptchaOptions()).(*captchaServiceImpl)
	if len(texts) > 0 {
		i := 0
		svc.generate = func() string {
			text := texts[i%len(texts)]
			i++
			return text
		}
	}
	return svc, store
}

// ---------------------------------------------------------------------------
// ChallengeStore
// ---------------------------------------------------------------------------

func TestChallengeStore_PutOverwrites(t *testing.T) {
	store := newMemoryChallengeStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "sid", "111111"))
	require.NoError(t, store.Put(ctx, "sid", "222222"))

	text, ok, err := store.Consume(ctx, "sid")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "222222", text)
}

func TestChallengeStore_ConsumeIsOneShot(t *testing.T) {
	store := newMemoryChallengeStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "sid", "123456"))

	_, ok, err := store.Consume(ctx, "sid")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = store.Consume(ctx, "sid")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChallengeStore_PeekOrGenerate(t *testing.T) {
	store := newMemoryChallengeStore(t)
	ctx := context.Background()
	calls := 0
	gen := func() string { calls++; return "987654" }

	text, err := store.PeekOrGenerate(ctx, "sid", gen)
	require.NoError(t, err)
	assert.Equal(t, "987654", text)

	text, err = store.PeekOrGenerate(ctx, "sid", func() string { t.Fatal("must reuse outstanding text"); return "" })
	require.NoError(t, err)
	assert.Equal(t, "987654", text)
	assert.Equal(t, 1, calls)
}

func TestChallengeStore_BackendErrors(t *testing.T) {
	boom := errors.New("store down")
	store := NewChallengeStore(&mockSessionStore{
		getFunc:  func(context.Context, string, string) (string, error) { return "", boom },
		takeFunc: func(context.Context, string, string) (string, error) { return "", boom },
	})

	_, err := store.PeekOrGenerate(context.Background(), "sid", func() string { return "1" })
	assert.ErrorIs(t, err, boom)

	_, ok, err := store.Consume(context.Background(), "sid")
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
}

// ---------------------------------------------------------------------------
// CaptchaService
// ---------------------------------------------------------------------------

func TestCaptchaService_IssueImageThenVerify(t *testing.T) {
	svc, _ := newTestCaptchaService(t, "424242")
	ctx := context.Background()

	img, err := svc.IssueImage(ctx, "sid")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(img, []byte("\x89PNG")))

	assert.NoError(t, svc.Verify(ctx, "sid", " 424242 "))
}

func TestCaptchaService_VerifyIsOneShot(t *testing.T) {
	svc, _ := newTestCaptchaService(t, "424242")
	ctx := context.Background()
	_, err := svc.IssueImage(ctx, "sid")
	require.NoError(t, err)

	require.NoError(t, svc.Verify(ctx, "sid", "424242"))
	assert.ErrorIs(t, svc.Verify(ctx, "sid", "424242"), model.ErrCaptchaInvalid)
}

func TestCaptchaService_WrongAnswerClearsChallenge(t *testing.T) {
	svc, _ := newTestCaptchaService(t, "424242")
	ctx := context.Background()
	_, err := svc.IssueImage(ctx, "sid")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Verify(ctx, "sid", "000000"), model.ErrCaptchaInvalid)
	assert.ErrorIs(t, svc.Verify(ctx, "sid", "424242"), model.ErrCaptchaInvalid,
		"a previously valid answer must fail after a failed attempt")
}

func TestCaptchaService_VerifyWithoutChallenge(t *testing.T) {
	svc, _ := newTestCaptchaService(t)
	assert.ErrorIs(t, svc.Verify(context.Background(), "sid", ""), model.ErrCaptchaInvalid)
}

func TestCaptchaService_NewImageInvalidatesPrevious(t *testing.T) {
	svc, _ := newTestCaptchaService(t, "111111", "222222")
	ctx := context.Background()
	_, _ = svc.IssueImage(ctx, "sid")
	_, _ = svc.IssueImage(ctx, "sid")

	assert.ErrorIs(t, svc.Verify(ctx, "sid", "111111"), model.ErrCaptchaInvalid)
}

func TestCaptchaService_AudioReusesOutstandingText(t *testing.T) {
	svc, _ := newTestCaptchaService(t, "135790", "999999")
	ctx := context.Background()
	_, err := svc.IssueImage(ctx, "sid")
	require.NoError(t, err)

	wav, err := svc.IssueAudio(ctx, "sid")
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(wav[:4]))

	assert.NoError(t, svc.Verify(ctx, "sid", "135790"))
}

func TestCaptchaService_AudioMintsWhenNoneOutstanding(t *testing.T) {
	svc, _ := newTestCaptchaService(t, "246802")
	ctx := context.Background()

	_, err := svc.IssueAudio(ctx, "sid")
	require.NoError(t, err)
	assert.NoError(t, svc.Verify(ctx, "sid", "246802"))
}

func TestCaptchaService_StoreFailure(t *testing.T) {
	boom := errors.New("store down")
	store := NewChallengeStore(&mockSessionStore{
		setFunc:  func(context.Context, string, string, string) error { return boom },
		takeFunc: func(context.Context, string, string) (string, error) { return "", boom },
	})
	svc := NewCaptchaService(store, DefaultCaptchaOptions())

	_, err := svc.IssueImage(context.Background(), "sid")
	assert.ErrorIs(t, err, boom)

	err = svc.Verify(context.Background(), "sid", "1")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, model.ErrCaptchaInvalid)
}
