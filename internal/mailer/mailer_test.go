package mailer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// in-process SMTP relay
// ---------------------------------------------------------------------------

type received struct {
	from string
	to   []string
	data []byte
}

type testBackend struct {
	mu       sync.Mutex
	messages []received
}

func (b *testBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &testSession{backend: b}, nil
}

func (b *testBackend) all() []received {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]received(nil), b.messages...)
}

type testSession struct {
	backend *testBackend
	cur     received
}

func (s *testSession) Mail(from string, _ *smtp.MailOptions) error {
	s.cur.from = from
	return nil
}

func (s *testSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.cur.to = append(s.cur.to, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.cur.data = data
	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, s.cur)
	s.backend.mu.Unlock()
	return nil
}

func (s *testSession) Reset()        { s.cur = received{} }
func (s *testSession) Logout() error { return nil }

func startRelay(t *testing.T) (string, *testBackend) {
	t.Helper()
	be := &testBackend{}
	srv := smtp.NewServer(be)
	srv.Domain = "localhost"
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })
	return l.Addr().String(), be
}

func parseMessage(t *testing.T, data []byte) (body string, attachments map[string]string, h mail.Header) {
	t.Helper()
	mr, err := mail.CreateReader(bytes.NewReader(data))
	require.NoError(t, err)
	attachments = map[string]string{}
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(p.Body)
		require.NoError(t, err)
		switch ph := p.Header.(type) {
		case *mail.InlineHeader:
			body = string(content)
		case *mail.AttachmentHeader:
			name, err := ph.Filename()
			require.NoError(t, err)
			attachments[name] = string(content)
		}
	}
	return body, attachments, mr.Header
}

// ---------------------------------------------------------------------------
// SMTPDelivery
// ---------------------------------------------------------------------------

func TestSMTPDelivery_SendsWithAttachment(t *testing.T) {
	addr, be := startRelay(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "paper.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7 content"), 0o600))

	d := NewSMTPDelivery(SMTPConfig{Addr: addr})
	err := d.Deliver(context.Background(), &Message{
		From:        "Publikationsserver <noreply@uni.example>",
		ReplyTo:     &mail.Address{Name: "Muster, Erika", Address: "erika@uni.example"},
		To:          []string{"editor@uni.example", "archive@uni.example"},
		Subject:     "[Publikationsserver] - Online-Einreichung",
		Body:        "Titel: Über Dinge\n",
		Attachments: []string{"file://" + filepath.ToSlash(path)},
	})
	require.NoError(t, err)

	msgs := be.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "noreply@uni.example", msgs[0].from)
	assert.Equal(t, []string{"editor@uni.example", "archive@uni.example"}, msgs[0].to)

	body, atts, h := parseMessage(t, msgs[0].data)
	assert.Equal(t, "Titel: Über Dinge\n", strings.ReplaceAll(body, "\r\n", "\n"))
	assert.Equal(t, map[string]string{"paper.pdf": "%PDF-1.7 content"}, atts)

	subject, err := h.Subject()
	require.NoError(t, err)
	assert.Equal(t, "[Publikationsserver] - Online-Einreichung", subject)
	replyTo, err := h.AddressList("Reply-To")
	require.NoError(t, err)
	require.Len(t, replyTo, 1)
	assert.Equal(t, "erika@uni.example", replyTo[0].Address)
	assert.Equal(t, "Muster, Erika", replyTo[0].Name)
}

func TestSMTPDelivery_RelayDown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	err = NewSMTPDelivery(SMTPConfig{Addr: addr}).Deliver(context.Background(), &Message{
		From: "a@example.org", To: []string{"b@example.org"}, Subject: "s", Body: "b",
	})
	assert.Error(t, err)
}

func TestSMTPDelivery_InvalidAddresses(t *testing.T) {
	d := NewSMTPDelivery(SMTPConfig{Addr: "127.0.0.1:1"})
	d.sendMail = func(string, sasl.Client, string, []string, *bytes.Reader) error {
		t.Fatal("sendMail must not be called")
		return nil
	}

	assert.ErrorIs(t, d.Deliver(context.Background(), &Message{From: "not an address", To: []string{"b@example.org"}}), ErrInvalidMessage)
	assert.ErrorIs(t, d.Deliver(context.Background(), &Message{From: "a@example.org", To: []string{"nope"}}), ErrInvalidMessage)
	err := d.Deliver(context.Background(), &Message{From: "a@example.org"})
	assert.ErrorIs(t, err, errNoRecipients)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestSMTPDelivery_UsesAuthWhenConfigured(t *testing.T) {
	var gotAuth bool
	d := NewSMTPDelivery(SMTPConfig{Addr: "relay:587", Username: "user", Password: "pw"})
	d.sendMail = func(addr string, a sasl.Client, from string, to []string, r *bytes.Reader) error {
		gotAuth = a != nil
		assert.Equal(t, "relay:587", addr)
		assert.Equal(t, "a@example.org", from)
		return nil
	}
	require.NoError(t, d.Deliver(context.Background(), &Message{From: "A <a@example.org>", To: []string{"b@example.org"}}))
	assert.True(t, gotAuth)
}

// ---------------------------------------------------------------------------
// Compose
// ---------------------------------------------------------------------------

func TestCompose_MissingAttachment(t *testing.T) {
	var buf bytes.Buffer
	err := Compose(&buf, &Message{
		From: "a@example.org", To: []string{"b@example.org"},
		Attachments: []string{"file:///does/not/exist.pdf"},
	})
	assert.Error(t, err)
}

func TestAttachmentPath(t *testing.T) {
	p, err := attachmentPath("file:///var/uploads/abc/paper%20draft.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.FromSlash("/var/uploads/abc/paper draft.pdf"), p)

	_, err = attachmentPath("https://example.org/x.pdf")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// BreakerDelivery
// ---------------------------------------------------------------------------

func TestBreakerDelivery_OpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	failing := DeliveryFunc(func(context.Context, *Message) error {
		calls++
		return errors.New("relay unavailable")
	})
	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 2
	cfg.Timeout = time.Hour
	d := NewBreakerDelivery(failing, cfg)

	msg := &Message{From: "a@example.org", To: []string{"b@example.org"}}
	assert.Error(t, d.Deliver(context.Background(), msg))
	assert.Error(t, d.Deliver(context.Background(), msg))

	err := d.Deliver(context.Background(), msg)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, calls, "open breaker must not call the transport")
	assert.Equal(t, gobreaker.StateOpen, d.State())
}

func TestBreakerDelivery_InvalidMessagesDoNotTrip(t *testing.T) {
	addr, be := startRelay(t)
	cfg := DefaultBreakerConfig()
	cfg.Timeout = time.Hour
	d := NewBreakerDelivery(NewSMTPDelivery(SMTPConfig{Addr: addr}), cfg)

	bad := &Message{From: "noreply@uni.example", To: []string{"Doe, John"}, Subject: "s", Body: "b"}
	for i := 0; i < int(cfg.ConsecutiveFailures)*2; i++ {
		err := d.Deliver(context.Background(), bad)
		require.ErrorIs(t, err, ErrInvalidMessage)
	}
	assert.Equal(t, gobreaker.StateClosed, d.State())

	good := &Message{
		From:    "noreply@uni.example",
		ReplyTo: &mail.Address{Name: "Doe, John", Address: "john@example.org"},
		To:      []string{"editor@uni.example"},
		Subject: "s",
		Body:    "b",
	}
	require.NoError(t, d.Deliver(context.Background(), good))
	assert.Len(t, be.all(), 1)
}

func TestBreakerDelivery_MissingAttachmentDoesNotTrip(t *testing.T) {
	calls := 0
	cfg := DefaultBreakerConfig()
	cfg.ConsecutiveFailures = 1
	cfg.Timeout = time.Hour
	d := NewBreakerDelivery(DeliveryFunc(func(context.Context, *Message) error {
		calls++
		return invalidMessage(errors.New("open attachment: no such file"))
	}), cfg)

	msg := &Message{From: "a@example.org", To: []string{"b@example.org"}}
	assert.ErrorIs(t, d.Deliver(context.Background(), msg), ErrInvalidMessage)
	assert.ErrorIs(t, d.Deliver(context.Background(), msg), ErrInvalidMessage)
	assert.Equal(t, 2, calls)
	assert.Equal(t, gobreaker.StateClosed, d.State())
}

func TestLogDelivery(t *testing.T) {
	assert.NoError(t, LogDelivery{}.Deliver(context.Background(), &Message{Subject: "s"}))
	assert.NoError(t, LogDelivery{}.Deliver(context.Background(), &Message{
		Subject: "s",
		ReplyTo: &mail.Address{Name: "Doe, John", Address: "john@example.org"},
	}))
}

func TestInstrument_PassesThrough(t *testing.T) {
	want := errors.New("x")
	d := Instrument(DeliveryFunc(func(context.Context, *Message) error { return want }), nil)
	assert.ErrorIs(t, d.Deliver(context.Background(), &Message{}), want)
}
