package mailer

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/emersion/go-message/mail"
)

// Compose writes msg as an RFC 5322 message to w. The body is a UTF-8
// text/plain part; each attachment is streamed from disk as base64.
func Compose(w io.Writer, msg *Message) error {
	from, err := mail.ParseAddress(msg.From)
	if err != nil {
		return fmt.Errorf("parse from address: %w", err)
	}
	to, err := parseAddresses(msg.To)
	if err != nil {
		return err
	}
	if len(to) == 0 {
		return errNoRecipients
	}

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", to)
	if msg.ReplyTo != nil {
		h.SetAddressList("Reply-To", []*mail.Address{msg.ReplyTo})
	}
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return fmt.Errorf("generate message id: %w", err)
	}

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return err
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return err
	}
	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	th.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := tw.CreatePart(th)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(pw, msg.Body); err != nil {
		return err
	}
	if err := pw.Close(); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}

	for _, uri := range msg.Attachments {
		if err := writeAttachment(mw, uri); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeAttachment(mw *mail.Writer, uri string) error {
	path, err := attachmentPath(uri)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	name := filepath.Base(path)
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var ah mail.AttachmentHeader
	ah.Set("Content-Type", contentType)
	ah.Set("Content-Transfer-Encoding", "base64")
	ah.SetFilename(name)

	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return err
	}
	if _, err := io.Copy(aw, f); err != nil {
		return fmt.Errorf("write attachment %s: %w", name, err)
	}
	return aw.Close()
}

func parseAddresses(list []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(list))
	for _, s := range list {
		a, err := mail.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("parse recipient %q: %w", s, err)
		}
		out = append(out, a)
	}
	return out, nil
}
