package graph

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// Attachment is a file carried by a Composition.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Composition is an outgoing message assembled locally as MIME. From may
// be empty; Graph then sends as the signed-in user.
type Composition struct {
	From        string
	To          []string
	Cc          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// Build renders the composition as an RFC 5322 message dated date.
func (c Composition) Build(date time.Time) ([]byte, error) {
	if len(c.To) == 0 {
		return nil, errors.New("composition has no recipients")
	}

	var h mail.Header
	h.SetDate(date)
	h.SetSubject(c.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}
	if c.From != "" {
		from, err := parseAddresses([]string{c.From})
		if err != nil {
			return nil, err
		}
		h.SetAddressList("From", from)
	}
	to, err := parseAddresses(c.To)
	if err != nil {
		return nil, err
	}
	h.SetAddressList("To", to)
	if len(c.Cc) > 0 {
		cc, err := parseAddresses(c.Cc)
		if err != nil {
			return nil, err
		}
		h.SetAddressList("Cc", cc)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("creating inline writer: %w", err)
	}
	if c.Text != "" || c.HTML == "" {
		if err := writeInline(tw, "text/plain", c.Text); err != nil {
			return nil, err
		}
	}
	if c.HTML != "" {
		if err := writeInline(tw, "text/html", c.HTML); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing inline writer: %w", err)
	}

	for _, a := range c.Attachments {
		if err := writeAttachment(mw, a); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing message writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Encode renders the composition and base64 encodes it for the Graph
// sendMail MIME upload.
func (c Composition) Encode(date time.Time) ([]byte, error) {
	raw, err := c.Build(date)
	if err != nil {
		return nil, err
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
	base64.StdEncoding.Encode(out, raw)
	return out, nil
}

func parseAddresses(list []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(list))
	for _, s := range list {
		addr, err := mail.ParseAddress(s)
		if err != nil {
			return nil, fmt.Errorf("parsing address %q: %w", s, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

func writeInline(tw *mail.InlineWriter, contentType, content string) error {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("creating %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, content); err != nil {
		return fmt.Errorf("writing %s part: %w", contentType, err)
	}
	return w.Close()
}

func writeAttachment(mw *mail.Writer, a Attachment) error {
	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var h mail.AttachmentHeader
	h.SetContentType(contentType, nil)
	h.SetFilename(a.Filename)
	w, err := mw.CreateAttachment(h)
	if err != nil {
		return fmt.Errorf("creating attachment %q: %w", a.Filename, err)
	}
	if _, err := w.Write(a.Data); err != nil {
		return fmt.Errorf("writing attachment %q: %w", a.Filename, err)
	}
	return w.Close()
}
