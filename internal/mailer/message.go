package mailer

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/unclebandit/dripmail-backend/internal/model"
)

// From is the sending identity.
type From struct {
	Name    string
	Address string
}

// NewMessageID returns a globally unique id on the sender's domain.
func NewMessageID(fromAddress string) string {
	domain := "localhost"
	if i := strings.LastIndex(fromAddress, "@"); i >= 0 && i < len(fromAddress)-1 {
		domain = fromAddress[i+1:]
	}
	return uuid.NewString() + "@" + domain
}

// BuildMessage renders a plain-text RFC 5322 message. Replies carry
// In-Reply-To and References so clients thread them.
func BuildMessage(from From, email model.OutboundEmail, messageID string, date time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Name: from.Name, Address: from.Address}})
	h.SetAddressList("To", []*mail.Address{{Name: email.ToName, Address: email.To}})
	h.SetSubject(email.Subject)
	h.SetMessageID(messageID)
	if email.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{email.InReplyTo})
	}
	if len(email.References) > 0 {
		h.SetMsgIDList("References", email.References)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, email.Body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// ParseMessage reads a raw inbound message. The text/plain part wins over
// text/html; attachments are skipped.
func ParseMessage(r io.Reader) (model.InboundMessage, error) {
	var msg model.InboundMessage

	mr, err := mail.CreateReader(r)
	if err != nil {
		return msg, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = strings.ToLower(from[0].Address)
	}
	msg.Subject, _ = mr.Header.Subject()
	msg.MessageID, _ = mr.Header.MessageID()
	if ids, err := mr.Header.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		msg.InReplyTo = ids[0]
	}
	msg.References, _ = mr.Header.MsgIDList("References")
	if d, err := mr.Header.Date(); err == nil {
		msg.ReceivedAt = d
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return msg, fmt.Errorf("read part: %w", err)
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return msg, fmt.Errorf("read body: %w", err)
		}
		switch {
		case ct == "text/plain" && plain == "":
			plain = string(b)
		case ct == "text/html" && html == "":
			html = string(b)
		case ct == "" && plain == "":
			plain = string(b)
		}
	}
	body := plain
	if body == "" {
		body = htmlTag.ReplaceAllString(html, " ")
	}
	// MIME bodies arrive with CRLF line endings; stored replies and quotes use LF.
	body = strings.ReplaceAll(body, "\r\n", "\n")
	msg.Body = strings.TrimSpace(strings.ReplaceAll(body, "\r", "\n"))
	return msg, nil
}
