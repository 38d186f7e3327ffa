package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/dripmail-backend/internal/errors"
	"github.com/unclebandit/dripmail-backend/internal/model"
	"github.com/unclebandit/dripmail-backend/internal/pkg/logger"
)

type sendMailFunc func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers over SMTP with STARTTLS and PLAIN auth, retrying
// transient failures inside one call.
type SMTPSender struct {
	addr     string
	auth     smtp.Auth
	from     From
	attempts int
	backoff  func(attempt int) time.Duration
	sendMail sendMailFunc
	now      func() time.Time
	log      *zap.Logger
}

func NewSMTPSender(host string, port int, username, password string, from From, log *zap.Logger) *SMTPSender {
	return &SMTPSender{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		auth:     smtp.PlainAuth("", username, password, host),
		from:     from,
		attempts: 3,
		backoff:  func(attempt int) time.Duration { return time.Duration(5*(attempt+1)) * time.Second },
		sendMail: sendMailContext,
		now:      time.Now,
		log:      logger.OrNop(log),
	}
}

var _ Sender = (*SMTPSender)(nil)

// Send delivers one message. Cancelling ctx closes the SMTP connection, so
// a timed out attempt cannot complete delivery in the background.
func (s *SMTPSender) Send(ctx context.Context, email model.OutboundEmail) (string, error) {
	messageID := NewMessageID(s.from.Address)
	raw, err := BuildMessage(s.from, email, messageID, s.now())
	if err != nil {
		return "", &appErrors.SendError{To: email.To, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt < s.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", &appErrors.SendError{To: email.To, Err: ctx.Err()}
			case <-time.After(s.backoff(attempt - 1)):
			}
		}

		lastErr = s.sendMail(ctx, s.addr, s.auth, s.from.Address, []string{email.To}, raw)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", &appErrors.SendError{To: email.To, Err: ctxErr}
		}
		if lastErr == nil {
			s.log.Info("email sent", logger.Email("to", email.To), zap.String("message_id", messageID), zap.Int("attempt", attempt+1))
			return messageID, nil
		}
		s.log.Warn("smtp send failed", logger.Email("to", email.To), zap.Int("attempt", attempt+1), zap.Error(lastErr))
	}
	return "", &appErrors.SendError{To: email.To, Err: fmt.Errorf("after %d attempts: %w", s.attempts, lastErr)}
}

// sendMailContext is smtp.SendMail over a connection that is torn down when
// ctx ends.
func sendMailContext(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) (err error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return err
		}
	}
	if a != nil {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(a); err != nil {
				return err
			}
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := c.Quit(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
