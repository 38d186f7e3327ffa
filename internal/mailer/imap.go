package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"github.com/unclebandit/dripmail-backend/internal/model"
	"github.com/unclebandit/dripmail-backend/internal/pkg/logger"
)

type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string
	// Insecure dials without TLS; only for local test servers.
	Insecure bool
	// MaxPerFetch caps one scan so a large backlog is worked through over several ticks.
	MaxPerFetch int
}

// IMAPFetcher scans the reply mailbox by UID. It opens a fresh connection
// per scan; ticks are minutes apart.
type IMAPFetcher struct {
	cfg IMAPConfig
	log *zap.Logger
}

func NewIMAPFetcher(cfg IMAPConfig, log *zap.Logger) *IMAPFetcher {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.MaxPerFetch <= 0 {
		cfg.MaxPerFetch = 200
	}
	return &IMAPFetcher{cfg: cfg, log: logger.OrNop(log)}
}

var _ Fetcher = (*IMAPFetcher)(nil)

func (f *IMAPFetcher) Mailbox() string { return f.cfg.Mailbox }

func (f *IMAPFetcher) dial() (*client.Client, error) {
	addr := net.JoinHostPort(f.cfg.Host, strconv.Itoa(f.cfg.Port))
	if f.cfg.Insecure {
		return client.Dial(addr)
	}
	return client.DialTLS(addr, &tls.Config{ServerName: f.cfg.Host})
}

func (f *IMAPFetcher) FetchNewMessages(ctx context.Context, since model.Checkpoint) (*FetchResult, error) {
	c, err := f.dial()
	if err != nil {
		return nil, fmt.Errorf("imap dial: %w", err)
	}
	defer c.Logout()

	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) > 0 {
		c.Timeout = time.Until(deadline)
	}
	stop := context.AfterFunc(ctx, func() { c.Terminate() })
	defer stop()

	if err := c.Login(f.cfg.Username, f.cfg.Password); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	mbox, err := c.Select(f.cfg.Mailbox, true)
	if err != nil {
		return nil, fmt.Errorf("imap select %s: %w", f.cfg.Mailbox, err)
	}

	result := &FetchResult{UIDValidity: mbox.UidValidity}
	last := since.LastUID
	if since.UIDValidity != mbox.UidValidity {
		if since.UIDValidity != 0 {
			f.log.Warn("mailbox UIDVALIDITY changed, rescanning",
				zap.Uint32("old", since.UIDValidity), zap.Uint32("new", mbox.UidValidity))
		}
		last = 0
	}

	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(last+1, 0)
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}

	// "n:*" always matches the highest UID, even below n.
	fresh := uids[:0]
	for _, uid := range uids {
		if uid > last {
			fresh = append(fresh, uid)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i] < fresh[j] })
	if len(fresh) > f.cfg.MaxPerFetch {
		fresh = fresh[:f.cfg.MaxPerFetch]
	}
	if len(fresh) == 0 {
		return result, nil
	}
	result.LastUID = fresh[len(fresh)-1]

	seqset := new(imap.SeqSet)
	seqset.AddNum(fresh...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() { done <- c.UidFetch(seqset, items, messages) }()

	for m := range messages {
		body := m.GetBody(section)
		if body == nil {
			f.log.Warn("imap message without body", zap.Uint32("uid", m.Uid))
			continue
		}
		in, err := ParseMessage(body)
		if err != nil {
			f.log.Warn("skipping unparsable message", zap.Uint32("uid", m.Uid), zap.Error(err))
			continue
		}
		in.UID = m.Uid
		if in.ReceivedAt.IsZero() {
			in.ReceivedAt = m.InternalDate
		}
		if in.MessageID == "" {
			in.MessageID = fmt.Sprintf("uid-%d-%d@%s", mbox.UidValidity, m.Uid, f.cfg.Host)
		}
		result.Messages = append(result.Messages, in)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	sort.Slice(result.Messages, func(i, j int) bool { return result.Messages[i].UID < result.Messages[j].UID })
	f.log.Debug("fetched replies", zap.Int("count", len(result.Messages)), zap.Uint32("after_uid", last))
	return result, nil
}
