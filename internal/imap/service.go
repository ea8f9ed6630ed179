package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"

	"webmail/internal/config"
	"webmail/internal/session"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
)

// DefaultListLimit matches the listing default of the HTTP surface.
const DefaultListLimit = 20

// previewBytes bounds the partial body section fetched for list previews.
const previewBytes = 2048

var (
	summaryHeaderSection = &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{
			Specifier: imap.HeaderSpecifier,
			Fields:    []string{"From", "To", "Subject", "Date"},
		},
		Peek: true,
	}
	summaryTextSection = &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.TextSpecifier},
		Peek:         true,
		Partial:      []int{0, previewBytes},
	}
	detailSection = &imap.BodySectionName{Peek: true}
)

// Client is the subset of the go-imap client the engines use. It exists so
// tests can substitute a mock transport.
type Client interface {
	Login(username, password string) error
	Logout() error
	Terminate() error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Expunge(ch chan uint32) error
}

// Service runs mailbox operations for the HTTP layer. Every call opens a
// fresh authenticated connection and closes it before returning; nothing is
// pooled or reused across requests.
type Service struct {
	cfg       config.Config
	Connector func(cfg config.Config, cred session.Credential) (Client, error)
}

func NewService(cfg config.Config) *Service {
	return &Service{cfg: cfg, Connector: Connect}
}

// Connect dials the configured IMAP endpoint and logs in with the session
// credential. Login rejection is reported as an auth ConnectionError and is
// never retried.
func Connect(cfg config.Config, cred session.Credential) (Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.IMAP.Host, cfg.IMAP.Port)
	var c *imapclient.Client
	var err error

	if cfg.IMAP.TLS {
		tlsConfig := &tls.Config{
			ServerName:         cfg.IMAP.Host,
			InsecureSkipVerify: cfg.IMAP.InsecureSkipVerify,
		}
		c, err = imapclient.DialTLS(addr, tlsConfig)
	} else {
		c, err = imapclient.Dial(addr)
		if err == nil && cfg.IMAP.StartTLS {
			tlsConfig := &tls.Config{
				ServerName:         cfg.IMAP.Host,
				InsecureSkipVerify: cfg.IMAP.InsecureSkipVerify,
			}
			if err := c.StartTLS(tlsConfig); err != nil {
				_ = c.Logout()
				return nil, &ConnectionError{Err: err}
			}
		}
	}
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	if err := c.Login(cred.Email, cred.Password); err != nil {
		_ = c.Logout()
		return nil, &ConnectionError{Auth: true, Err: err}
	}

	return c, nil
}

// withClient opens one connection, runs fn, and guarantees exactly one
// teardown on every exit path. If the request context is cancelled while fn
// is still talking to the server, the transport is terminated so the
// connection cannot leak past the HTTP request that owns it.
func (s *Service) withClient(ctx context.Context, cred session.Credential, fn func(Client) error) error {
	connector := s.Connector
	if connector == nil {
		connector = Connect
	}
	client, err := connector(s.cfg, cred)
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Terminate()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		_ = client.Logout()
	}()

	return fn(client)
}

// CheckLogin opens and closes one authenticated connection. Used by the CLI
// to verify a credential without touching any mailbox.
func (s *Service) CheckLogin(ctx context.Context, cred session.Credential) error {
	return s.withClient(ctx, cred, func(Client) error { return nil })
}

// ListFolders flattens the account's mailbox hierarchy into full
// delimiter-joined paths with display labels. Nothing is cached; the result
// reflects server state at call time.
func (s *Service) ListFolders(ctx context.Context, cred session.Credential) ([]Folder, error) {
	folders := []Folder{}
	err := s.withClient(ctx, cred, func(c Client) error {
		ch := make(chan *imap.MailboxInfo, 10)
		done := make(chan error, 1)
		go func() {
			done <- c.List("", "*", ch)
		}()
		for mbox := range ch {
			if mbox == nil {
				continue
			}
			attrs := mbox.Attributes
			if attrs == nil {
				attrs = []string{}
			}
			folders = append(folders, Folder{
				Path:        mbox.Name,
				DisplayName: displayName(mbox.Name, mbox.Delimiter),
				Attributes:  attrs,
			})
		}
		if err := <-done; err != nil {
			return &FolderListError{Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return folders, nil
}

// ListMessages returns the newest limit messages of the folder by sequence
// number, sorted descending. The listing is all-or-nothing: any transport
// failure discards everything assembled so far.
func (s *Service) ListMessages(ctx context.Context, cred session.Credential, folder string, limit int) ([]MessageSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	summaries := []MessageSummary{}
	err := s.withClient(ctx, cred, func(c Client) error {
		status, err := c.Select(folder, true)
		if err != nil {
			return &FolderListError{Err: err}
		}

		total := status.Messages
		if total == 0 {
			return nil
		}

		// Clamp before converting: limit is an int straight from the query
		// string and may exceed uint32.
		count := total
		if uint64(limit) < uint64(total) {
			count = uint32(limit)
		}
		from := total - count + 1

		seqset := new(imap.SeqSet)
		seqset.AddRange(from, total)

		items := []imap.FetchItem{
			imap.FetchUid,
			imap.FetchFlags,
			summaryHeaderSection.FetchItem(),
			summaryTextSection.FetchItem(),
		}
		ch := make(chan *imap.Message, count)
		done := make(chan error, 1)
		go func() {
			done <- c.Fetch(seqset, items, ch)
		}()

		assembler := newSummaryAssembler()
		for msg := range ch {
			assembler.absorb(msg)
		}
		if err := <-done; err != nil {
			return &FetchError{Err: err}
		}

		summaries = assembler.complete()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// GetMessage fetches and parses one message by UID. The folder is opened
// read-only and the body is fetched with PEEK, so reading a message never
// marks it seen.
func (s *Service) GetMessage(ctx context.Context, cred session.Credential, folder string, uid uint32) (MessageDetail, error) {
	var detail MessageDetail
	err := s.withClient(ctx, cred, func(c Client) error {
		if _, err := c.Select(folder, true); err != nil {
			return &FolderListError{Err: err}
		}

		seqset := new(imap.SeqSet)
		seqset.AddNum(uid)
		items := []imap.FetchItem{imap.FetchUid, detailSection.FetchItem()}
		ch := make(chan *imap.Message, 1)
		done := make(chan error, 1)
		go func() {
			done <- c.UidFetch(seqset, items, ch)
		}()
		var msg *imap.Message
		for m := range ch {
			if m != nil {
				msg = m
			}
		}
		if err := <-done; err != nil {
			return &FetchError{Err: err}
		}
		if msg == nil {
			return ErrNotFound
		}

		var body io.Reader
		for section, literal := range msg.Body {
			if section != nil && section.Specifier == imap.EntireSpecifier && literal != nil {
				body = literal
				break
			}
		}
		if body == nil {
			return ErrNotFound
		}

		parsed, err := parseMessage(body)
		if err != nil {
			return &ParseError{Err: err}
		}
		detail = parsed
		detail.UID = msg.Uid
		if detail.UID == 0 {
			detail.UID = uid
		}
		return nil
	})
	return detail, err
}

// DeleteMessage flags the message deleted and then expunges the folder. The
// two steps are not atomic: a purge failure after a successful flag leaves
// the message flagged but retrievable, and the caller may retry.
func (s *Service) DeleteMessage(ctx context.Context, cred session.Credential, folder string, uid uint32) error {
	return s.withClient(ctx, cred, func(c Client) error {
		if _, err := c.Select(folder, false); err != nil {
			return &FolderListError{Err: err}
		}

		seqset := new(imap.SeqSet)
		seqset.AddNum(uid)
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := c.UidStore(seqset, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
			return &DeleteError{Stage: DeleteStageFlag, Err: err}
		}

		expunged := make(chan uint32)
		done := make(chan error, 1)
		go func() {
			done <- c.Expunge(expunged)
		}()
		for range expunged {
		}
		if err := <-done; err != nil {
			return &DeleteError{Stage: DeleteStagePurge, Err: err}
		}
		return nil
	})
}

func displayName(path, delimiter string) string {
	if delimiter == "" {
		return path
	}
	segments := strings.Split(path, delimiter)
	return segments[len(segments)-1]
}
