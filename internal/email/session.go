package email

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/inboxkit/inboxkit/internal/provider"
	"github.com/inboxkit/inboxkit/pkg/types"
)

// SessionConfig carries everything needed to open an IMAP session.
type SessionConfig struct {
	Host     string
	Port     int
	Email    string
	Password string
	// Provider overrides detection from host and email when set.
	Provider types.Provider
	// Insecure dials without TLS. Only the test harness uses this.
	Insecure bool
	Timeout  time.Duration
	Logger   *logrus.Logger
}

// Session is one authenticated IMAP connection. Commands run strictly one
// at a time; a Session is not safe for concurrent use.
type Session struct {
	client    *client.Client
	host      string
	provider  types.Provider
	folders   provider.Folders
	logger    *logrus.Logger
	loggedOut bool
}

// DialSession connects to the server and logs in. Dial failures come back
// as *types.ConnectionError, rejected credentials as
// *types.AuthenticationError, so callers can tell the two apart.
func DialSession(cfg SessionConfig) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}

	if cfg.Port == 0 {
		cfg.Port = 993
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	// App passwords pasted from provider consoles sometimes carry
	// non-breaking spaces instead of plain ones.
	password := strings.ReplaceAll(cfg.Password, " ", " ")

	// Connect to server
	var cl *client.Client
	var err error
	if cfg.Insecure {
		cl, err = client.Dial(addr)
	} else {
		cl, err = client.DialTLS(addr, &tls.Config{
			ServerName: cfg.Host,
			MinVersion: tls.VersionTLS12,
		})
	}
	if err != nil {
		return nil, &types.ConnectionError{Host: addr, Err: err}
	}

	if cfg.Timeout > 0 {
		cl.Timeout = cfg.Timeout
	}

	// Login
	if err := cl.Login(cfg.Email, password); err != nil {
		logger.WithError(err).WithField("account", cfg.Email).Error("Failed to login to IMAP server")
		cl.Logout() //nolint:errcheck
		return nil, &types.AuthenticationError{Account: cfg.Email, Err: err}
	}

	prov := cfg.Provider
	if prov == "" {
		prov = provider.Resolve(cfg.Host, cfg.Email)
	}

	logger.WithFields(logrus.Fields{
		"account":  cfg.Email,
		"provider": prov,
	}).Info("Connected to IMAP server")

	return &Session{
		client:   cl,
		host:     addr,
		provider: prov,
		folders:  provider.Lookup(prov).Folders,
		logger:   logger,
	}, nil
}

// Provider reports the provider resolved at dial time.
func (s *Session) Provider() types.Provider {
	return s.provider
}

// Folders reports the folder layout the session operates on.
func (s *Session) Folders() provider.Folders {
	return s.folders
}

// Logout ends the session. Calling it again is a no-op.
func (s *Session) Logout() error {
	if s.loggedOut {
		return nil
	}
	s.loggedOut = true

	if err := s.client.Logout(); err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	return nil
}

// ListUIDs returns the UIDs in folder, newest first. With unseenOnly set,
// only messages without \Seen are returned.
func (s *Session) ListUIDs(folder string, unseenOnly bool) ([]string, error) {
	var uids []uint32
	err := s.withMailbox(folder, true, func(*imap.MailboxStatus) error {
		criteria := imap.NewSearchCriteria()
		if unseenOnly {
			criteria.WithoutFlags = []string{imap.SeenFlag}
		} else {
			criteria.Uid = allMessages()
		}

		found, err := s.client.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("failed to search folder: %w", err)
		}
		uids = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	return formatUIDs(uids), nil
}

// SearchUID finds the UIDs of messages whose Message-ID header matches
// messageID.
func (s *Session) SearchUID(folder, messageID string) ([]string, error) {
	return s.SearchUIDs(folder, []string{messageID})
}

// SearchUIDs resolves several Message-IDs in a single search. UIDs come
// back newest first; an ID nothing matches is simply absent from the
// result.
func (s *Session) SearchUIDs(folder string, messageIDs []string) ([]string, error) {
	ids := make([]string, 0, len(messageIDs))
	for _, id := range messageIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	var uids []uint32
	err := s.withMailbox(folder, true, func(*imap.MailboxStatus) error {
		found, err := s.client.UidSearch(messageIDCriteria(ids))
		if err != nil {
			return fmt.Errorf("failed to search folder: %w", err)
		}
		uids = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	return formatUIDs(uids), nil
}

// FetchMessages downloads the named messages in full and decomposes each
// one. Results follow the order of uids; a requested UID the server does
// not return is an error.
func (s *Session) FetchMessages(folder string, uids []string, keepQuoted bool) ([]*types.Message, error) {
	requested, seqset, err := parseUIDs(uids)
	if err != nil {
		return nil, err
	}

	byUID := make(map[uint32]*types.Message, len(requested))
	var mailbox string
	err = s.withMailbox(folder, true, func(mbox *imap.MailboxStatus) error {
		mailbox = mbox.Name

		items := []imap.FetchItem{imap.FetchUid, imap.FetchRFC822}
		messages := make(chan *imap.Message, 10)
		done := make(chan error, 1)

		go func() {
			done <- s.client.UidFetch(seqset, items, messages)
		}()

		for msg := range messages {
			raw := s.readLiteral(msg.GetBody(&imap.BodySectionName{}))
			if len(raw) == 0 {
				continue
			}
			parsed := Decompose(raw, keepQuoted)
			parsed.UID = strconv.FormatUint(uint64(msg.Uid), 10)
			byUID[msg.Uid] = parsed
		}

		if err := <-done; err != nil {
			return fmt.Errorf("failed to fetch messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*types.Message, 0, len(requested))
	for _, uid := range requested {
		parsed, ok := byUID[uid]
		if !ok {
			return nil, &types.ValidationError{Msg: fmt.Sprintf("message %d not found in %s", uid, mailbox)}
		}
		out = append(out, parsed)
	}
	return out, nil
}

// FetchHeaders retrieves header fields without touching \Seen. With no
// fields the whole header block is returned. The result maps each UID to
// its headers.
func (s *Session) FetchHeaders(folder string, uids []string, fields []string) (map[string]map[string]string, error) {
	_, seqset, err := parseUIDs(uids)
	if err != nil {
		return nil, err
	}

	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier, Fields: fields},
		Peek:         true,
	}

	headers := make(map[string]map[string]string, len(uids))
	err = s.withMailbox(folder, true, func(*imap.MailboxStatus) error {
		items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}
		messages := make(chan *imap.Message, 10)
		done := make(chan error, 1)

		go func() {
			done <- s.client.UidFetch(seqset, items, messages)
		}()

		for msg := range messages {
			raw := s.readLiteral(msg.GetBody(section))
			headers[strconv.FormatUint(uint64(msg.Uid), 10)] = parseHeaderBlock(raw)
		}

		if err := <-done; err != nil {
			return fmt.Errorf("failed to fetch headers: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return headers, nil
}

// MarkRead sets \Seen on the named messages.
func (s *Session) MarkRead(folder string, uids []string) error {
	return s.storeFlag(folder, uids, imap.AddFlags, imap.SeenFlag)
}

// MarkUnread clears \Seen from the named messages.
func (s *Session) MarkUnread(folder string, uids []string) error {
	return s.storeFlag(folder, uids, imap.RemoveFlags, imap.SeenFlag)
}

// MoveToTrash copies the messages to the provider trash folder, then
// expunges them from folder.
func (s *Session) MoveToTrash(folder string, uids []string) error {
	return s.moveTo(folder, uids, s.folders.Trash)
}

// MarkAsSpam copies the messages to the provider spam folder, then expunges
// them from folder.
func (s *Session) MarkAsSpam(folder string, uids []string) error {
	return s.moveTo(folder, uids, s.folders.Spam)
}

// DeletePermanently expunges the messages without copying them anywhere.
func (s *Session) DeletePermanently(folder string, uids []string) error {
	_, seqset, err := parseUIDs(uids)
	if err != nil {
		return err
	}

	return s.withMailbox(folder, false, func(*imap.MailboxStatus) error {
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := s.client.UidStore(seqset, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
			return fmt.Errorf("failed to flag messages deleted: %w", err)
		}
		if err := s.client.Expunge(nil); err != nil {
			return fmt.Errorf("failed to expunge folder: %w", err)
		}
		return nil
	})
}

// Flags reports the flags present in folder, taken from the select
// response.
func (s *Session) Flags(folder string) ([]string, error) {
	var flags []string
	err := s.withMailbox(folder, true, func(mbox *imap.MailboxStatus) error {
		flags = append([]string(nil), mbox.Flags...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flags, nil
}

// ListFolders lists all mailboxes on the server.
func (s *Session) ListFolders() ([]types.Folder, error) {
	if s.loggedOut {
		return nil, &types.ConnectionError{Host: s.host, Err: errors.New("session is logged out")}
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- s.client.List("", "*", mailboxes)
	}()

	var folders []types.Folder
	for m := range mailboxes {
		folders = append(folders, types.Folder{
			Name:       m.Name,
			Delimiter:  m.Delimiter,
			Attributes: m.Attributes,
		})
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}

	return folders, nil
}

// withMailbox selects folder (the provider inbox when empty), runs fn and
// closes the selection again on every path.
func (s *Session) withMailbox(folder string, readOnly bool, fn func(*imap.MailboxStatus) error) error {
	if s.loggedOut {
		return &types.ConnectionError{Host: s.host, Err: errors.New("session is logged out")}
	}

	name := folder
	if name == "" {
		name = s.folders.Inbox
	}

	mbox, err := s.client.Select(name, readOnly)
	if err != nil {
		return &types.ValidationError{Op: "select folder " + name, Err: err}
	}

	fnErr := fn(mbox)

	if err := s.client.Close(); err != nil && fnErr == nil {
		return fmt.Errorf("failed to close mailbox %s: %w", name, err)
	}
	return fnErr
}

func (s *Session) storeFlag(folder string, uids []string, op imap.FlagsOp, flag string) error {
	_, seqset, err := parseUIDs(uids)
	if err != nil {
		return err
	}

	return s.withMailbox(folder, false, func(*imap.MailboxStatus) error {
		item := imap.FormatFlagsOp(op, true)
		if err := s.client.UidStore(seqset, item, []interface{}{flag}, nil); err != nil {
			return fmt.Errorf("failed to store flags: %w", err)
		}
		return nil
	})
}

func (s *Session) moveTo(folder string, uids []string, dest string) error {
	_, seqset, err := parseUIDs(uids)
	if err != nil {
		return err
	}

	return s.withMailbox(folder, false, func(*imap.MailboxStatus) error {
		// The copy must land before anything is flagged for deletion.
		if err := s.client.UidCopy(seqset, dest); err != nil {
			return fmt.Errorf("failed to copy messages to %s: %w", dest, err)
		}

		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := s.client.UidStore(seqset, item, []interface{}{imap.DeletedFlag}, nil); err != nil {
			return fmt.Errorf("failed to flag messages deleted: %w", err)
		}

		if err := s.client.Expunge(nil); err != nil {
			return fmt.Errorf("failed to expunge folder: %w", err)
		}

		s.logger.WithFields(logrus.Fields{
			"count": len(uids),
			"dest":  dest,
		}).Info("Moved messages")
		return nil
	})
}

// readLiteral drains an IMAP literal, tolerating a nil one.
func (s *Session) readLiteral(literal imap.Literal) []byte {
	if literal == nil {
		return nil
	}

	raw, err := io.ReadAll(literal)
	if err != nil {
		s.logger.WithError(err).Error("Error reading message literal")
	}
	return raw
}

// messageIDCriteria builds HEADER Message-ID criteria, OR-chained when more
// than one ID is given.
func messageIDCriteria(ids []string) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	criteria.Header = textproto.MIMEHeader{"Message-Id": {ids[0]}}
	if len(ids) == 1 {
		return criteria
	}

	rest := messageIDCriteria(ids[1:])
	or := imap.NewSearchCriteria()
	or.Or = [][2]*imap.SearchCriteria{{criteria, rest}}
	return or
}

// parseHeaderBlock parses a raw RFC 5322 header block into a flat map.
// Repeated fields are joined with ", ".
func parseHeaderBlock(raw []byte) map[string]string {
	out := make(map[string]string)
	if len(raw) == 0 {
		return out
	}

	reader := textproto.NewReader(bufio.NewReader(bytes.NewReader(append(raw, '\r', '\n'))))
	header, err := reader.ReadMIMEHeader()
	if err != nil && len(header) == 0 {
		return out
	}

	for key, values := range header {
		out[key] = strings.Join(values, ", ")
	}
	return out
}

// parseUIDs converts textual UIDs into both a slice and a sequence set.
func parseUIDs(values []string) ([]uint32, *imap.SeqSet, error) {
	if len(values) == 0 {
		return nil, nil, &types.ValidationError{Msg: "no message uids given"}
	}

	uids := make([]uint32, 0, len(values))
	seqset := new(imap.SeqSet)
	for _, value := range values {
		uid, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
		if err != nil {
			return nil, nil, &types.ValidationError{Msg: fmt.Sprintf("invalid message uid %q", value), Err: err}
		}
		uids = append(uids, uint32(uid))
		seqset.AddNum(uint32(uid))
	}
	return uids, seqset, nil
}

// allMessages spans every UID in the selected mailbox.
func allMessages() *imap.SeqSet {
	seqset := new(imap.SeqSet)
	seqset.AddRange(1, 0)
	return seqset
}

func formatUIDs(uids []uint32) []string {
	out := make([]string, len(uids))
	for i, uid := range uids {
		out[i] = strconv.FormatUint(uint64(uid), 10)
	}
	return out
}
