package email

import (
	"bytes"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxkit/inboxkit/pkg/types"
)

// The memory backend ships with one user and one seeded INBOX message
// (uid 6, subject "A little message, just for you", flagged \Seen).
const (
	testUser     = "username"
	testPassword = "password"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// startTestServer runs an in-process IMAP server on a loopback port and
// returns its address plus the backend user for seeding mailboxes.
func startTestServer(t *testing.T) (string, backend.User) {
	t.Helper()

	bkd := memory.New()

	s := server.New(bkd)
	s.AllowInsecureAuth = true
	s.ErrorLog = log.New(io.Discard, "", 0)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() { _ = s.Serve(l) }()
	t.Cleanup(func() { _ = s.Close() })

	user, err := bkd.Login(nil, testUser, testPassword)
	require.NoError(t, err)

	return l.Addr().String(), user
}

func dialTestSession(t *testing.T, addr string) *Session {
	t.Helper()

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)

	sess, err := DialSession(SessionConfig{
		Host:     host,
		Port:     portNum,
		Email:    testUser,
		Password: testPassword,
		Insecure: true,
		Timeout:  5 * time.Second,
		Logger:   testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Logout() })

	return sess
}

func seedMessage(t *testing.T, user backend.User, mailbox string, flags []string, raw string) {
	t.Helper()

	mbox, err := user.GetMailbox(mailbox)
	require.NoError(t, err)
	require.NoError(t, mbox.CreateMessage(flags, time.Now(), bytes.NewBufferString(raw)))
}

func testRawMessage(messageID, subject, body string) string {
	return "From: alice@example.com\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Mon, 02 Jan 2023 15:04:05 +0000\r\n" +
		"Message-ID: " + messageID + "\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		body
}

func TestDialSessionBadCredentials(t *testing.T) {
	addr, _ := startTestServer(t)

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)

	_, err = DialSession(SessionConfig{
		Host:     host,
		Port:     portNum,
		Email:    testUser,
		Password: "wrong",
		Insecure: true,
		Logger:   testLogger(),
	})

	var authErr *types.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, testUser, authErr.Account)
}

func TestDialSessionConnectionRefused(t *testing.T) {
	// Reserve a loopback port, then close it so nothing is listening there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)

	_, err = DialSession(SessionConfig{
		Host:     host,
		Port:     portNum,
		Email:    testUser,
		Password: testPassword,
		Insecure: true,
		Logger:   testLogger(),
	})

	var connErr *types.ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestDialSessionResolvesProvider(t *testing.T) {
	addr, _ := startTestServer(t)
	sess := dialTestSession(t, addr)

	assert.Equal(t, types.ProviderCustom, sess.Provider())
	assert.Equal(t, "INBOX", sess.Folders().Inbox)
	assert.Equal(t, "Trash", sess.Folders().Trash)
}

func TestListUIDsNewestFirst(t *testing.T) {
	addr, user := startTestServer(t)
	seedMessage(t, user, "INBOX", nil, testRawMessage("<m1@example.com>", "first", "one"))
	seedMessage(t, user, "INBOX", nil, testRawMessage("<m2@example.com>", "second", "two"))

	sess := dialTestSession(t, addr)

	uids, err := sess.ListUIDs("", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"8", "7", "6"}, uids)
}

func TestListUIDsUnseenOnly(t *testing.T) {
	addr, user := startTestServer(t)
	seedMessage(t, user, "INBOX", nil, testRawMessage("<m1@example.com>", "first", "one"))

	sess := dialTestSession(t, addr)

	uids, err := sess.ListUIDs("INBOX", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, uids)
}

func TestSearchUIDByMessageID(t *testing.T) {
	addr, user := startTestServer(t)
	seedMessage(t, user, "INBOX", nil, testRawMessage("<m1@example.com>", "first", "one"))
	seedMessage(t, user, "INBOX", nil, testRawMessage("<m2@example.com>", "second", "two"))

	sess := dialTestSession(t, addr)

	uids, err := sess.SearchUID("INBOX", "<m1@example.com>")
	require.NoError(t, err)
	assert.Equal(t, []string{"7"}, uids)
}

func TestSearchUIDsBatch(t *testing.T) {
	addr, user := startTestServer(t)
	seedMessage(t, user, "INBOX", nil, testRawMessage("<m1@example.com>", "first", "one"))
	seedMessage(t, user, "INBOX", nil, testRawMessage("<m2@example.com>", "second", "two"))
	seedMessage(t, user, "INBOX", nil, testRawMessage("<m3@example.com>", "third", "three"))

	sess := dialTestSession(t, addr)

	uids, err := sess.SearchUIDs("INBOX", []string{"<m1@example.com>", "<m3@example.com>"})
	require.NoError(t, err)
	assert.Equal(t, []string{"9", "7"}, uids)
}

func TestSearchUIDNoMatch(t *testing.T) {
	addr, _ := startTestServer(t)
	sess := dialTestSession(t, addr)

	uids, err := sess.SearchUID("INBOX", "<missing@example.com>")
	require.NoError(t, err)
	assert.Empty(t, uids)
}

func TestSearchUIDsEmptyInput(t *testing.T) {
	addr, _ := startTestServer(t)
	sess := dialTestSession(t, addr)

	uids, err := sess.SearchUIDs("INBOX", nil)
	require.NoError(t, err)
	assert.Empty(t, uids)
}

func TestFetchMessagesRoundTrip(t *testing.T) {
	addr, user := startTestServer(t)
	seedMessage(t, user, "INBOX", nil, testRawMessage("<m1@example.com>", "Fetch me", "The body line."))

	sess := dialTestSession(t, addr)

	msgs, err := sess.FetchMessages("INBOX", []string{"7"}, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	m := msgs[0]
	assert.Equal(t, "7", m.UID)
	assert.Equal(t, "Fetch me", m.Subject)
	assert.Equal(t, "<m1@example.com>", m.ThreadID)
	assert.Equal(t, "2023-01-02T15:04:05Z", m.Date)
	assert.Equal(t, "The body line.", strings.TrimSpace(m.Body.Plain))
}

func TestFetchMessagesRequestedOrder(t *testing.T) {
	addr, user := startTestServer(t)
	seedMessage(t, user, "INBOX", nil, testRawMessage("<m1@example.com>", "first", "one"))
	seedMessage(t, user, "INBOX", nil, testRawMessage("<m2@example.com>", "second", "two"))

	sess := dialTestSession(t, addr)

	msgs, err := sess.FetchMessages("INBOX", []string{"8", "7"}, false)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].Subject)
	assert.Equal(t, "first", msgs[1].Subject)
}

func TestFetchMessagesSeededDefault(t *testing.T) {
	addr, _ := startTestServer(t)
	sess := dialTestSession(t, addr)

	msgs, err := sess.FetchMessages("INBOX", []string{"6"}, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "A little message, just for you", msgs[0].Subject)
	assert.Contains(t, msgs[0].Body.Plain, "Hi there :)")
}

func TestFetchMessagesMissingUID(t *testing.T) {
	addr, _ := startTestServer(t)
	sess := dialTestSession(t, addr)

	_, err := sess.FetchMessages("INBOX", []string{"999"}, false)
	var invalid *types.ValidationError
	require.ErrorAs(t, err, &invalid)
}

func TestFetchMessagesInvalidUID(t *testing.T) {
	addr, _ := startTestServer(t)
	sess := dialTestSession(t, addr)

	_, err := sess.FetchMessages("INBOX", []string{"not-a-number"}, false)
	var invalid *types.ValidationError
	require.ErrorAs(t, err, &invalid)
}

func TestFetchHeaders(t *testing.T) {
	addr, user := startTestServer(t)
	seedMessage(t, user, "INBOX", nil, testRawMessage("<m1@example.com>", "first", "one"))

	sess := dialTestSession(t, addr)

	headers, err := sess.FetchHeaders("INBOX", []string{"7"}, []string{"Subject", "From"})
	require.NoError(t, err)
	require.Contains(t, headers, "7")

	h := headers["7"]
	assert.Equal(t, "first", h["Subject"])
	assert.Equal(t, "alice@example.com", h["From"])
	assert.NotContains(t, h, "To")

	// The peek must not have marked the message seen.
	uids, err := sess.ListUIDs("INBOX", true)
	require.NoError(t, err)
	assert.Contains(t, uids, "7")
}

func TestFetchHeadersWholeBlock(t *testing.T) {
	addr, user := startTestServer(t)
	seedMessage(t, user, "INBOX", nil, testRawMessage("<m1@example.com>", "first", "one"))

	sess := dialTestSession(t, addr)

	headers, err := sess.FetchHeaders("INBOX", []string{"7"}, nil)
	require.NoError(t, err)
	require.Contains(t, headers, "7")

	h := headers["7"]
	assert.Equal(t, "first", h["Subject"])
	assert.Equal(t, "bob@example.com", h["To"])
	assert.Equal(t, "<m1@example.com>", h["Message-Id"])
}

func TestMarkReadAndUnread(t *testing.T) {
	addr, user := startTestServer(t)
	seedMessage(t, user, "INBOX", nil, testRawMessage("<m1@example.com>", "first", "one"))

	sess := dialTestSession(t, addr)

	require.NoError(t, sess.MarkRead("INBOX", []string{"7"}))

	uids, err := sess.ListUIDs("INBOX", true)
	require.NoError(t, err)
	assert.NotContains(t, uids, "7")

	require.NoError(t, sess.MarkUnread("INBOX", []string{"7"}))

	uids, err = sess.ListUIDs("INBOX", true)
	require.NoError(t, err)
	assert.Contains(t, uids, "7")
}

func TestMoveToTrash(t *testing.T) {
	addr, user := startTestServer(t)
	require.NoError(t, user.CreateMailbox("Trash"))
	seedMessage(t, user, "INBOX", nil, testRawMessage("<m1@example.com>", "first", "one"))

	sess := dialTestSession(t, addr)

	require.NoError(t, sess.MoveToTrash("INBOX", []string{"7"}))

	uids, err := sess.ListUIDs("INBOX", false)
	require.NoError(t, err)
	assert.NotContains(t, uids, "7")

	trashUIDs, err := sess.ListUIDs("Trash", false)
	require.NoError(t, err)
	require.Len(t, trashUIDs, 1)

	msgs, err := sess.FetchMessages("Trash", trashUIDs, false)
	require.NoError(t, err)
	assert.Equal(t, "first", msgs[0].Subject)
}

func TestMoveToTrashAbortsWhenCopyFails(t *testing.T) {
	// No Trash mailbox exists, so the copy step must fail and nothing may
	// be expunged from the inbox.
	addr, user := startTestServer(t)
	seedMessage(t, user, "INBOX", nil, testRawMessage("<m1@example.com>", "first", "one"))

	sess := dialTestSession(t, addr)

	err := sess.MoveToTrash("INBOX", []string{"7"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy")

	uids, err := sess.ListUIDs("INBOX", false)
	require.NoError(t, err)
	assert.Contains(t, uids, "7")
}

func TestMarkAsSpam(t *testing.T) {
	addr, user := startTestServer(t)
	require.NoError(t, user.CreateMailbox("Spam"))
	seedMessage(t, user, "INBOX", nil, testRawMessage("<m1@example.com>", "first", "one"))

	sess := dialTestSession(t, addr)

	require.NoError(t, sess.MarkAsSpam("INBOX", []string{"7"}))

	uids, err := sess.ListUIDs("INBOX", false)
	require.NoError(t, err)
	assert.NotContains(t, uids, "7")

	spamUIDs, err := sess.ListUIDs("Spam", false)
	require.NoError(t, err)
	assert.Len(t, spamUIDs, 1)
}

func TestDeletePermanently(t *testing.T) {
	addr, user := startTestServer(t)
	seedMessage(t, user, "INBOX", nil, testRawMessage("<m1@example.com>", "first", "one"))

	sess := dialTestSession(t, addr)

	require.NoError(t, sess.DeletePermanently("INBOX", []string{"7"}))

	uids, err := sess.ListUIDs("INBOX", false)
	require.NoError(t, err)
	assert.NotContains(t, uids, "7")
	assert.Contains(t, uids, "6")
}

func TestFlags(t *testing.T) {
	addr, _ := startTestServer(t)
	sess := dialTestSession(t, addr)

	flags, err := sess.Flags("INBOX")
	require.NoError(t, err)
	assert.Contains(t, flags, imap.SeenFlag)
}

func TestListFolders(t *testing.T) {
	addr, user := startTestServer(t)
	require.NoError(t, user.CreateMailbox("Archive"))

	sess := dialTestSession(t, addr)

	folders, err := sess.ListFolders()
	require.NoError(t, err)

	names := make([]string, 0, len(folders))
	for _, f := range folders {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "INBOX")
	assert.Contains(t, names, "Archive")
}

func TestUnknownFolder(t *testing.T) {
	addr, _ := startTestServer(t)
	sess := dialTestSession(t, addr)

	_, err := sess.ListUIDs("NoSuchFolder", false)
	var invalid *types.ValidationError
	require.ErrorAs(t, err, &invalid)
}

func TestLogoutIdempotent(t *testing.T) {
	addr, _ := startTestServer(t)
	sess := dialTestSession(t, addr)

	require.NoError(t, sess.Logout())
	require.NoError(t, sess.Logout())

	_, err := sess.ListUIDs("", false)
	var connErr *types.ConnectionError
	require.ErrorAs(t, err, &connErr)
}
