package email

import (
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inboxkit/inboxkit/internal/vault"
	"github.com/inboxkit/inboxkit/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, *vault.Vault) {
	t.Helper()

	db, err := vault.OpenDB(filepath.Join(t.TempDir(), "accounts.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	v := vault.New(db, keyring.NewArrayKeyring(nil), testLogger())
	return NewManager(v, 5*time.Second, testLogger()), v
}

// redirectDial points the manager at the in-process test server, which
// knows a single fixed user.
func redirectDial(t *testing.T, addr string, calls *int) func(SessionConfig) (*Session, error) {
	t.Helper()

	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)

	return func(cfg SessionConfig) (*Session, error) {
		if calls != nil {
			*calls++
		}
		cfg.Host = host
		cfg.Port = portNum
		cfg.Email = testUser
		cfg.Insecure = true
		return DialSession(cfg)
	}
}

func managerDraft(name string) *types.AccountDraft {
	return &types.AccountDraft{
		Name:       name,
		Email:      "user@example.com",
		Provider:   types.ProviderCustom,
		IMAPServer: "imap.example.com",
		IMAPPort:   993,
		Password:   testPassword,
	}
}

func TestManagerVerifyAndAddPersists(t *testing.T) {
	addr, _ := startTestServer(t)
	m, v := newTestManager(t)
	m.dial = redirectDial(t, addr, nil)

	account, err := m.VerifyAndAdd(managerDraft("work"))
	require.NoError(t, err)
	assert.Equal(t, "work", account.Name)

	exists, err := v.Exists("work")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestManagerVerifyAndAddRejectsBadCredentials(t *testing.T) {
	addr, _ := startTestServer(t)
	m, v := newTestManager(t)
	m.dial = redirectDial(t, addr, nil)

	draft := managerDraft("work")
	draft.Password = "wrong"

	_, err := m.VerifyAndAdd(draft)
	var authErr *types.AuthenticationError
	require.ErrorAs(t, err, &authErr)

	exists, err := v.Exists("work")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestManagerVerifyAndAddRejectsDuplicateWithoutDialing(t *testing.T) {
	addr, _ := startTestServer(t)
	m, _ := newTestManager(t)

	var calls int
	m.dial = redirectDial(t, addr, &calls)

	_, err := m.VerifyAndAdd(managerDraft("work"))
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	_, err = m.VerifyAndAdd(managerDraft("work"))
	var exists *types.AccountExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, 1, calls)
}

func TestManagerVerifyAndAddValidatesBeforeDialing(t *testing.T) {
	addr, _ := startTestServer(t)
	m, _ := newTestManager(t)

	var calls int
	m.dial = redirectDial(t, addr, &calls)

	_, err := m.VerifyAndAdd(managerDraft("bad name"))
	var invalid *types.ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Zero(t, calls)
}

func TestManagerOpenAndTest(t *testing.T) {
	addr, _ := startTestServer(t)
	m, _ := newTestManager(t)
	m.dial = redirectDial(t, addr, nil)

	_, err := m.VerifyAndAdd(managerDraft("work"))
	require.NoError(t, err)

	sess, err := m.Open("work")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Logout() })

	uids, err := sess.ListUIDs("", false)
	require.NoError(t, err)
	assert.NotEmpty(t, uids)

	require.NoError(t, m.Test("work"))
}

func TestManagerOpenMissing(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Open("ghost")
	var notFound *types.AccountNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestManagerRemove(t *testing.T) {
	addr, _ := startTestServer(t)
	m, _ := newTestManager(t)
	m.dial = redirectDial(t, addr, nil)

	_, err := m.VerifyAndAdd(managerDraft("work"))
	require.NoError(t, err)

	require.NoError(t, m.Remove("work"))

	err = m.Remove("work")
	var notFound *types.AccountNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestManagerAccounts(t *testing.T) {
	addr, _ := startTestServer(t)
	m, _ := newTestManager(t)
	m.dial = redirectDial(t, addr, nil)

	_, err := m.VerifyAndAdd(managerDraft("beta"))
	require.NoError(t, err)
	_, err = m.VerifyAndAdd(managerDraft("alpha"))
	require.NoError(t, err)

	accounts, err := m.Accounts()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "alpha", accounts[0].Name)
	assert.Equal(t, "beta", accounts[1].Name)
}

func TestManagerOpenSender(t *testing.T) {
	addr, _ := startTestServer(t)
	m, _ := newTestManager(t)
	m.dial = redirectDial(t, addr, nil)

	draft := managerDraft("work")
	draft.SMTPServer = "smtp.example.com"
	draft.SMTPPort = 587

	_, err := m.VerifyAndAdd(draft)
	require.NoError(t, err)

	sender, err := m.OpenSender("work")
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com", sender.config.Host)
	assert.Equal(t, 587, sender.config.Port)
	assert.Equal(t, "user@example.com", sender.config.Email)
	assert.Equal(t, testPassword, sender.config.Password)
}

func TestManagerOpenSenderNoSMTPConfigured(t *testing.T) {
	addr, _ := startTestServer(t)
	m, _ := newTestManager(t)
	m.dial = redirectDial(t, addr, nil)

	_, err := m.VerifyAndAdd(managerDraft("work"))
	require.NoError(t, err)

	_, err = m.OpenSender("work")
	var invalid *types.ValidationError
	require.ErrorAs(t, err, &invalid)
}

func TestApplyProviderDefaults(t *testing.T) {
	draft := &types.AccountDraft{
		Name:     "personal",
		Email:    "user@gmail.com",
		Password: "secret",
	}
	applyProviderDefaults(draft)

	assert.Equal(t, types.ProviderGmail, draft.Provider)
	assert.Equal(t, "imap.gmail.com", draft.IMAPServer)
	assert.Equal(t, 993, draft.IMAPPort)
	assert.Equal(t, "smtp.gmail.com", draft.SMTPServer)
	assert.Equal(t, 465, draft.SMTPPort)
}

func TestApplyProviderDefaultsKeepsExplicitValues(t *testing.T) {
	draft := &types.AccountDraft{
		Name:       "personal",
		Email:      "user@gmail.com",
		IMAPServer: "mail.corp.example.com",
		IMAPPort:   1993,
		Password:   "secret",
	}
	applyProviderDefaults(draft)

	assert.Equal(t, types.ProviderGmail, draft.Provider)
	assert.Equal(t, "mail.corp.example.com", draft.IMAPServer)
	assert.Equal(t, 1993, draft.IMAPPort)
}
