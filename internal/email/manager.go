package email

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inboxkit/inboxkit/internal/provider"
	"github.com/inboxkit/inboxkit/internal/vault"
	"github.com/inboxkit/inboxkit/pkg/types"
)

// Manager glues the vault, the provider registry and live sessions
// together.
type Manager struct {
	vault   *vault.Vault
	timeout time.Duration
	logger  *logrus.Logger

	// dial is swapped out by tests.
	dial func(SessionConfig) (*Session, error)
}

// NewManager creates a manager backed by v.
func NewManager(v *vault.Vault, timeout time.Duration, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}

	return &Manager{
		vault:   v,
		timeout: timeout,
		logger:  logger,
		dial:    DialSession,
	}
}

// VerifyAndAdd checks the credentials against the live server before
// anything is persisted. Endpoints the draft leaves empty are filled in
// from the provider registry.
func (m *Manager) VerifyAndAdd(draft *types.AccountDraft) (*types.Account, error) {
	applyProviderDefaults(draft)

	if err := vault.ValidateDraft(draft); err != nil {
		return nil, err
	}
	exists, err := m.vault.Exists(draft.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &types.AccountExistsError{Name: draft.Name}
	}

	sess, err := m.dial(SessionConfig{
		Host:     draft.IMAPServer,
		Port:     draft.IMAPPort,
		Email:    draft.Email,
		Password: draft.Password,
		Provider: draft.Provider,
		Timeout:  m.timeout,
		Logger:   m.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := sess.Logout(); err != nil {
		m.logger.WithError(err).Warn("Logout after verification failed")
	}

	account, err := m.vault.Add(draft)
	if err != nil {
		return nil, err
	}

	m.logger.WithField("account", account.Name).Info("Account verified and stored")
	return account, nil
}

// Open dials a session for a stored account.
func (m *Manager) Open(name string) (*Session, error) {
	account, err := m.vault.Get(name)
	if err != nil {
		return nil, err
	}
	password, err := m.vault.Secret(name)
	if err != nil {
		return nil, err
	}

	return m.dial(SessionConfig{
		Host:     account.IMAPServer,
		Port:     account.IMAPPort,
		Email:    account.Email,
		Password: password,
		Provider: account.Provider,
		Timeout:  m.timeout,
		Logger:   m.logger,
	})
}

// OpenSender builds an SMTP sender for a stored account.
func (m *Manager) OpenSender(name string) (*Sender, error) {
	account, err := m.vault.Get(name)
	if err != nil {
		return nil, err
	}
	password, err := m.vault.Secret(name)
	if err != nil {
		return nil, err
	}

	host := account.SMTPServer
	port := account.SMTPPort
	if host == "" || port == 0 {
		defaultHost, defaultPort := provider.DefaultSMTPEndpoint(account.Provider)
		if host == "" {
			host = defaultHost
		}
		if port == 0 {
			port = defaultPort
		}
	}
	if host == "" {
		return nil, &types.ValidationError{Msg: fmt.Sprintf("account %s has no SMTP server configured", name)}
	}

	return NewSender(SenderConfig{
		Host:     host,
		Port:     port,
		Email:    account.Email,
		Password: password,
		Logger:   m.logger,
	}), nil
}

// Test dials a session and logs out again, verifying the stored
// credentials still work.
func (m *Manager) Test(name string) error {
	sess, err := m.Open(name)
	if err != nil {
		return err
	}
	return sess.Logout()
}

// Remove deletes a stored account.
func (m *Manager) Remove(name string) error {
	return m.vault.Delete(name)
}

// Accounts lists the stored accounts.
func (m *Manager) Accounts() ([]types.Account, error) {
	return m.vault.List()
}

// applyProviderDefaults resolves the provider and fills in endpoints the
// draft leaves empty.
func applyProviderDefaults(draft *types.AccountDraft) {
	if draft.Provider == "" {
		draft.Provider = provider.Resolve(draft.IMAPServer, draft.Email)
	}

	imapHost, imapPort := provider.DefaultIMAPEndpoint(draft.Provider)
	if draft.IMAPServer == "" {
		draft.IMAPServer = imapHost
	}
	if draft.IMAPPort == 0 {
		draft.IMAPPort = imapPort
	}

	smtpHost, smtpPort := provider.DefaultSMTPEndpoint(draft.Provider)
	if draft.SMTPServer == "" {
		draft.SMTPServer = smtpHost
	}
	if draft.SMTPPort == 0 {
		draft.SMTPPort = smtpPort
	}
}
