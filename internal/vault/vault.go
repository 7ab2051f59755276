package vault

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/99designs/keyring"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/inboxkit/inboxkit/pkg/types"
)

var validate = validator.New()

var accountNameRegex = regexp.MustCompile(`^[A-Za-z0-9._-]{1,50}$`)

func init() {
	validate.RegisterValidation("accountname", func(fl validator.FieldLevel) bool {
		return accountNameRegex.MatchString(fl.Field().String())
	})
}

// ValidateDraft runs the same checks Add applies, without touching storage.
func ValidateDraft(draft *types.AccountDraft) error {
	if err := validate.Struct(draft); err != nil {
		return &types.ValidationError{Msg: "invalid account", Err: err}
	}
	return nil
}

// Vault stores account metadata in sqlite with passwords encrypted under a
// master key held in the system keyring. Plaintext secrets never reach disk.
type Vault struct {
	db     *DB
	ring   keyring.Keyring
	logger *logrus.Logger
}

// New creates a vault over an open database and keyring.
func New(db *DB, ring keyring.Keyring, logger *logrus.Logger) *Vault {
	return &Vault{
		db:     db,
		ring:   ring,
		logger: logger,
	}
}

// Add validates the draft, encrypts its password and stores the account.
// Adding a name that is already taken fails with AccountExistsError.
func (v *Vault) Add(draft *types.AccountDraft) (*types.Account, error) {
	if draft.IMAPPort == 0 {
		draft.IMAPPort = 993
	}
	if err := ValidateDraft(draft); err != nil {
		return nil, err
	}

	exists, err := v.Exists(draft.Name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &types.AccountExistsError{Name: draft.Name}
	}

	key, err := masterKey(v.ring)
	if err != nil {
		return nil, err
	}
	encrypted, err := Encrypt([]byte(draft.Password), key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt password: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO accounts (name, email, provider, imap_server, imap_port, smtp_server, smtp_port, encrypted_password, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = v.db.db.Exec(query,
		draft.Name,
		draft.Email,
		string(draft.Provider),
		draft.IMAPServer,
		draft.IMAPPort,
		draft.SMTPServer,
		draft.SMTPPort,
		encrypted,
		now,
		now,
	)
	if err != nil {
		return nil, &types.StorageError{Op: "insert account", Err: err}
	}

	v.logger.WithFields(logrus.Fields{
		"account":  draft.Name,
		"provider": string(draft.Provider),
	}).Info("Account stored")

	return v.Get(draft.Name)
}

// Get returns the stored metadata for an account, without any secret.
func (v *Vault) Get(name string) (*types.Account, error) {
	query := `
		SELECT name, email, provider, imap_server, imap_port, smtp_server, smtp_port, created_at, updated_at
		FROM accounts
		WHERE name = ?
	`
	var account types.Account
	var provider, createdAt, updatedAt string

	err := v.db.db.QueryRow(query, name).Scan(
		&account.Name,
		&account.Email,
		&provider,
		&account.IMAPServer,
		&account.IMAPPort,
		&account.SMTPServer,
		&account.SMTPPort,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &types.AccountNotFoundError{Name: name}
		}
		return nil, &types.StorageError{Op: "get account", Err: err}
	}

	account.Provider = types.Provider(provider)
	account.CreatedAt = parseStoredTime(createdAt)
	account.UpdatedAt = parseStoredTime(updatedAt)
	return &account, nil
}

// Secret decrypts and returns the account password. The plaintext lives
// only in memory.
func (v *Vault) Secret(name string) (string, error) {
	var encrypted string
	err := v.db.db.QueryRow("SELECT encrypted_password FROM accounts WHERE name = ?", name).Scan(&encrypted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", &types.AccountNotFoundError{Name: name}
		}
		return "", &types.StorageError{Op: "get secret", Err: err}
	}

	key, err := masterKey(v.ring)
	if err != nil {
		return "", err
	}
	password, err := Decrypt(encrypted, key)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt password: %w", err)
	}
	return string(password), nil
}

// Put updates the stored metadata of an account. An empty draft password
// keeps the current one; a non-empty password is rotated.
func (v *Vault) Put(name string, draft *types.AccountDraft) error {
	if draft.IMAPPort == 0 {
		draft.IMAPPort = 993
	}
	var err error
	if draft.Password == "" {
		err = validate.StructExcept(draft, "Password")
	} else {
		err = validate.Struct(draft)
	}
	if err != nil {
		return &types.ValidationError{Msg: "invalid account", Err: err}
	}

	now := time.Now().UTC().Format(time.RFC3339)

	if draft.Password != "" {
		key, err := masterKey(v.ring)
		if err != nil {
			return err
		}
		encrypted, err := Encrypt([]byte(draft.Password), key)
		if err != nil {
			return fmt.Errorf("failed to encrypt password: %w", err)
		}
		query := `
			UPDATE accounts
			SET email = ?, provider = ?, imap_server = ?, imap_port = ?, smtp_server = ?, smtp_port = ?, encrypted_password = ?, updated_at = ?
			WHERE name = ?
		`
		result, err := v.db.db.Exec(query, draft.Email, string(draft.Provider), draft.IMAPServer, draft.IMAPPort, draft.SMTPServer, draft.SMTPPort, encrypted, now, name)
		if err != nil {
			return &types.StorageError{Op: "update account", Err: err}
		}
		return requireRow(result, name)
	}

	query := `
		UPDATE accounts
		SET email = ?, provider = ?, imap_server = ?, imap_port = ?, smtp_server = ?, smtp_port = ?, updated_at = ?
		WHERE name = ?
	`
	result, err := v.db.db.Exec(query, draft.Email, string(draft.Provider), draft.IMAPServer, draft.IMAPPort, draft.SMTPServer, draft.SMTPPort, now, name)
	if err != nil {
		return &types.StorageError{Op: "update account", Err: err}
	}
	return requireRow(result, name)
}

// Delete removes an account. Removing an unknown name is an error.
func (v *Vault) Delete(name string) error {
	result, err := v.db.db.Exec("DELETE FROM accounts WHERE name = ?", name)
	if err != nil {
		return &types.StorageError{Op: "delete account", Err: err}
	}
	if err := requireRow(result, name); err != nil {
		return err
	}

	v.logger.WithField("account", name).Info("Account removed")
	return nil
}

// Exists reports whether an account name is taken.
func (v *Vault) Exists(name string) (bool, error) {
	var count int
	err := v.db.db.QueryRow("SELECT COUNT(*) FROM accounts WHERE name = ?", name).Scan(&count)
	if err != nil {
		return false, &types.StorageError{Op: "count accounts", Err: err}
	}
	return count > 0, nil
}

// List returns all stored accounts sorted by name, without secrets.
func (v *Vault) List() ([]types.Account, error) {
	query := `
		SELECT name, email, provider, imap_server, imap_port, smtp_server, smtp_port, created_at, updated_at
		FROM accounts
		ORDER BY name
	`
	rows, err := v.db.db.Query(query)
	if err != nil {
		return nil, &types.StorageError{Op: "list accounts", Err: err}
	}
	defer rows.Close()

	var accounts []types.Account
	for rows.Next() {
		var account types.Account
		var provider, createdAt, updatedAt string
		if err := rows.Scan(
			&account.Name,
			&account.Email,
			&provider,
			&account.IMAPServer,
			&account.IMAPPort,
			&account.SMTPServer,
			&account.SMTPPort,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, &types.StorageError{Op: "scan account", Err: err}
		}
		account.Provider = types.Provider(provider)
		account.CreatedAt = parseStoredTime(createdAt)
		account.UpdatedAt = parseStoredTime(updatedAt)
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "list accounts", Err: err}
	}
	return accounts, nil
}

// Reset drops every stored account.
func (v *Vault) Reset() error {
	if _, err := v.db.db.Exec("DELETE FROM accounts"); err != nil {
		return &types.StorageError{Op: "reset accounts", Err: err}
	}
	v.logger.Warn("Vault reset, all accounts removed")
	return nil
}

// requireRow turns a zero-row update into AccountNotFoundError.
func requireRow(result sql.Result, name string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return &types.StorageError{Op: "rows affected", Err: err}
	}
	if affected == 0 {
		return &types.AccountNotFoundError{Name: name}
	}
	return nil
}

func parseStoredTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
