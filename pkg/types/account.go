package types

import "time"

// Provider identifies a known mail provider.
type Provider string

const (
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
	ProviderYahoo   Provider = "yahoo"
	ProviderICloud  Provider = "icloud"
	ProviderCustom  Provider = "custom"
)

// Account is the stored metadata for a configured account. Secrets are
// never part of this struct.
type Account struct {
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Provider   Provider  `json:"provider"`
	IMAPServer string    `json:"imap_server"`
	IMAPPort   int       `json:"imap_port"`
	SMTPServer string    `json:"smtp_server,omitempty"`
	SMTPPort   int       `json:"smtp_port,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AccountDraft is the input for creating or updating an account. Password
// is plaintext here and only here; the vault encrypts it before anything
// touches disk.
type AccountDraft struct {
	Name       string   `validate:"required,accountname"`
	Email      string   `validate:"required,email"`
	Provider   Provider `validate:"required"`
	IMAPServer string   `validate:"required"`
	IMAPPort   int      `validate:"required,min=1,max=65535"`
	SMTPServer string
	SMTPPort   int    `validate:"omitempty,min=1,max=65535"`
	Password   string `validate:"required"`
}
