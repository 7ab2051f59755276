package provider

import (
	"strings"

	"github.com/inboxkit/inboxkit/pkg/types"
)

// Folders maps the well-known mailbox roles onto a provider's folder names.
type Folders struct {
	Inbox  string
	Trash  string
	Spam   string
	Sent   string
	Drafts string
}

// Info describes one provider's endpoints and folder layout.
type Info struct {
	IMAPHost      string
	IMAPPort      int
	SMTPHost      string
	SMTPPort      int
	EmailDomains  []string
	ServerDomains []string
	Folders       Folders
}

// resolveOrder fixes the matching order so that resolution is deterministic.
var resolveOrder = []types.Provider{
	types.ProviderGmail,
	types.ProviderOutlook,
	types.ProviderYahoo,
	types.ProviderICloud,
}

var registry = map[types.Provider]Info{
	types.ProviderGmail: {
		IMAPHost:      "imap.gmail.com",
		IMAPPort:      993,
		SMTPHost:      "smtp.gmail.com",
		SMTPPort:      465,
		EmailDomains:  []string{"gmail.com", "googlemail.com"},
		ServerDomains: []string{"gmail.com"},
		Folders: Folders{
			Inbox:  "INBOX",
			Trash:  "[Gmail]/Trash",
			Spam:   "[Gmail]/Spam",
			Sent:   "[Gmail]/Sent Mail",
			Drafts: "[Gmail]/Drafts",
		},
	},
	types.ProviderOutlook: {
		IMAPHost:      "outlook.office365.com",
		IMAPPort:      993,
		SMTPHost:      "smtp-mail.outlook.com",
		SMTPPort:      465,
		EmailDomains:  []string{"outlook.com", "hotmail.com", "hotmail.fr", "live.com"},
		ServerDomains: []string{"outlook.com", "office365.com"},
		Folders: Folders{
			Inbox:  "INBOX",
			Trash:  "Deleted Items",
			Spam:   "Junk Email",
			Sent:   "Sent Items",
			Drafts: "Drafts",
		},
	},
	types.ProviderYahoo: {
		IMAPHost:      "imap.mail.yahoo.com",
		IMAPPort:      993,
		SMTPHost:      "smtp.mail.yahoo.com",
		SMTPPort:      465,
		EmailDomains:  []string{"yahoo.com", "yahoo.co.uk", "yahoo.ca"},
		ServerDomains: []string{"yahoo.com"},
		Folders: Folders{
			Inbox:  "INBOX",
			Trash:  "Trash",
			Spam:   "Bulk Mail",
			Sent:   "Sent",
			Drafts: "Draft",
		},
	},
	types.ProviderICloud: {
		IMAPHost:      "imap.mail.me.com",
		IMAPPort:      993,
		SMTPHost:      "smtp.mail.me.com",
		SMTPPort:      465,
		EmailDomains:  []string{"icloud.com", "me.com", "mac.com"},
		ServerDomains: []string{"icloud.com", "me.com"},
		Folders: Folders{
			Inbox:  "INBOX",
			Trash:  "Deleted Messages",
			Spam:   "Junk",
			Sent:   "Sent Messages",
			Drafts: "Drafts",
		},
	},
	types.ProviderCustom: {
		IMAPPort: 993,
		SMTPPort: 465,
		Folders: Folders{
			Inbox:  "INBOX",
			Trash:  "Trash",
			Spam:   "Spam",
			Sent:   "Sent",
			Drafts: "Drafts",
		},
	},
}

// Resolve determines the provider for a server host and account address.
// A server host suffix match wins over the address domain; unknown inputs
// resolve to the custom provider.
func Resolve(serverHost, email string) types.Provider {
	host := strings.ToLower(strings.TrimSpace(serverHost))
	if host != "" {
		for _, p := range resolveOrder {
			for _, suffix := range registry[p].ServerDomains {
				if strings.HasSuffix(host, suffix) {
					return p
				}
			}
		}
	}

	if at := strings.LastIndex(email, "@"); at >= 0 {
		domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
		for _, p := range resolveOrder {
			for _, d := range registry[p].EmailDomains {
				if d == domain {
					return p
				}
			}
		}
	}

	return types.ProviderCustom
}

// Lookup returns the registry entry for p, falling back to the custom entry
// for unknown providers.
func Lookup(p types.Provider) Info {
	if info, ok := registry[p]; ok {
		return info
	}
	return registry[types.ProviderCustom]
}

// DefaultIMAPEndpoint returns the IMAP host and port for p. The custom
// provider has a port but no host.
func DefaultIMAPEndpoint(p types.Provider) (string, int) {
	info := Lookup(p)
	return info.IMAPHost, info.IMAPPort
}

// DefaultSMTPEndpoint returns the SMTP host and port for p.
func DefaultSMTPEndpoint(p types.Provider) (string, int) {
	info := Lookup(p)
	return info.SMTPHost, info.SMTPPort
}

// Known lists the providers with static endpoint configuration.
func Known() []types.Provider {
	return append([]types.Provider(nil), resolveOrder...)
}
