package types

import "strings"

// Message is a decomposed email message.
type Message struct {
	UID      string            `json:"uid,omitempty"`
	ThreadID string            `json:"thread_id,omitempty"`
	Subject  string            `json:"subject"`
	Date     string            `json:"date,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     Body              `json:"body"`
}

// Body holds the extracted bodies of a message.
type Body struct {
	Plain       string       `json:"plain,omitempty"`
	HTML        string       `json:"html,omitempty"`
	HTMLText    string       `json:"html_text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a decoded attachment part.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
	Size        int    `json:"size"`
}

// Folder represents an email folder/mailbox.
type Folder struct {
	Name       string   `json:"name"`
	Delimiter  string   `json:"delimiter,omitempty"`
	Attributes []string `json:"attributes,omitempty"`
}

// MessageSummary is the single-line projection used by listings.
type MessageSummary struct {
	UID     string `json:"uid"`
	Subject string `json:"subject"`
	Sender  string `json:"sender"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
}

const snippetLength = 100

// NewMessageSummary projects a decomposed message into a summary row. A
// "Name <addr>" sender collapses to the bare address and the snippet is the
// start of the plain body with whitespace runs collapsed.
func NewMessageSummary(m *Message) MessageSummary {
	sender := m.Headers["From"]
	if i := strings.Index(sender, "<"); i >= 0 {
		sender = strings.TrimSuffix(strings.TrimSpace(sender[i+1:]), ">")
	}

	snippet := strings.Join(strings.Fields(m.Body.Plain), " ")
	if runes := []rune(snippet); len(runes) > snippetLength {
		snippet = string(runes[:snippetLength]) + "..."
	}

	return MessageSummary{
		UID:     m.UID,
		Subject: m.Subject,
		Sender:  sender,
		Date:    m.Date,
		Snippet: snippet,
	}
}
