package email

import (
	"bytes"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/jaytaylor/html2text"
	"github.com/jhillyerd/enmime"

	"github.com/inboxkit/inboxkit/pkg/types"
)

// keptHeaders is the set of headers carried into the structured view.
// Everything else the server sent is dropped.
var keptHeaders = map[string]bool{
	"message-id":   true,
	"from":         true,
	"to":           true,
	"subject":      true,
	"date":         true,
	"cc":           true,
	"bcc":          true,
	"delivered-to": true,
	"sender":       true,
	"references":   true,
	"in-reply-to":  true,
	"thread-topic": true,
}

// addressPattern matches the angle-bracketed address of a quote attribution
// line ("On ... <someone@example.com> wrote:").
var addressPattern = regexp.MustCompile(`<[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}>`)

// subjectMarkers are stripped repeatedly from the front of a subject.
var subjectMarkers = []string{"Re:", "RE:", "Fwd:", "FWD:"}

// Decompose parses a raw RFC 822 message into its structured form. It never
// fails: input enmime cannot parse degrades to a message whose plain body is
// the raw payload.
func Decompose(raw []byte, keepQuoted bool) *types.Message {
	msg := &types.Message{Headers: map[string]string{}}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil || env == nil || env.Root == nil {
		msg.Body.Plain = string(raw)
		return msg
	}

	msg.Headers = selectHeaders(env)
	msg.Subject = normalizeSubject(env)
	msg.ThreadID = resolveThreadID(env)
	msg.Date = normalizeDate(env.GetHeader("Date"))

	extractBodies(env.Root, &msg.Body)

	if msg.Body.HTML != "" {
		if text, err := html2text.FromString(msg.Body.HTML); err == nil {
			msg.Body.HTMLText = text
		}
	}

	if !keepQuoted {
		msg.Body.Plain = StripQuoted(msg.Body.Plain)
		if msg.Body.HTMLText != "" {
			msg.Body.HTMLText = StripQuoted(msg.Body.HTMLText)
		}
	}

	return msg
}

// selectHeaders filters the envelope headers down to the kept set. The
// Message-ID key is normalized so callers can rely on one spelling.
func selectHeaders(env *enmime.Envelope) map[string]string {
	headers := make(map[string]string)
	for _, key := range env.GetHeaderKeys() {
		if !keptHeaders[strings.ToLower(key)] {
			continue
		}
		name := key
		if strings.EqualFold(key, "Message-ID") {
			name = "Message-ID"
		}
		headers[name] = strings.TrimSpace(env.GetHeader(key))
	}
	return headers
}

// normalizeSubject prefers the Thread-Topic header, which carries the
// subject without reply markers, and otherwise cleans the Subject line.
func normalizeSubject(env *enmime.Envelope) string {
	if topic := strings.TrimSpace(env.GetHeader("Thread-Topic")); topic != "" {
		return topic
	}
	return CleanSubject(env.GetHeader("Subject"))
}

// CleanSubject strips reply and forward markers from the front of a subject
// line until none remain.
func CleanSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		trimmed := s
		for _, marker := range subjectMarkers {
			trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, marker))
		}
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

// resolveThreadID picks the conversation id for a message: the first
// reference when References is set, nothing for a reply that only carries
// In-Reply-To, and the message's own id otherwise.
func resolveThreadID(env *enmime.Envelope) string {
	if refs := strings.Fields(env.GetHeader("References")); len(refs) > 0 {
		return refs[0]
	}
	if env.GetHeader("In-Reply-To") != "" {
		return ""
	}
	return strings.TrimSpace(env.GetHeader("Message-Id"))
}

// normalizeDate parses the Date header into RFC 3339 form, falling back to
// the original string when the header does not parse.
func normalizeDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	t, err := mail.ParseDate(value)
	if err != nil {
		return value
	}
	return t.Format(time.RFC3339)
}

// extractBodies walks the part tree in document order. The last text/plain
// and text/html parts win; parts explicitly marked as attachments are
// collected with their decoded content. A non-multipart message is its own
// plain body no matter what type it declares.
func extractBodies(root *enmime.Part, body *types.Body) {
	if !strings.HasPrefix(root.ContentType, "multipart/") {
		body.Plain = string(root.Content)
		return
	}

	parts := root.DepthMatchAll(func(*enmime.Part) bool { return true })
	for _, part := range parts {
		switch {
		case part.Disposition == "attachment":
			body.Attachments = append(body.Attachments, types.Attachment{
				Filename:    part.FileName,
				ContentType: part.ContentType,
				Content:     part.Content,
				Size:        len(part.Content),
			})
		case part.ContentType == "text/plain":
			body.Plain = string(part.Content)
		case part.ContentType == "text/html":
			body.HTML = string(part.Content)
		}
	}
}

// StripQuoted removes a trailing quoted reply block from body text. The
// heuristic finds the first angle-bracketed address (the attribution line)
// and cuts from the blank line above it; without a blank line the cut is at
// the attribution line itself. Text without such an address is returned
// unchanged.
func StripQuoted(body string) string {
	loc := addressPattern.FindStringIndex(body)
	if loc == nil {
		return body
	}

	lineIdx := strings.Count(body[:loc[0]], "\n")
	lines := strings.Split(body, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}

	cut := lineIdx
	for i := lineIdx - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) == "" {
			cut = i
			break
		}
	}

	return strings.Join(lines[:cut], "\r\n")
}
