package email

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inboxkit/inboxkit/pkg/types"
)

// SenderConfig carries everything needed to submit mail.
type SenderConfig struct {
	Host     string
	Port     int
	Email    string
	Password string
	// FromName is the display name for the From header.
	FromName string
	Logger   *logrus.Logger
}

// OutboundMessage is an email to be sent.
type OutboundMessage struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
	// HTML switches the body content type to text/html.
	HTML bool
	// InReplyTo and References thread the message into an existing
	// conversation.
	InReplyTo  string
	References []string
}

// Sender submits messages over SMTP. Every Send opens its own connection.
type Sender struct {
	config SenderConfig
	logger *logrus.Logger
}

// NewSender creates a sender. Port defaults to 465.
func NewSender(cfg SenderConfig) *Sender {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Port == 0 {
		cfg.Port = 465
	}

	return &Sender{config: cfg, logger: logger}
}

// Send builds the message and submits it to every To, Cc and Bcc recipient.
func (s *Sender) Send(msg *OutboundMessage) error {
	if len(msg.To) == 0 {
		return &types.ValidationError{Msg: "no recipients given"}
	}

	raw, messageID := s.buildMessage(msg)

	recipients := make([]string, 0, len(msg.To)+len(msg.Cc)+len(msg.Bcc))
	recipients = append(recipients, msg.To...)
	recipients = append(recipients, msg.Cc...)
	recipients = append(recipients, msg.Bcc...)

	if err := s.transmit(recipients, raw); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"message_id": messageID,
		"recipients": len(recipients),
	}).Info("Message sent")
	return nil
}

func (s *Sender) transmit(recipients []string, raw []byte) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	password := strings.ReplaceAll(s.config.Password, " ", " ")

	client, err := s.dial(addr)
	if err != nil {
		return &types.ConnectionError{Host: addr, Err: err}
	}
	defer client.Close()

	// Auth
	if password != "" {
		auth := smtp.PlainAuth("", s.config.Email, password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			return &types.AuthenticationError{Account: s.config.Email, Err: err}
		}
	}

	// Set sender
	if err := client.Mail(s.config.Email); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}

	// Set recipients
	for _, to := range recipients {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", to, err)
		}
	}

	// Send data
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to send data command: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}

// dial opens the connection in the mode the port dictates. Port 465 means
// implicit TLS, everything else starts plain and upgrades with STARTTLS.
func (s *Sender) dial(addr string) (*smtp.Client, error) {
	tlsConfig := &tls.Config{
		ServerName: s.config.Host,
		MinVersion: tls.VersionTLS12,
	}

	if s.config.Port == 465 {
		conn, err := tls.Dial("tcp", addr, tlsConfig)
		if err != nil {
			return nil, err
		}
		client, err := smtp.NewClient(conn, s.config.Host)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return client, nil
	}

	client, err := smtp.Dial(addr)
	if err != nil {
		return nil, err
	}
	if err := client.StartTLS(tlsConfig); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// buildMessage renders the RFC 5322 message and returns it together with
// the generated Message-ID. Bcc recipients are deliberately absent from the
// headers.
func (s *Sender) buildMessage(msg *OutboundMessage) ([]byte, string) {
	from := mail.Address{Name: s.config.FromName, Address: s.config.Email}
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.config.Host)

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s\r\n", from.String()))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	if len(msg.Cc) > 0 {
		buf.WriteString(fmt.Sprintf("Cc: %s\r\n", strings.Join(msg.Cc, ", ")))
	}
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))

	if msg.InReplyTo != "" {
		buf.WriteString(fmt.Sprintf("In-Reply-To: %s\r\n", msg.InReplyTo))
		references := msg.References
		if len(references) == 0 {
			references = []string{msg.InReplyTo}
		}
		buf.WriteString(fmt.Sprintf("References: %s\r\n", strings.Join(references, " ")))
	}

	buf.WriteString("MIME-Version: 1.0\r\n")
	if msg.HTML {
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	} else {
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	}
	buf.WriteString("\r\n")
	buf.WriteString(msg.Body)

	return buf.Bytes(), messageID
}
