package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/inboxkit/inboxkit/internal/email"
)

func newSendCmd() *cobra.Command {
	var (
		account   string
		to        []string
		cc        []string
		bcc       []string
		subject   string
		body      string
		html      bool
		inReplyTo string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message through the account's SMTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if account == "" {
				return fmt.Errorf("missing required flag: --account")
			}
			if len(to) == 0 {
				return fmt.Errorf("missing required flag: --to")
			}
			if body == "" {
				// No --body means the body arrives on stdin.
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read body from stdin: %w", err)
				}
				body = string(data)
			}

			mgr, cleanup, err := openManager()
			if err != nil {
				return err
			}
			defer cleanup()

			sender, err := mgr.OpenSender(account)
			if err != nil {
				return err
			}
			if err := sender.Send(&email.OutboundMessage{
				To:        to,
				Cc:        cc,
				Bcc:       bcc,
				Subject:   subject,
				Body:      body,
				HTML:      html,
				InReplyTo: inReplyTo,
			}); err != nil {
				return err
			}
			fmt.Println("Message sent.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&account, "account", "a", "", "Stored account name")
	cmd.Flags().StringSliceVar(&to, "to", nil, "Recipient address (repeatable or comma-separated)")
	cmd.Flags().StringSliceVar(&cc, "cc", nil, "CC recipient (repeatable or comma-separated)")
	cmd.Flags().StringSliceVar(&bcc, "bcc", nil, "BCC recipient (repeatable or comma-separated)")
	cmd.Flags().StringVar(&subject, "subject", "", "Message subject")
	cmd.Flags().StringVar(&body, "body", "", "Message body (read from stdin when omitted)")
	cmd.Flags().BoolVar(&html, "html", false, "Send the body as HTML")
	cmd.Flags().StringVar(&inReplyTo, "reply-to-message-id", "", "Message-ID this message replies to")
	return cmd
}
