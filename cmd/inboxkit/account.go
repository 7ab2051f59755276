package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/inboxkit/inboxkit/internal/provider"
	"github.com/inboxkit/inboxkit/pkg/types"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage stored email accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newAccountAddCmd(), newAccountListCmd(), newAccountRemoveCmd(), newAccountTestCmd())
	return cmd
}

func newAccountAddCmd() *cobra.Command {
	var (
		emailAddr     string
		providerName  string
		imapServer    string
		imapPort      int
		smtpServer    string
		smtpPort      int
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Verify credentials against the server and store a new account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if emailAddr == "" {
				return fmt.Errorf("missing required flag: --email")
			}
			password, err := readPassword(passwordStdin)
			if err != nil {
				return err
			}

			mgr, cleanup, err := openManager()
			if err != nil {
				return err
			}
			defer cleanup()

			account, err := mgr.VerifyAndAdd(&types.AccountDraft{
				Name:       args[0],
				Email:      emailAddr,
				Provider:   types.Provider(providerName),
				IMAPServer: imapServer,
				IMAPPort:   imapPort,
				SMTPServer: smtpServer,
				SMTPPort:   smtpPort,
				Password:   password,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Account %s added (%s via %s:%d)\n", account.Name, account.Email, account.IMAPServer, account.IMAPPort)
			return nil
		},
	}

	known := provider.Known()
	names := make([]string, 0, len(known)+1)
	for _, p := range known {
		names = append(names, string(p))
	}
	names = append(names, string(types.ProviderCustom))

	cmd.Flags().StringVar(&emailAddr, "email", "", "Email address for the account")
	cmd.Flags().StringVar(&providerName, "provider", "", fmt.Sprintf("Provider (%s; detected when omitted)", strings.Join(names, ", ")))
	cmd.Flags().StringVar(&imapServer, "imap-server", "", "IMAP server hostname (provider default when omitted)")
	cmd.Flags().IntVar(&imapPort, "imap-port", 0, "IMAP port (provider default when omitted)")
	cmd.Flags().StringVar(&smtpServer, "smtp-server", "", "SMTP server hostname (provider default when omitted)")
	cmd.Flags().IntVar(&smtpPort, "smtp-port", 0, "SMTP port (provider default when omitted)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin instead of prompting")

	return cmd
}

// readPassword reads the account password without echoing it. Piped input
// requires --password-stdin so a missing terminal fails instead of hanging.
func readPassword(fromStdin bool) (string, error) {
	if fromStdin {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read password from stdin: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("stdin is not a terminal; use --password-stdin")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

func newAccountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cleanup, err := openManager()
			if err != nil {
				return err
			}
			defer cleanup()

			accounts, err := mgr.Accounts()
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Println("No accounts configured.")
				return nil
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Name", "Email", "Provider", "IMAP", "SMTP", "Added"})
			table.SetBorder(false)
			table.SetAutoWrapText(false)
			for _, account := range accounts {
				smtp := ""
				if account.SMTPServer != "" {
					smtp = fmt.Sprintf("%s:%d", account.SMTPServer, account.SMTPPort)
				}
				table.Append([]string{
					account.Name,
					account.Email,
					string(account.Provider),
					fmt.Sprintf("%s:%d", account.IMAPServer, account.IMAPPort),
					smtp,
					account.CreatedAt.Format("2006-01-02"),
				})
			}
			table.Render()
			return nil
		},
	}
}

func newAccountRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a stored account and its credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cleanup, err := openManager()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := mgr.Remove(args[0]); err != nil {
				return err
			}
			fmt.Printf("Account %s removed\n", args[0])
			return nil
		},
	}
}

func newAccountTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <name>",
		Short: "Check that a stored account can still log in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cleanup, err := openManager()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := mgr.Test(args[0]); err != nil {
				return err
			}
			fmt.Printf("Account %s: connection OK\n", args[0])
			return nil
		},
	}
}
