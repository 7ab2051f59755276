package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/inboxkit/inboxkit/internal/email"
	"github.com/inboxkit/inboxkit/pkg/types"
)

func newMessagesCmd() *cobra.Command {
	var account, folder string

	cmd := &cobra.Command{
		Use:   "messages",
		Short: "List, read and manage messages in a folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVarP(&account, "account", "a", "", "Stored account name")
	cmd.PersistentFlags().StringVarP(&folder, "folder", "f", "", "Folder to operate on (provider inbox when omitted)")

	cmd.AddCommand(
		newMessagesListCmd(&account, &folder),
		newMessagesReadCmd(&account, &folder),
		newMessagesSearchCmd(&account, &folder),
	)
	cmd.AddCommand(newMessagesActionCmds(&account, &folder)...)
	return cmd
}

func newMessagesListCmd(account, folder *string) *cobra.Command {
	var (
		unseenOnly bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List messages, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, cleanup, err := openSession(*account)
			if err != nil {
				return err
			}
			defer cleanup()

			uids, err := sess.ListUIDs(*folder, unseenOnly)
			if err != nil {
				return err
			}
			if len(uids) == 0 {
				fmt.Println("No messages.")
				return nil
			}
			if limit <= 0 {
				limit = cfg.FetchBatchSize
			}
			if len(uids) > limit {
				uids = uids[:limit]
			}

			messages, err := sess.FetchMessages(*folder, uids, false)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"UID", "Date", "From", "Subject", "Snippet"})
			table.SetBorder(false)
			table.SetAutoWrapText(false)
			for _, msg := range messages {
				summary := types.NewMessageSummary(msg)
				table.Append([]string{summary.UID, summary.Date, summary.Sender, summary.Subject, summary.Snippet})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&unseenOnly, "unseen", false, "Only list unseen messages")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum messages to fetch (config fetch_batch_size when omitted)")
	return cmd
}

func newMessagesReadCmd(account, folder *string) *cobra.Command {
	var (
		keepQuoted bool
		showHTML   bool
	)

	cmd := &cobra.Command{
		Use:   "read <uid>...",
		Short: "Fetch and print full messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, cleanup, err := openSession(*account)
			if err != nil {
				return err
			}
			defer cleanup()

			messages, err := sess.FetchMessages(*folder, args, keepQuoted)
			if err != nil {
				return err
			}
			for i, msg := range messages {
				if i > 0 {
					fmt.Println(strings.Repeat("-", 72))
				}
				printMessage(msg, showHTML)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepQuoted, "keep-quoted", false, "Keep quoted reply text in the body")
	cmd.Flags().BoolVar(&showHTML, "html", false, "Print the raw HTML body instead of plain text")
	return cmd
}

// printMessage writes one message as a header block followed by the body.
func printMessage(msg *types.Message, showHTML bool) {
	fmt.Printf("UID: %s\n", msg.UID)
	for _, key := range []string{"From", "To", "Cc", "Date"} {
		if value := msg.Headers[key]; value != "" {
			fmt.Printf("%s: %s\n", key, value)
		}
	}
	fmt.Printf("Subject: %s\n", msg.Subject)
	if msg.ThreadID != "" {
		fmt.Printf("Thread: %s\n", msg.ThreadID)
	}
	fmt.Println()

	body := msg.Body.Plain
	if showHTML {
		body = msg.Body.HTML
	} else if body == "" {
		body = msg.Body.HTMLText
	}
	fmt.Println(body)

	if len(msg.Body.Attachments) > 0 {
		fmt.Println()
		for _, att := range msg.Body.Attachments {
			fmt.Printf("Attachment: %s (%s, %d bytes)\n", att.Filename, att.ContentType, att.Size)
		}
	}
}

func newMessagesSearchCmd(account, folder *string) *cobra.Command {
	var messageIDs []string

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Find message UIDs by Message-ID header",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(messageIDs) == 0 {
				return fmt.Errorf("missing required flag: --message-id")
			}
			sess, cleanup, err := openSession(*account)
			if err != nil {
				return err
			}
			defer cleanup()

			uids, err := sess.SearchUIDs(*folder, messageIDs)
			if err != nil {
				return err
			}
			if len(uids) == 0 {
				fmt.Println("No matches.")
				return nil
			}
			for _, uid := range uids {
				fmt.Println(uid)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&messageIDs, "message-id", nil, "Message-ID to search for (repeatable)")
	return cmd
}

// newMessagesActionCmds builds the per-message flag and move commands,
// which all take uid arguments and report how many were touched.
func newMessagesActionCmds(account, folder *string) []*cobra.Command {
	actions := []struct {
		use   string
		short string
		done  string
		run   func(*email.Session, string, []string) error
	}{
		{"mark-read", "Mark messages as read", "Marked %d message(s) read\n", (*email.Session).MarkRead},
		{"mark-unread", "Mark messages as unread", "Marked %d message(s) unread\n", (*email.Session).MarkUnread},
		{"trash", "Move messages to the trash folder", "Moved %d message(s) to trash\n", (*email.Session).MoveToTrash},
		{"spam", "Move messages to the spam folder", "Moved %d message(s) to spam\n", (*email.Session).MarkAsSpam},
		{"delete", "Delete messages permanently, bypassing trash", "Deleted %d message(s)\n", (*email.Session).DeletePermanently},
	}

	cmds := make([]*cobra.Command, 0, len(actions))
	for _, action := range actions {
		cmds = append(cmds, &cobra.Command{
			Use:   action.use + " <uid>...",
			Short: action.short,
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				sess, cleanup, err := openSession(*account)
				if err != nil {
					return err
				}
				defer cleanup()

				if err := action.run(sess, *folder, args); err != nil {
					return err
				}
				fmt.Printf(action.done, len(args))
				return nil
			},
		})
	}
	return cmds
}
