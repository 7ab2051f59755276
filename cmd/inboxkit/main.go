package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inboxkit/inboxkit/internal/config"
	"github.com/inboxkit/inboxkit/internal/email"
	"github.com/inboxkit/inboxkit/internal/vault"
)

// Set via -ldflags at build time.
var version = "dev"

var (
	cfg    *config.Config
	logger = logrus.New()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath   string
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:     "inboxkit",
		Short:   "Manage email accounts and messages over IMAP and SMTP",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			// Flags win over the config file and environment.
			if logLevel != "" {
				loaded.LogLevel = logLevel
			}
			if logFormat != "" {
				loaded.LogFormat = logFormat
			}
			if err := loaded.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			cfg = loaded
			configureLogger(cfg)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "Path to the config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Override the configured log format (text or json)")

	cmd.AddCommand(newAccountCmd(), newMessagesCmd(), newSendCmd())
	return cmd
}

// configureLogger applies the configured level and format. Logs go to
// stderr so tables and message bodies on stdout stay clean.
func configureLogger(cfg *config.Config) {
	logger.SetOutput(os.Stderr)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

// openManager wires the vault into an account manager. The cleanup
// function releases the underlying database handle.
func openManager() (*email.Manager, func(), error) {
	db, err := vault.OpenDB(cfg.DatabasePath(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open account vault: %w", err)
	}
	ring, err := vault.OpenKeyring(cfg.DataDir, cfg.KeyringBackends)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close account vault")
		}
	}
	return email.NewManager(vault.New(db, ring, logger), cfg.IMAPTimeout(), logger), cleanup, nil
}

// openSession opens a live IMAP session for a stored account. The cleanup
// function logs out and releases the vault.
func openSession(account string) (*email.Session, func(), error) {
	if account == "" {
		return nil, nil, fmt.Errorf("missing required flag: --account")
	}
	mgr, closeMgr, err := openManager()
	if err != nil {
		return nil, nil, err
	}
	sess, err := mgr.Open(account)
	if err != nil {
		closeMgr()
		return nil, nil, err
	}
	cleanup := func() {
		if err := sess.Logout(); err != nil {
			logger.WithError(err).Warn("Logout failed")
		}
		closeMgr()
	}
	return sess, cleanup, nil
}
