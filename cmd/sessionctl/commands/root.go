package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	pkgconfig "github.com/utafrali/storefront/pkg/config"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/sessionclient"
	"github.com/utafrali/storefront/pkg/sessionstate"
)

const envPrefix = "SESSIONCTL_"

// cli is the state shared by every subcommand of one invocation.
type cli struct {
	cfg     Config
	loadErr error
	logger  *slog.Logger

	file     sessionFile
	client   *sessionclient.Client
	provider *sessionstate.Provider

	// newConsumer builds the audit consumer for one topic.
	newConsumer func(topic string, h pkgkafka.Handler) *pkgkafka.Consumer
}

// Execute runs sessionctl until it finishes or receives SIGINT or SIGTERM.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return NewRootCommand().ExecuteContext(ctx)
}

// NewRootCommand builds the command tree. Flag defaults come from the
// SESSIONCTL_ environment.
func NewRootCommand() *cobra.Command {
	c := &cli{}
	c.loadErr = pkgconfig.LoadWithPrefix(&c.cfg, envPrefix)
	c.newConsumer = c.kafkaConsumer
	return c.command()
}

func (c *cli) command() *cobra.Command {
	root := &cobra.Command{
		Use:          "sessionctl",
		Short:        "Storefront session client for the terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.loadErr != nil {
				return c.loadErr
			}
			if err := c.cfg.Validate(); err != nil {
				return fmt.Errorf("validate config: %w", err)
			}
			c.logger = logger.NewWithFormat("sessionctl", c.cfg.LogLevel, logger.FormatText, cmd.ErrOrStderr())
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfg.APIURL, "api", c.cfg.APIURL, "user service base URL")
	flags.StringVar(&c.cfg.SessionFile, "session-file", c.cfg.SessionFile, "session file (default ~/.sessionctl/session.json)")
	flags.StringVar(&c.cfg.LogLevel, "log-level", c.cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.DurationVar(&c.cfg.Timeout, "timeout", c.cfg.Timeout, "per-command request timeout")

	root.AddCommand(
		c.registerCmd(),
		c.loginCmd(),
		c.logoutCmd(),
		c.whoamiCmd(),
		c.refreshCmd(),
		c.getCmd(),
		c.auditCmd(),
	)
	return root
}

// withSession restores the saved session, runs fn and saves whatever
// credentials the client holds afterwards, also when fn fails.
func (c *cli) withSession(fn func(ctx context.Context, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := c.open(); err != nil {
			return err
		}
		defer c.provider.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), c.cfg.Timeout)
		defer cancel()

		err := fn(ctx, cmd, args)
		return errors.Join(err, c.persist())
	}
}

func (c *cli) open() error {
	path, err := c.cfg.sessionPath()
	if err != nil {
		return err
	}
	c.file = sessionFile{path: path}

	saved, err := c.file.load()
	if err != nil {
		return err
	}

	c.client, err = sessionclient.New(c.cfg.clientConfig(), sessionclient.WithLogger(c.logger))
	if err != nil {
		return fmt.Errorf("create session client: %w", err)
	}
	restore(c.client, c.cfg.APIURL, saved)
	c.logger.Debug("session restored",
		slog.String("file", path),
		slog.Bool("access_token", c.client.AccessToken() != ""),
		slog.Bool("refresh_cookie", c.client.HasRefreshCookie()),
	)

	c.provider = sessionstate.New(c.client, sessionstate.WithLogger(c.logger))
	return nil
}

func (c *cli) persist() error {
	return c.file.save(capture(c.client, c.cfg.APIURL))
}

// password returns the flag value, falling back to SESSIONCTL_PASSWORD.
func (c *cli) password(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if c.cfg.Password != "" {
		return c.cfg.Password, nil
	}
	return "", errors.New("password required: pass --password or set " + envPrefix + "PASSWORD")
}

func (c *cli) kafkaConsumer(topic string, h pkgkafka.Handler) *pkgkafka.Consumer {
	return pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:  c.cfg.KafkaBrokers,
		GroupID:  c.cfg.AuditGroup,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 1 << 20,
	}, h, c.logger)
}
