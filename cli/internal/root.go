// Package cli implements passgate, the administration tool for the identity store.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/devilmonastery/passgate/internal/app"
	"github.com/devilmonastery/passgate/internal/config"
	"github.com/devilmonastery/passgate/internal/domain/services"
	"github.com/devilmonastery/passgate/internal/infrastructure/telegram"
	"github.com/devilmonastery/passgate/internal/pkg/idgen"
	"github.com/devilmonastery/passgate/internal/pkg/logger"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const cliContextKey contextKey = "cliContext"

// CliContext holds shared CLI context
type CliContext struct {
	Config   *config.Config
	Runtime  *app.Runtime
	Services *services.Services
	Logger   *slog.Logger
}

// Opener connects the runtime for a command
type Opener func(ctx context.Context, cfg *config.Config) (*app.Runtime, error)

func openRuntime(ctx context.Context, cfg *config.Config) (*app.Runtime, error) {
	return app.Open(ctx, cfg, app.Options{NodeID: idgen.NodeCLI})
}

// Global flags
var (
	configPath    string
	logLevel      string
	logFile       string
	logToStderr   bool
	alsoLogStderr bool
	logFormat     string
)

// NewRootCommand creates the root cobra command
func NewRootCommand() *cobra.Command {
	return newRootCommand(openRuntime)
}

func newRootCommand(open Opener) *cobra.Command {
	var ctx CliContext

	rootCmd := &cobra.Command{
		Use:           "passgate",
		Short:         "Administer passgate identities",
		Long:          `A command line interface for inspecting and repairing passgate identity records, the directory and the database schema.`,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors (main.go handles it)
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(); err != nil {
				return fmt.Errorf("failed to setup logging: %w", err)
			}

			ctx.Logger = slog.Default().With("component", "cli")
			ctx.Logger.Debug("CLI started", "command", cmd.Name())

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			ctx.Config = cfg

			rt, err := open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			ctx.Runtime = rt
			ctx.Services = rt.Services(nil)

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey, &ctx))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if ctx.Runtime != nil {
				return ctx.Runtime.Close()
			}
			return nil
		},
	}

	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newIdentityCommand())
	rootCmd.AddCommand(newDirectoryCommand())
	rootCmd.AddCommand(newSessionsCommand())

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"Log file path (if specified, logs to file instead of stderr)")
	rootCmd.PersistentFlags().BoolVar(&logToStderr, "logtostderr", false,
		"Log to stderr (default behavior unless --log-file specified)")
	rootCmd.PersistentFlags().BoolVar(&alsoLogStderr, "alsologtostderr", false,
		"Log to both file and stderr")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"Log format (text, json)")

	return rootCmd
}

// setupLogging configures the global logger based on CLI flags
func setupLogging() error {
	// Default to stderr logging unless file is specified
	if logFile == "" {
		logToStderr = true
	}

	cfg := logger.Config{
		Level:         logger.ParseLevel(logLevel),
		LogFile:       logFile,
		LogToStderr:   logToStderr,
		AlsoLogStderr: alsoLogStderr,
		Format:        logFormat,
	}

	globalLogger, err := logger.SetupLogger(cfg)
	if err != nil {
		return err
	}

	slog.SetDefault(globalLogger)
	return nil
}

// getCliContext extracts the CLI context from the command context
func getCliContext(cmd *cobra.Command) *CliContext {
	return cmd.Context().Value(cliContextKey).(*CliContext)
}

// chatServices returns services that can deliver to bound chats when a bot token is configured
func (c *CliContext) chatServices() *services.Services {
	if c.Config.Telegram.Token == "" {
		return c.Services
	}
	api, err := telegram.NewClient(c.Config.Telegram.Token, 10*time.Second)
	if err != nil {
		c.Logger.Warn("telegram unavailable, the chat will not be notified", slog.String("error", err.Error()))
		return c.Services
	}
	return c.Runtime.Services(telegram.NewMessenger(api))
}
