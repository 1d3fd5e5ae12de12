package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/devilmonastery/passgate/bot/internal/bot"
	"github.com/devilmonastery/passgate/internal/app"
	"github.com/devilmonastery/passgate/internal/config"
	"github.com/devilmonastery/passgate/internal/domain/conversation"
	"github.com/devilmonastery/passgate/internal/infrastructure/telegram"
	"github.com/devilmonastery/passgate/internal/pkg/idgen"
	"github.com/devilmonastery/passgate/internal/pkg/logger"
)

func newRunCommand() *cobra.Command {
	var (
		configPath string
		logLevel   string
		logFormat  string
		logFile    string
		cfg        *config.Config
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the Telegram bot",
		Long:  `Start the Telegram bot and long-poll the Bot API for updates.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Use config file logging settings if not overridden by flags
			if !cmd.Flags().Changed("log-level") && cfg.Logging.Level != "" {
				logLevel = cfg.Logging.Level
			}
			if !cmd.Flags().Changed("log-format") && cfg.Logging.Format != "" {
				logFormat = cfg.Logging.Format
			}
			if !cmd.Flags().Changed("log-file") {
				logFile = cfg.Logging.File
			}
			return logger.Setup(logLevel, logFormat, logFile, false)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "log file path (stderr when empty)")

	return cmd
}

func runBot(parent context.Context, cfg *config.Config) error {
	log := slog.Default().With(slog.String("component", "bot"))

	if cfg.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, app.Options{NodeID: idgen.NodeBot, Migrate: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	// The HTTP timeout must outlast the long poll
	pollTimeout := time.Duration(cfg.Telegram.PollTimeout) * time.Second
	api, err := telegram.NewClient(cfg.Telegram.Token, pollTimeout+10*time.Second)
	if err != nil {
		return err
	}
	log.Info("starting passgate bot", slog.String("username", api.Self.UserName))

	svc := rt.Services(telegram.NewMessenger(api))
	machine := conversation.NewMachine(svc.Identities, svc.Tokens, svc.Binding)
	b := bot.New(api, machine, cfg.Telegram)

	if cfg.Telegram.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.Telegram.MetricsAddr, rt, log)
	}

	if err := b.Run(ctx); err != nil {
		return fmt.Errorf("bot stopped with error: %w", err)
	}
	log.Info("bot stopped")
	return nil
}

// serveMetrics exposes /metrics and /health until ctx is done
func serveMetrics(ctx context.Context, addr string, rt *app.Runtime, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := rt.HealthCheck(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("starting metrics server", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server failed", slog.String("error", err.Error()))
	}
}
