package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/devilmonastery/passgate/internal/app"
	"github.com/devilmonastery/passgate/internal/config"
	"github.com/devilmonastery/passgate/internal/domain/repositories"
	"github.com/devilmonastery/passgate/internal/domain/services"
	"github.com/devilmonastery/passgate/internal/infrastructure/telegram"
	"github.com/devilmonastery/passgate/internal/pkg/idgen"
	"github.com/devilmonastery/passgate/internal/pkg/logger"
	"github.com/devilmonastery/passgate/web/internal/handlers"
	"github.com/devilmonastery/passgate/web/internal/middleware"
	"github.com/devilmonastery/passgate/web/internal/render"
	"github.com/devilmonastery/passgate/web/internal/session"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		logLevel   string
		logFormat  string
		logFile    string
		cfg        *config.Config
	)

	cmd := &cobra.Command{
		Use:          "passgate-web",
		Short:        "Passgate web portal",
		Long:         `Serve the passgate portal: login, password reset and reset channel management.`,
		SilenceUsage: true,
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
			return runWeb(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
	cmd.Flags().StringVar(&logFile, "log-file", "", "log file path (stderr when empty)")

	return cmd
}

func runWeb(parent context.Context, cfg *config.Config) error {
	log := slog.Default().With(slog.String("component", "web"))
	log.Info("starting passgate web service")

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, app.Options{NodeID: idgen.NodeWeb, Migrate: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	// Reset codes and unlink notices go out through the bot account
	var chat services.Messenger
	if cfg.Telegram.Token != "" {
		api, err := telegram.NewClient(cfg.Telegram.Token, 10*time.Second)
		if err != nil {
			log.Warn("telegram unavailable, chat messages will not be delivered", slog.String("error", err.Error()))
		} else {
			chat = telegram.NewMessenger(api)
		}
	} else {
		log.Warn("telegram.token not set, chat messages will not be delivered")
	}

	svc := rt.Services(chat)

	if purged, err := svc.Sessions.Cleanup(ctx); err != nil {
		log.Warn("failed to purge expired sessions", slog.String("error", err.Error()))
	} else {
		log.Info("purged expired sessions", slog.Int64("count", purged))
	}

	templates, err := render.LoadTemplates(cfg.Web.TemplatesPath)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	render.LogTemplateNames(templates, log)

	sessionSecret, err := loadSessionSecret(cfg.Session.Secret, log)
	if err != nil {
		return err
	}

	sessionMgr := session.NewManager(sessionSecret, cfg.Session.MaxTime, cfg.IsProduction())
	authMw := middleware.NewAuthMiddleware(sessionMgr, svc.Sessions, log)
	h := handlers.New(svc, sessionMgr, authMw, templates, log)

	srv := &http.Server{
		Addr:              cfg.Web.Address(),
		Handler:           createRouter(h, authMw, rt, cfg.Web.StaticPath),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", slog.String("error", err.Error()))
		}
	}()

	tls := cfg.Web.TLSCertificate != "" && cfg.Web.TLSPrivateKey != ""
	log.Info("listening", slog.String("address", srv.Addr), slog.Bool("tls", tls))

	if tls {
		err = srv.ListenAndServeTLS(cfg.Web.TLSCertificate, cfg.Web.TLSPrivateKey)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	log.Info("web service stopped")
	return nil
}

// loadSessionSecret picks the cookie signing key - priority: env var > config file > random
func loadSessionSecret(configured string, log *slog.Logger) ([]byte, error) {
	if envSecret := os.Getenv("SESSION_SECRET"); envSecret != "" {
		secret, err := base64.StdEncoding.DecodeString(envSecret)
		if err == nil {
			log.Info("using session secret", slog.String("source", "environment variable"))
			return secret, nil
		}
		log.Warn("failed to decode SESSION_SECRET env var, trying config", slog.Any("error", err))
	}

	if configured != "" {
		secret, err := base64.StdEncoding.DecodeString(configured)
		if err == nil {
			log.Info("using session secret", slog.String("source", "config file"))
			return secret, nil
		}
		log.Warn("failed to decode session secret from config", slog.Any("error", err))
	}

	// Dev mode only: every restart logs everybody out
	log.Warn("no session secret configured, generating random one (sessions won't persist)")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate session secret: %w", err)
	}
	return secret, nil
}

// createRouter sets up the HTTP router with all routes and middleware
func createRouter(h *handlers.Handler, authMw *middleware.AuthMiddleware, health repositories.HealthChecker, staticPath string) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.LogRequest)
	router.NotFoundHandler = middleware.LogRequest(http.HandlerFunc(h.NotFound))

	if staticPath == "" {
		staticPath = "web/static"
	}
	router.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.Dir(staticPath))))

	// Health check endpoint (no auth required)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if err := health.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Public routes (no auth required)
	router.HandleFunc("/", h.Index).Methods("GET")
	router.HandleFunc("/auth", h.AuthPage).Methods("GET")
	router.HandleFunc("/auth/login", h.Login).Methods("POST")
	router.HandleFunc("/auth/logout", h.Logout).Methods("GET", "POST")

	// Password reset
	router.HandleFunc("/auth/reset", h.ResetPage).Methods("GET")
	router.HandleFunc("/auth/reset", h.ResetBegin).Methods("POST")
	router.HandleFunc("/auth/reset/choose", h.ResetChoose).Methods("POST")
	router.HandleFunc("/auth/reset/submit", h.ResetSubmit).Methods("POST")

	// Profile and channels (auth required)
	router.Handle("/user", authMw.RequireAuth(http.HandlerFunc(h.Profile))).Methods("GET")
	router.Handle("/user/reset_info", authMw.RequireAuth(http.HandlerFunc(h.ResetInfo))).Methods("GET")
	router.Handle("/user/channels", authMw.RequireAuth(http.HandlerFunc(h.Channels))).Methods("POST")
	router.Handle("/user/telegram_new", authMw.RequireAuth(http.HandlerFunc(h.TelegramNew))).Methods("GET")
	router.Handle("/user/telegram_destroy", authMw.RequireAuth(http.HandlerFunc(h.TelegramDestroy))).Methods("POST")
	router.Handle("/user/otp_new", authMw.RequireAuth(http.HandlerFunc(h.OTPNew))).Methods("GET")
	router.Handle("/user/otp_verify", authMw.RequireAuth(http.HandlerFunc(h.OTPVerify))).Methods("POST")
	router.Handle("/user/otp_destroy", authMw.RequireAuth(http.HandlerFunc(h.OTPDestroy))).Methods("POST")

	return router
}
