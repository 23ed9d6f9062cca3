package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sofatutor/brian/internal/api"
	"github.com/sofatutor/brian/internal/audit"
	"github.com/sofatutor/brian/internal/auth"
	"github.com/sofatutor/brian/internal/client"
	"github.com/sofatutor/brian/internal/config"
	"github.com/sofatutor/brian/internal/database"
	"github.com/sofatutor/brian/internal/encryption"
	"github.com/sofatutor/brian/internal/frontend"
	"github.com/sofatutor/brian/internal/logging"
	"github.com/sofatutor/brian/internal/openai"
	"github.com/sofatutor/brian/internal/ratelimit"
	"github.com/sofatutor/brian/internal/server"
	"github.com/sofatutor/brian/internal/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// runnable is a server with a blocking Start and a graceful Shutdown.
type runnable interface {
	Start() error
	Shutdown(ctx context.Context) error
}

func newServerCmd(opts *rootOptions) *cobra.Command {
	var listenAddr, dbPath, assistantConfig string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the brian API server",
		Long:  `Serve /create-user, /login, /generate-text and /health using the environment configuration.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setenvIfSet("LISTEN_ADDR", listenAddr)
			setenvIfSet("DATABASE_PATH", dbPath)
			setenvIfSet("ASSISTANT_CONFIG_PATH", assistantConfig)
			setenvIfSet("LOG_LEVEL", opts.logLevel)

			cfg, err := config.New()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Level:      cfg.LogLevel,
				Format:     cfg.LogFormat,
				File:       cfg.LogFile,
				MaxSize:    cfg.LogMaxSize,
				MaxBackups: cfg.LogMaxBackups,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer syncLogger(logger)

			if err := checkListenAddr(cfg.ListenAddr); err != nil {
				return err
			}

			srv, cleanup, err := buildAPIServer(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			return serve(cmd, srv, cfg.ShutdownTimeout, logger)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "addr", "", "Address to listen on (overrides LISTEN_ADDR)")
	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the SQLite database (overrides DATABASE_PATH)")
	cmd.Flags().StringVarP(&assistantConfig, "assistant-config", "c", "", "YAML assistant profile (overrides ASSISTANT_CONFIG_PATH)")
	return cmd
}

// buildAPIServer wires the database, upstream client and rate limiter into a
// server. cleanup releases them.
func buildAPIServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*server.Server, func(), error) {
	dbConfig := database.ConfigFromEnv(logger)
	db, err := database.New(ctx, dbConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s database: %w", dbConfig.Driver, err)
	}
	logger.Info("connected to database", zap.String("driver", string(dbConfig.Driver)))

	var profile *openai.Profile
	if cfg.AssistantConfigPath != "" {
		if profile, err = openai.LoadProfile(cfg.AssistantConfigPath); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info("loaded assistant profile", zap.String("path", cfg.AssistantConfigPath), zap.String("name", profile.Name))
	} else {
		profile = openai.DefaultProfile()
	}
	if cfg.OpenAIAPIKey == "" {
		logger.Warn("OPENAI_API_KEY not set; generation requests will fail upstream")
	} else {
		logger.Info("using completion API", zap.String("url", cfg.OpenAIAPIURL), zap.String("api_key", api.ObfuscateKey(cfg.OpenAIAPIKey)))
	}
	completer := openai.NewClient(cfg.OpenAIAPIURL, cfg.OpenAIAPIKey, profile, cfg.RequestTimeout, logger)

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.AccessTokenExpire)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	closeLimiter := func() error { return nil }
	if cfg.RateLimitEnabled {
		limiter, closeLimiter, err = ratelimit.New(ctx, ratelimit.Config{
			MaxRequests:     cfg.RateLimitMax,
			Window:          cfg.RateLimitWindow,
			KeyPrefix:       cfg.RateLimitPrefix,
			EnableFallback:  cfg.RateLimitFallback,
			RecheckInterval: ratelimit.DefaultConfig().RecheckInterval,
		}, ratelimit.RedisOptions{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, logger)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
		}
	}

	auditLog := audit.NewNullLogger()
	if cfg.AuditLogFile != "" {
		if auditLog, err = audit.NewLogger(cfg.AuditLogFile); err != nil {
			_ = closeLimiter()
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info("writing audit trail", zap.String("path", cfg.AuditLogFile))
	}

	srv, err := server.New(cfg, server.Deps{
		Users:     db,
		Hasher:    encryption.NewPasswordHasher(),
		Issuer:    issuer,
		Completer: completer,
		Tokens:    openai.NewTiktokenCounter(profile.Model),
		Limiter:   limiter,
		DB:        db,
		Audit:     auditLog,
		Logger:    logger,
	})
	if err != nil {
		_ = auditLog.Close()
		_ = closeLimiter()
		_ = db.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := auditLog.Close(); err != nil {
			logger.Warn("failed to close audit log", zap.Error(err))
		}
		if err := closeLimiter(); err != nil {
			logger.Warn("failed to close rate limiter", zap.Error(err))
		}
		if err := db.Close(); err != nil {
			logger.Warn("failed to close database", zap.Error(err))
		}
	}
	return srv, cleanup, nil
}

func newWebCmd(opts *rootOptions) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "web",
		Short: "Serve the login and chat pages",
		Long:  `Serve /login.html and /chat.html, keeping the access token in a signed session cookie.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.NewWebConfig()
			if listenAddr != "" {
				cfg.ListenAddr = listenAddr
			}
			if opts.apiURL != "" {
				cfg.APIURL = opts.apiURL
			}
			if opts.logLevel != "" {
				cfg.LogLevel = opts.logLevel
			}
			if cmd.Flags().Changed("strict-expiry") {
				cfg.StrictExpiry = opts.strictExpiry
			}

			logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer syncLogger(logger)

			if err := checkListenAddr(cfg.ListenAddr); err != nil {
				return err
			}

			c := client.New(cfg.APIURL, client.WithTimeout(opts.clientConfig(cmd).RequestTimeout), client.WithLogger(logger))
			srv, err := web.New(cfg, frontend.ClientAPI{Client: c}, logger)
			if err != nil {
				return err
			}
			return serve(cmd, srv, 15*time.Second, logger)
		},
	}
	cmd.Flags().StringVar(&listenAddr, "addr", "", "Address to listen on (overrides WEB_LISTEN_ADDR)")
	return cmd
}

// serve runs srv until SIGINT or SIGTERM, then shuts it down gracefully.
func serve(cmd *cobra.Command, srv runnable, shutdownTimeout time.Duration, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if f, ok := cmd.OutOrStdout().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintln(f, "Press Ctrl+C to stop")
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exited gracefully")
	return nil
}

// checkListenAddr fails fast when the address is already taken.
func checkListenAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen address unavailable (already in use?): %s: %w", addr, err)
	}
	return ln.Close()
}

func setenvIfSet(key, value string) {
	if value != "" {
		_ = os.Setenv(key, value)
	}
}

func syncLogger(logger *zap.Logger) {
	if err := logger.Sync(); err != nil && !strings.Contains(err.Error(), "inappropriate ioctl for device") {
		fmt.Fprintf(os.Stderr, "Error syncing logger: %v\n", err)
	}
}
