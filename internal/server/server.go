// Package server implements brian's HTTP API: user sign-up, login and
// authenticated text generation.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sofatutor/brian/internal/api"
	"github.com/sofatutor/brian/internal/audit"
	"github.com/sofatutor/brian/internal/auth"
	"github.com/sofatutor/brian/internal/config"
	"github.com/sofatutor/brian/internal/database"
	"github.com/sofatutor/brian/internal/encryption"
	"github.com/sofatutor/brian/internal/middleware"
	"github.com/sofatutor/brian/internal/openai"
	"github.com/sofatutor/brian/internal/ratelimit"
	"go.uber.org/zap"
)

// Version is the application version, following semantic versioning.
const Version = "0.1.0"

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the server needs. Users, Issuer and Completer
// are required; the rest have usable defaults.
type Deps struct {
	Users     database.UserStore
	Hasher    encryption.Hasher
	Issuer    *auth.Issuer
	Completer openai.Completer
	Tokens    openai.TokenCounter // nil disables the prompt length check
	Limiter   ratelimit.Limiter   // nil means unlimited
	DB        Pinger              // nil skips the database health check
	Audit     *audit.Logger       // nil discards account events
	Logger    *zap.Logger
}

// Server is the API HTTP server.
type Server struct {
	server *http.Server
	engine *gin.Engine
	config *config.Config
	deps   Deps
	logger *zap.Logger
}

// HealthResponse is the response body for the health check endpoint.
type HealthResponse struct {
	Status    string    `json:"status"`             // "ok" or "degraded"
	Timestamp time.Time `json:"timestamp"`          // Current server time
	Version   string    `json:"version"`            // Application version number
	Database  string    `json:"database,omitempty"` // "ok" or "unavailable"
}

// New creates the server and registers its routes. It does not start listening.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Users == nil || deps.Issuer == nil || deps.Completer == nil {
		return nil, fmt.Errorf("user store, token issuer and completer are required")
	}
	if deps.Hasher == nil {
		deps.Hasher = encryption.NewPasswordHasher()
	}
	if deps.Limiter == nil || !cfg.RateLimitEnabled {
		deps.Limiter = ratelimit.Unlimited{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewNullLogger()
	}

	if cfg.APIEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: deps.Logger,
	}
	s.engine = s.routes()

	// Streaming completions can outlive RequestTimeout by the time the last chunk is written.
	var writeTimeout time.Duration
	if cfg.RequestTimeout > 0 {
		writeTimeout = cfg.RequestTimeout + 30*time.Second
	}
	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       2 * time.Minute,
	}
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.Recovery(s.logger),
		middleware.RequestID(),
		middleware.AccessLog(s.logger),
		middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: s.config.CORSAllowedOrigins,
			AllowedMethods: s.config.CORSAllowedMethods,
			AllowedHeaders: s.config.CORSAllowedHeaders,
			MaxAge:         s.config.CORSMaxAge,
		}),
		s.limitBody(),
	)

	r.GET("/health", s.handleHealth)
	r.POST("/create-user", s.handleCreateUser)
	r.POST("/login", s.handleLogin)
	r.POST("/generate-text", s.requireUser(), s.handleGenerateText)

	r.NoRoute(func(c *gin.Context) {
		abortWithDetail(c, http.StatusNotFound, "Not Found")
	})
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address. It blocks until the server is
// shut down, returning http.ErrServerClosed in that case.
func (s *Server) Start() error {
	s.logger.Info("API server starting",
		zap.String("addr", s.config.ListenAddr),
		zap.String("env", s.config.APIEnv),
		zap.String("version", Version))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server without interrupting active
// connections, waiting until they finish or ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.config.MaxRequestSize > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxRequestSize)
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   Version,
	}
	status := http.StatusOK
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			s.logger.Warn("health check: database unavailable", zap.Error(err))
			resp.Status = "degraded"
			resp.Database = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}
	c.JSON(status, resp)
}

func abortWithDetail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, api.ErrorResponse{Detail: detail})
}
