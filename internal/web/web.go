// Package web serves the server-rendered login and chat pages. The credential
// lives in a signed session cookie and the pages run the same frontend
// handlers as the CLI.
package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/sofatutor/brian/internal/config"
	"github.com/sofatutor/brian/internal/frontend"
	"github.com/sofatutor/brian/internal/middleware"
	"github.com/sofatutor/brian/internal/utils"
	"go.uber.org/zap"
)

// SessionCookieName names the session cookie.
const SessionCookieName = "brian_session"

//go:embed templates/*.html
var templateFS embed.FS

// Server is the web front-end HTTP server.
type Server struct {
	server *http.Server
	engine *gin.Engine
	config *config.WebConfig
	api    frontend.API
	logger *zap.Logger
}

// New creates the web server. An empty session secret is replaced by a random
// one, which logs every user out on restart.
func New(cfg *config.WebConfig, api frontend.API, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if api == nil {
		return nil, fmt.Errorf("api is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	secret := cfg.SessionSecret
	if secret == "" {
		generated, err := utils.GenerateSecureToken(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		secret = generated
		logger.Warn("SESSION_SECRET not set, using a random secret; sessions will not survive a restart")
	}

	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	s := &Server{config: cfg, api: api, logger: logger}

	engine := gin.New()
	engine.Use(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.AccessLog(logger),
		sessions.Sessions(SessionCookieName, store),
	)
	engine.SetHTMLTemplate(tmpl)
	s.engine = engine
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.engine.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusSeeOther, "/chat.html")
	})
	s.engine.GET("/login.html", s.handleLoginForm)
	s.engine.POST("/login.html", s.handleLogin)
	s.engine.GET("/chat.html", s.handleChat)
	s.engine.POST("/chat.html", s.handleGenerate)
	s.engine.POST("/logout", s.handleLogout)
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("web server starting",
		zap.String("addr", s.config.ListenAddr),
		zap.String("api_url", s.config.APIURL))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server without interrupting active connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
