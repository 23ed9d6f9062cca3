package web

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/sofatutor/brian/internal/client"
	"github.com/sofatutor/brian/internal/frontend"
	"github.com/sofatutor/brian/internal/logging"
	"github.com/sofatutor/brian/internal/session"
	"go.uber.org/zap"
)

// pageData is what the templates render.
type pageData struct {
	Title  string
	Error  string
	Prompt string
	Output string
}

// request bundles the per-request credential slot and navigator.
type request struct {
	sess   sessions.Session
	store  cookieStore
	nav    *redirectNavigator
	guard  *session.Guard
	logger *zap.Logger
}

func (s *Server) request(c *gin.Context) *request {
	sess := sessions.Default(c)
	store := cookieStore{sess: sess}
	nav := &redirectNavigator{}
	logger := logging.FromContext(c.Request.Context(), s.logger)
	return &request{
		sess:   sess,
		store:  store,
		nav:    nav,
		guard:  session.NewGuard(store, nav, logger),
		logger: logger,
	}
}

// flashes pops pending flash messages.
func (r *request) flashes() string {
	msgs := r.sess.Flashes()
	if len(msgs) == 0 {
		return ""
	}
	if err := r.sess.Save(); err != nil {
		r.logger.Warn("failed to save session", zap.Error(err))
	}
	msg, _ := msgs[len(msgs)-1].(string)
	return msg
}

func (r *request) flash(msg string) {
	r.sess.AddFlash(msg)
	if err := r.sess.Save(); err != nil {
		r.logger.Warn("failed to save session", zap.Error(err))
	}
}

func (s *Server) handleLoginForm(c *gin.Context) {
	req := s.request(c)
	c.HTML(http.StatusOK, "login.html", pageData{Title: "Sign In", Error: req.flashes()})
}

func (s *Server) handleLogin(c *gin.Context) {
	req := s.request(c)
	h := frontend.NewLoginHandler(s.api, req.store, req.nav, req.logger)

	res := h.LoginUser(c.Request.Context(), postForm{c})
	if res.OK() {
		req.nav.redirect(c)
		return
	}
	c.HTML(statusFor(res.Err), "login.html", pageData{Title: "Sign In", Error: res.Message})
}

func (s *Server) handleChat(c *gin.Context) {
	req := s.request(c)
	if !req.guard.CheckAuth(c.Request.Context()) {
		req.nav.redirect(c)
		return
	}
	c.HTML(http.StatusOK, "chat.html", pageData{Title: "Chat with Brian", Error: req.flashes()})
}

func (s *Server) handleGenerate(c *gin.Context) {
	req := s.request(c)
	h := frontend.NewGenerateHandler(s.api, req.guard, req.logger)
	h.ExpireOnlyOnUnauthorized = s.config.StrictExpiry

	form := postForm{c}
	res := h.GenerateText(c.Request.Context(), form)
	if res.OK() {
		c.HTML(http.StatusOK, "chat.html", pageData{
			Title:  "Chat with Brian",
			Prompt: form.Value(frontend.FieldPrompt),
			Output: res.Output,
		})
		return
	}
	if req.nav.page != "" {
		req.flash(res.Message)
		req.nav.redirect(c)
		return
	}
	c.HTML(statusFor(res.Err), "chat.html", pageData{
		Title:  "Chat with Brian",
		Prompt: form.Value(frontend.FieldPrompt),
		Error:  res.Message,
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	req := s.request(c)
	if err := req.guard.Logout(c.Request.Context()); err != nil {
		req.logger.Warn("logout failed to clear session", zap.Error(err))
	}
	req.nav.redirect(c)
}

// statusFor mirrors the backend's status for API errors and reports other
// failures as a bad gateway.
func statusFor(err error) int {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 {
		return apiErr.StatusCode
	}
	return http.StatusBadGateway
}
