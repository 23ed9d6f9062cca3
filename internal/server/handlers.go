package server

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sofatutor/brian/internal/api"
	"github.com/sofatutor/brian/internal/audit"
	"github.com/sofatutor/brian/internal/database"
	"github.com/sofatutor/brian/internal/encryption"
	"github.com/sofatutor/brian/internal/logging"
	"go.uber.org/zap"
)

const ctxKeyUsername = "username"

func (s *Server) handleCreateUser(c *gin.Context) {
	var req api.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBinding(c, err)
		return
	}

	hash, err := s.deps.Hasher.Hash(req.Password)
	if err != nil {
		s.log(c).Error("failed to hash password", zap.Error(err))
		abortWithDetail(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	user := &database.User{
		Name:     req.Name,
		Username: req.Username,
		Email:    req.Email,
		Password: hash,
	}
	if err := s.deps.Users.CreateUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, database.ErrUserExists) {
			s.audit(c, audit.NewEvent(audit.ActionUserCreate, req.Username, audit.ResultFailure).WithReason("user exists"))
			abortWithDetail(c, http.StatusBadRequest, "User already exists")
			return
		}
		s.log(c).Error("failed to create user", zap.String("username", req.Username), zap.Error(err))
		abortWithDetail(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	s.log(c).Info("user created", zap.String("username", user.Username), zap.String("user_id", user.ID))
	s.audit(c, audit.NewEvent(audit.ActionUserCreate, user.Username, audit.ResultSuccess).WithDetail("user_id", user.ID))
	c.JSON(http.StatusOK, api.MessageResponse{Message: "User created successfully"})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req api.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBinding(c, err)
		return
	}

	user, err := s.deps.Users.GetUserByUsername(c.Request.Context(), req.Username)
	if err != nil {
		if !errors.Is(err, database.ErrUserNotFound) {
			s.log(c).Error("failed to look up user", zap.Error(err))
			abortWithDetail(c, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		s.log(c).Info("login rejected: unknown user", zap.String("username", req.Username))
		s.audit(c, audit.NewEvent(audit.ActionUserLogin, req.Username, audit.ResultFailure).WithReason("unknown user"))
		abortWithDetail(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if err := s.deps.Hasher.Verify(req.Password, user.Password); err != nil {
		if !errors.Is(err, encryption.ErrHashMismatch) {
			s.log(c).Warn("password verification failed", zap.String("username", user.Username), zap.Error(err))
		}
		s.log(c).Info("login rejected: wrong password", zap.String("username", user.Username))
		s.audit(c, audit.NewEvent(audit.ActionUserLogin, user.Username, audit.ResultFailure).WithReason("wrong password"))
		abortWithDetail(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := s.deps.Issuer.Issue(user.Username)
	if err != nil {
		s.log(c).Error("failed to issue access token", zap.Error(err))
		abortWithDetail(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	s.log(c).Info("login successful", zap.String("username", user.Username))
	s.audit(c, audit.NewEvent(audit.ActionUserLogin, user.Username, audit.ResultSuccess))
	c.JSON(http.StatusOK, api.LoginResponse{
		Message:     "Login successful",
		AccessToken: token,
		TokenType:   api.TokenTypeBearer,
	})
}

// requireUser authenticates the bearer token and stores its subject in the
// gin context and the request context.
func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortWithDetail(c, http.StatusForbidden, "Not authenticated")
			return
		}
		token, err := api.ParseBearer(header)
		if err != nil {
			abortWithDetail(c, http.StatusForbidden, "Not authenticated")
			return
		}
		username, err := s.deps.Issuer.Verify(token)
		if err != nil {
			s.log(c).Info("rejected access token", zap.String("token", api.ObfuscateKey(token)), zap.Error(err))
			s.audit(c, audit.NewEvent(audit.ActionTokenReject, "", audit.ResultFailure).WithToken(token).WithReason(err.Error()))
			abortWithDetail(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		c.Set(ctxKeyUsername, username)
		c.Request = c.Request.WithContext(logging.WithUsername(c.Request.Context(), username))
		c.Next()
	}
}

func (s *Server) handleGenerateText(c *gin.Context) {
	username := c.GetString(ctxKeyUsername)

	var req api.GenerateTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBinding(c, err)
		return
	}

	if !s.allow(c, username) {
		return
	}

	if s.config.MaxPromptTokens > 0 && s.deps.Tokens != nil {
		n, err := s.deps.Tokens.CountTokens(req.Prompt)
		switch {
		case err != nil:
			s.log(c).Warn("failed to count prompt tokens, skipping limit", zap.Error(err))
		case n > s.config.MaxPromptTokens:
			abortWithDetail(c, http.StatusBadRequest,
				fmt.Sprintf("Prompt too long: %d tokens exceeds the limit of %d", n, s.config.MaxPromptTokens))
			return
		}
	}

	if wantsStream(c) {
		s.streamCompletion(c, username, req.Prompt)
		return
	}

	text, err := s.deps.Completer.Complete(c.Request.Context(), username, req.Prompt)
	if err != nil {
		s.log(c).Error("completion failed", zap.Error(err))
		abortWithDetail(c, http.StatusBadGateway, "Text generation failed")
		return
	}
	c.JSON(http.StatusOK, api.GenerateTextResponse{Response: text})
}

// streamCompletion writes deltas as text/plain chunks. Headers are committed
// with the first delta, so an upstream failure before it still yields a 502.
func (s *Server) streamCompletion(c *gin.Context, username, prompt string) {
	started := false
	_, err := s.deps.Completer.Stream(c.Request.Context(), username, prompt, func(delta string) error {
		if !started {
			c.Header("Content-Type", "text/plain; charset=utf-8")
			c.Header("X-Content-Type-Options", "nosniff")
			c.Status(http.StatusOK)
			started = true
		}
		if _, err := c.Writer.WriteString(delta); err != nil {
			return fmt.Errorf("failed to write chunk: %w", err)
		}
		c.Writer.Flush()
		return nil
	})
	if err == nil {
		if !started {
			c.Data(http.StatusOK, "text/plain; charset=utf-8", nil)
		}
		return
	}

	if started {
		s.log(c).Warn("completion stream interrupted", zap.Error(err))
		c.Abort()
		return
	}
	s.log(c).Error("completion failed", zap.Error(err))
	abortWithDetail(c, http.StatusBadGateway, "Text generation failed")
}

func (s *Server) allow(c *gin.Context, username string) bool {
	d, err := s.deps.Limiter.Allow(c.Request.Context(), username)
	if err != nil {
		s.log(c).Error("rate limiter unavailable", zap.Error(err))
		abortWithDetail(c, http.StatusServiceUnavailable, "Rate limiter unavailable")
		return false
	}
	if d.Limit > 0 {
		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
	}
	if !d.Allowed {
		retry := int(math.Ceil(d.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.Itoa(max(retry, 1)))
		s.log(c).Info("rate limit exceeded", zap.Duration("retry_after", d.RetryAfter))
		s.audit(c, audit.NewEvent(audit.ActionRateLimited, username, audit.ResultFailure).WithDetail("limit", d.Limit))
		abortWithDetail(c, http.StatusTooManyRequests, "Rate limit exceeded")
		return false
	}
	return true
}

// wantsStream reports whether the caller asked for a text/plain stream.
func wantsStream(c *gin.Context) bool {
	if v, err := strconv.ParseBool(c.Query("stream")); err == nil {
		return v
	}
	return strings.Contains(c.GetHeader("Accept"), "text/plain")
}

// abortBinding answers a body that could not be decoded: 413 when it was too
// large, 422 otherwise.
func abortBinding(c *gin.Context, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		abortWithDetail(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds %d bytes", maxErr.Limit))
		return
	}
	abortWithDetail(c, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
}

func (s *Server) log(c *gin.Context) *zap.Logger {
	return logging.FromContext(c.Request.Context(), s.logger)
}

// audit records an account event. A failing audit sink never fails the request.
func (s *Server) audit(c *gin.Context, event *audit.Event) {
	if id, ok := logging.RequestIDFromContext(c.Request.Context()); ok {
		event.WithRequestID(id)
	}
	event.WithClientIP(c.ClientIP())
	if err := s.deps.Audit.Log(event); err != nil {
		s.log(c).Warn("failed to write audit event", zap.String("action", event.Action), zap.Error(err))
	}
}
