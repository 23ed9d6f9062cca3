package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/sofatutor/brian/internal/session"
)

// cookieStore keeps the credential in the request's cookie session. Every
// change is saved immediately so the Set-Cookie header precedes the body.
type cookieStore struct {
	sess sessions.Session
}

var _ session.Store = cookieStore{}

func (s cookieStore) Get(context.Context) (string, error) {
	token, ok := s.sess.Get(session.StorageKey).(string)
	if !ok || token == "" {
		return "", session.ErrNoCredential
	}
	return token, nil
}

func (s cookieStore) Set(_ context.Context, token string) error {
	s.sess.Set(session.StorageKey, token)
	if err := s.sess.Save(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s cookieStore) Clear(context.Context) error {
	s.sess.Delete(session.StorageKey)
	if err := s.sess.Save(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// redirectNavigator records the last requested page; the handler turns it
// into a 303 once the frontend handler returns.
type redirectNavigator struct {
	page session.Page
}

func (n *redirectNavigator) Navigate(page session.Page) {
	n.page = page
}

func (n *redirectNavigator) redirect(c *gin.Context) bool {
	if n.page == "" {
		return false
	}
	c.Redirect(http.StatusSeeOther, "/"+string(n.page))
	return true
}

// postForm reads submitted form fields.
type postForm struct {
	c *gin.Context
}

func (f postForm) Value(field string) string {
	return f.c.PostForm(field)
}
