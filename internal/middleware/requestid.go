// Package middleware holds the gin middleware shared by the API server and the
// web front end.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sofatutor/brian/internal/logging"
)

// HeaderRequestID carries the request ID in both directions.
const HeaderRequestID = "X-Request-ID"

const maxRequestIDLen = 128

// RequestID propagates X-Request-ID, generating a UUID when the client sent
// none, and stores it in the request context for logging.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := getOrGenerateID(c.GetHeader(HeaderRequestID))
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// getOrGenerateID returns the provided ID if usable, otherwise a new UUID.
func getOrGenerateID(existing string) string {
	existing = strings.TrimSpace(existing)
	if existing == "" || len(existing) > maxRequestIDLen || strings.ContainsAny(existing, "\r\n") {
		return uuid.New().String()
	}
	return existing
}
