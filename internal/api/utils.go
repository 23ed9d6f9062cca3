package api

import (
	"fmt"
	"strings"
)

// ObfuscateKey obfuscates a sensitive key for display.
func ObfuscateKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// BearerHeader builds the Authorization header value for a credential.
func BearerHeader(token string) string {
	return "Bearer " + token
}

// ParseBearer extracts the credential from an Authorization header value.
// The scheme is matched case-insensitively.
func ParseBearer(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", fmt.Errorf("authorization header is not a bearer credential")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("bearer credential is empty")
	}
	return token, nil
}
