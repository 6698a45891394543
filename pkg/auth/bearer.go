package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

// VerifyBearerToken verifies the bearer token in the Authorization header
func VerifyBearerToken(header http.Header, expectedToken string) error {
	authHeader := header.Get("Authorization")
	if authHeader == "" {
		return fmt.Errorf("missing Authorization header")
	}

	// Parse bearer token (format: "Bearer <token>")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid Authorization header format")
	}

	scheme := parts[0]
	token := parts[1]

	if !strings.EqualFold(scheme, "Bearer") {
		return fmt.Errorf("invalid authorization scheme: %s", scheme)
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
		return fmt.Errorf("invalid bearer token")
	}

	return nil
}
