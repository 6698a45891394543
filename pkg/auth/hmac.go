package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// VerifyHMAC verifies the sha256 HMAC signature of a webhook body
func VerifyHMAC(header http.Header, body []byte, secret string) error {
	signature := header.Get("X-Hub-Signature-256")
	if signature == "" {
		// Try alternative header names
		signature = header.Get("X-Signature")
		if signature == "" {
			return fmt.Errorf("missing HMAC signature header")
		}
	}

	// Parse signature (format: "sha256=<hex>")
	parts := strings.SplitN(signature, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid signature format")
	}

	algorithm := parts[0]
	if algorithm != "sha256" {
		return fmt.Errorf("unsupported signature algorithm: %s", algorithm)
	}

	provided, err := hex.DecodeString(parts[1])
	if err != nil {
		return fmt.Errorf("invalid signature hex encoding: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	if !hmac.Equal(provided, mac.Sum(nil)) {
		return fmt.Errorf("HMAC signature mismatch")
	}

	return nil
}

// SignHMAC returns the X-Hub-Signature-256 value for body
func SignHMAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
