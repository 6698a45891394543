package parsers

import (
	"errors"
	"fmt"

	"github.com/bbva/deeptracy-api/internal/models"
)

// ErrMalformedPayload is the sentinel wrapped by every PayloadError
var ErrMalformedPayload = errors.New("malformed payload")

// PayloadError reports a payload that was detected as a provider's but lacks
// a field that provider's parser requires
type PayloadError struct {
	Provider models.Provider
	Field    string
	Reason   string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("malformed %s payload: %s %s", e.Provider, e.Field, e.Reason)
}

func (e *PayloadError) Unwrap() error {
	return ErrMalformedPayload
}

func missingField(provider models.Provider, field string) *PayloadError {
	return &PayloadError{Provider: provider, Field: field, Reason: "is required"}
}
