package models

// HookParser defines the interface for turning a provider payload into Hooks
type HookParser interface {
	// Provider returns the provider this parser handles
	Provider() Provider

	// Detect reports whether the payload has this provider's shape
	Detect(payload []byte) bool

	// Parse extracts one Hook per affected branch from the payload.
	// Callers must only invoke Parse on payloads accepted by Detect.
	Parse(payload []byte) ([]*Hook, error)
}
