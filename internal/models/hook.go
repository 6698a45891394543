package models

import (
	"fmt"
)

// Provider identifies the source-control service a webhook came from
type Provider string

const (
	ProviderBitbucket Provider = "bitbucket"
	ProviderGitHub    Provider = "github"
)

// Providers lists every supported provider in detection order
var Providers = []Provider{ProviderBitbucket, ProviderGitHub}

// Valid reports whether p is a supported provider
func (p Provider) Valid() bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}

// ParseProvider converts a configuration string into a Provider
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	if !p.Valid() {
		return "", fmt.Errorf("unsupported provider: %s", s)
	}
	return p, nil
}

// Hook is the canonical representation of a push to one branch.
// A single webhook delivery yields at most one Hook per branch.
type Hook struct {
	Provider Provider `json:"provider"`

	// Repository identity
	RepoName string `json:"repo_name"`
	RepoURL  string `json:"repo_url"`

	// Branch identity
	RefName    string `json:"ref_name"`
	BranchName string `json:"branch_name"`

	// Commit range covered by the push
	Before string `json:"before"`
	After  string `json:"after"`
}

// NewHook creates an empty Hook for the given provider
func NewHook(provider Provider) *Hook {
	return &Hook{Provider: provider}
}

// Key returns the provider/branch pair identifying this Hook within a delivery
func (h *Hook) Key() string {
	return fmt.Sprintf("%s/%s", h.Provider, h.BranchName)
}

// HeadsRef builds the full ref path for a branch
func HeadsRef(branch string) string {
	return "refs/heads/" + branch
}

// ParentOf returns git parent notation for a commit (commit^1)
func ParentOf(commit string) string {
	return commit + "^1"
}
