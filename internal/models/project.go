package models

import (
	"encoding/json"
	"time"
)

// HookType selects how a project is notified about finished scans
type HookType string

const (
	HookTypeNone       HookType = "NONE"
	HookTypeEmail      HookType = "EMAIL"
	HookTypeSlack      HookType = "SLACK"
	HookTypeSlackEmail HookType = "SLACK_EMAIL"
)

// WithEmail returns the hook type after an email address is attached
func (t HookType) WithEmail() HookType {
	switch t {
	case HookTypeNone, "":
		return HookTypeEmail
	case HookTypeSlack:
		return HookTypeSlackEmail
	default:
		return t
	}
}

// Project is a tracked repository
type Project struct {
	ID       string          `json:"id"`
	Repo     string          `json:"repo"`
	Name     string          `json:"name"`
	HookType HookType        `json:"hook_type"`
	HookData json.RawMessage `json:"hook_data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HookDataMap decodes HookData into a map, returning an empty map when unset
func (p *Project) HookDataMap() (map[string]any, error) {
	data := map[string]any{}
	if len(p.HookData) == 0 || string(p.HookData) == "null" {
		return data, nil
	}
	if err := json.Unmarshal(p.HookData, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// ProjectUpdate carries the mutable fields of a project.
// Nil fields are left untouched.
type ProjectUpdate struct {
	Name     *string
	HookType *HookType
	HookData json.RawMessage
}

// ScanStatus represents the status of a scan
type ScanStatus string

const (
	ScanStatusPending ScanStatus = "PENDING"
	ScanStatusRunning ScanStatus = "RUNNING"
	ScanStatusDone    ScanStatus = "DONE"
	ScanStatusFailed  ScanStatus = "FAILED"
)

// Scan is a dependency scan requested for a project, usually by a push
type Scan struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Branch    string     `json:"branch"`
	Before    string     `json:"before,omitempty"`
	After     string     `json:"after,omitempty"`
	Source    string     `json:"source"`
	Status    ScanStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
}

// ScanFromHook builds a pending scan for a project from a received Hook
func ScanFromHook(projectID string, hook *Hook) *Scan {
	return &Scan{
		ProjectID: projectID,
		Branch:    hook.BranchName,
		Before:    hook.Before,
		After:     hook.After,
		Source:    string(hook.Provider),
		Status:    ScanStatusPending,
	}
}
