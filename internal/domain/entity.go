// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// SignalKind identifies which accessibility-style change a signal reports.
type SignalKind string

const (
	SignalWindowState   SignalKind = "window_state"
	SignalWindowContent SignalKind = "window_content"
	SignalNotification  SignalKind = "notification"
)

// Signal is a single change notification delivered to the event-reactive path.
// Package may be empty for notification signals.
type Signal struct {
	Kind    SignalKind
	Package string
	At      time.Time
}

// UsageEventKind mirrors the OS usage-log event types the observer cares about.
type UsageEventKind string

const (
	UsageMoveToForeground UsageEventKind = "move_to_foreground"
	UsageMoveToBackground UsageEventKind = "move_to_background"
)

// UsageEvent is one row of the OS usage/event log.
type UsageEvent struct {
	Package   string
	Timestamp time.Time
	Kind      UsageEventKind
}

// Verdict is the outcome of evaluating a package against the policy.
type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictDeny  Verdict = "deny"
)

// Decision records which classification rule produced a verdict.
type Decision struct {
	Package string
	Verdict Verdict
	Rule    string // name of the matched rule, "whitelist" for the fallback
}

// Allowed is a convenience accessor.
func (d Decision) Allowed() bool { return d.Verdict == VerdictAllow }

// RemediationReason explains why the engine sent the device home.
type RemediationReason string

const (
	ReasonSettings        RemediationReason = "settings"
	ReasonGraceExpired    RemediationReason = "grace_expired"
	ReasonSecondCheck     RemediationReason = "second_check"
	ReasonImmediate       RemediationReason = "immediate"
	ReasonSettingsRecheck RemediationReason = "settings_recheck"
)

// Remediation is a single return-to-home attempt, kept for diagnostics.
type Remediation struct {
	Package string
	Reason  RemediationReason
	At      time.Time
}

// GraceEntry is one tracked package in its grace period.
type GraceEntry struct {
	Package   string
	StartedAt time.Time
	Cycle     uint64
}

// EngineSnapshot is a point-in-time view of the enforcement engine (for status output).
type EngineSnapshot struct {
	SessionID        string       `json:"session_id"`
	Running          bool         `json:"running"`
	Polling          bool         `json:"polling"`
	LastChecked      string       `json:"last_checked,omitempty"`
	InGrace          []GraceEntry `json:"in_grace"`
	LastRemediation  *Remediation `json:"last_remediation,omitempty"`
	RemediationCount int          `json:"remediation_count"`
}

// LauncherSettings are the launcher display preferences owned by parent mode.
type LauncherSettings struct {
	IconSize int
	DockApps []string
}

// DaemonRole identifies the type of daemon process.
type DaemonRole string

const (
	RoleEnforcer DaemonRole = "enforcer"
)

// Daemon represents a running daemon process.
type Daemon struct {
	PID        int
	Role       DaemonRole
	StartedAt  time.Time
	AppVersion string // Version of the app binary
}

// RegistryEntry is the persisted state of the enforcement daemon (for the status command).
type RegistryEntry struct {
	EnforcerPID   int    `json:"enforcer_pid"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	Mode          string `json:"mode,omitempty"` // "user" or "system"
	AppVersion    string `json:"app_version,omitempty"`
}
