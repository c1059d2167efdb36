package domain

import (
	"context"
	"time"
)

// Clock supplies the current time. The engine never calls time.Now directly
// so simulations can run on virtual time.
type Clock interface {
	Now() time.Time
}

// PreferenceReader is the read side of the parent-mode settings, as seen by the engine.
// Reads never fail: implementations fall back to false / empty set.
type PreferenceReader interface {
	// KidMode reports whether kid mode is active.
	KidMode() bool

	// Whitelist returns the set of explicitly allowed package ids.
	Whitelist() map[string]struct{}
}

// PreferenceStore is the full parent-mode settings store.
// Implementation: SQLCipher encrypted database.
type PreferenceStore interface {
	PreferenceReader

	// SetKidMode persists the kid-mode flag.
	SetKidMode(enabled bool) error

	// AddToWhitelist allows a package.
	AddToWhitelist(pkg string) error

	// RemoveFromWhitelist revokes a package.
	RemoveFromWhitelist(pkg string) error

	// VerifyPin checks a parent PIN against the stored hash.
	VerifyPin(pin string) (bool, error)

	// SetPin replaces the parent PIN.
	SetPin(pin string) error

	// LauncherSettings returns icon size and dock layout.
	LauncherSettings() (LauncherSettings, error)

	// SaveLauncherSettings persists icon size and dock layout.
	SaveLauncherSettings(settings LauncherSettings) error
}

// UsageEventSource queries the OS usage/event log.
// Returns ErrPermissionUnavailable or ErrUnsupported when the log cannot be read;
// any other error is treated as a transient failure.
type UsageEventSource interface {
	QueryForegroundEvents(ctx context.Context, start, end time.Time) ([]UsageEvent, error)
}

// HomeNavigator performs the two halves of "return to home".
type HomeNavigator interface {
	// NavigateHome starts the restricted home activity (fresh, top, single instance).
	NavigateHome(ctx context.Context) error

	// TriggerGlobalHome performs the OS "go to home screen" action.
	TriggerGlobalHome(ctx context.Context) error
}

// SignalSource streams change signals from the device until ctx is canceled.
type SignalSource interface {
	Stream(ctx context.Context, out chan<- Signal) error
}

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// DaemonRegistry records the running enforcement daemon.
type DaemonRegistry interface {
	// Register saves the daemon's PID.
	Register(daemon Daemon) error

	// UpdateHeartbeat updates timestamp for liveness check.
	UpdateHeartbeat(role DaemonRole) error

	// GetAll returns registry state (for status command).
	GetAll() (*RegistryEntry, error)

	// Clear removes daemon state (for clean restart).
	Clear() error
}

// KeyProvider abstracts the source of the database encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
