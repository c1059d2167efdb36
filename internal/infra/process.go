package infra

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
)

// DaemonState is what the status command can tell about the enforcer.
type DaemonState string

const (
	DaemonStopped DaemonState = "stopped"
	DaemonRunning DaemonState = "running"
	// DaemonStale means the pid is alive but heartbeats stopped, e.g. the pid was reused.
	DaemonStale DaemonState = "stale"
)

// ProcessManagerImpl checks host processes with gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager returns the gopsutil-backed process manager.
func NewProcessManager() *ProcessManagerImpl {
	return &ProcessManagerImpl{}
}

// IsRunning reports whether pid is a live process.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	return err == nil && exists
}

// GetCurrentPID returns this process's pid.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

// DaemonLiveness classifies a registry entry. A heartbeat older than staleAfter
// on a live pid counts as stale; staleAfter <= 0 skips the heartbeat check.
func DaemonLiveness(pm domain.ProcessManager, entry *domain.RegistryEntry, now time.Time, staleAfter time.Duration) DaemonState {
	if entry == nil || !pm.IsRunning(entry.EnforcerPID) {
		return DaemonStopped
	}
	if staleAfter > 0 && now.Sub(time.Unix(entry.LastHeartbeat, 0)) > staleAfter {
		return DaemonStale
	}
	return DaemonRunning
}

var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
