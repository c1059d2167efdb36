package infra

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
)

func TestProcessManager_IsRunning(t *testing.T) {
	pm := NewProcessManager()

	assert.True(t, pm.IsRunning(pm.GetCurrentPID()))
	assert.Equal(t, os.Getpid(), pm.GetCurrentPID())
	assert.False(t, pm.IsRunning(0))
	assert.False(t, pm.IsRunning(-1))
	assert.False(t, pm.IsRunning(1<<22+12345), "pid above pid_max")
}

func TestDaemonLiveness(t *testing.T) {
	pm := NewProcessManager()
	now := time.Unix(1_800_000_000, 0)
	self := os.Getpid()

	tests := []struct {
		name  string
		entry *domain.RegistryEntry
		stale time.Duration
		want  DaemonState
	}{
		{"no entry", nil, time.Minute, DaemonStopped},
		{"dead pid", &domain.RegistryEntry{EnforcerPID: -1, LastHeartbeat: now.Unix()}, time.Minute, DaemonStopped},
		{"fresh heartbeat", &domain.RegistryEntry{EnforcerPID: self, LastHeartbeat: now.Add(-10 * time.Second).Unix()}, time.Minute, DaemonRunning},
		{"old heartbeat", &domain.RegistryEntry{EnforcerPID: self, LastHeartbeat: now.Add(-5 * time.Minute).Unix()}, time.Minute, DaemonStale},
		{"heartbeat check off", &domain.RegistryEntry{EnforcerPID: self}, 0, DaemonRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DaemonLiveness(pm, tt.entry, now, tt.stale))
		})
	}
}
