package infra

import (
	"os"
	"path/filepath"
)

// ExecMode is how kidguard is installed on the host.
type ExecMode string

const (
	// ExecModeSystem runs the enforcer as a system service owned by root.
	ExecModeSystem ExecMode = "system"
	// ExecModeUser runs it as a per-user service.
	ExecModeUser ExecMode = "user"
)

const (
	systemDataDir = "/var/lib/kidguard"
	userDataDir   = ".kidguard"
	daemonLogName = "kidguard.log"
	fallbackHome  = "."
)

// ExecModeConfig is the on-disk layout for one execution mode.
type ExecModeConfig struct {
	Mode    ExecMode
	DataDir string
	LogPath string
	IsRoot  bool
}

// DetectExecMode picks the layout for the current process.
func DetectExecMode() *ExecModeConfig {
	home, err := os.UserHomeDir()
	if err != nil {
		home = fallbackHome
	}
	return ResolveExecMode(os.Geteuid() == 0, home)
}

// ResolveExecMode returns the layout for root or for the user owning home.
func ResolveExecMode(root bool, home string) *ExecModeConfig {
	if root {
		return layout(ExecModeSystem, systemDataDir, true)
	}
	return layout(ExecModeUser, filepath.Join(home, userDataDir), false)
}

func layout(mode ExecMode, dataDir string, root bool) *ExecModeConfig {
	return &ExecModeConfig{
		Mode:    mode,
		DataDir: dataDir,
		LogPath: DaemonLogPath(dataDir),
		IsRoot:  root,
	}
}

// DaemonLogPath is the default daemon log file inside dataDir.
func DaemonLogPath(dataDir string) string {
	return filepath.Join(dataDir, daemonLogName)
}

// ServiceScope is what `kidguard service` reports for the mode.
func (m ExecMode) ServiceScope() string {
	switch m {
	case ExecModeSystem:
		return "system service"
	case ExecModeUser:
		return "user service"
	}
	return "unknown"
}
