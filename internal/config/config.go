// Package config loads kidguard settings from file, environment and flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/kidguard/internal/infra"
	"github.com/eliteGoblin/focusd/kidguard/internal/usecase"
)

const (
	// DefaultSelfPackage is the package id of the restricted launcher.
	DefaultSelfPackage = "com.humblecoders.kidsafelauncher"
	// EnvPrefix prefixes environment overrides, e.g. KIDGUARD_ENGINE_GRACE_PERIOD.
	EnvPrefix = "KIDGUARD"
	// FileName is the config file name without extension.
	FileName = "kidguard"
)

// Config is the complete kidguard configuration.
type Config struct {
	DataDir string       `mapstructure:"data_dir"`
	Device  DeviceConfig `mapstructure:"device"`
	Engine  EngineConfig `mapstructure:"engine"`
	Daemon  DaemonConfig `mapstructure:"daemon"`
	Log     LogConfig    `mapstructure:"log"`
}

// DeviceConfig selects and tunes the adb transport.
type DeviceConfig struct {
	ADBPath         string        `mapstructure:"adb_path"`
	Serial          string        `mapstructure:"serial"`
	HomeComponent   string        `mapstructure:"home_component"`
	SelfPackage     string        `mapstructure:"self_package"`
	ConnectAttempts uint          `mapstructure:"connect_attempts"`
	ConnectDelay    time.Duration `mapstructure:"connect_delay"`
	ConnectMaxDelay time.Duration `mapstructure:"connect_max_delay"`
}

// EngineConfig holds enforcement timings.
type EngineConfig struct {
	GracePeriod             time.Duration   `mapstructure:"grace_period"`
	SecondCheckDelay        time.Duration   `mapstructure:"second_check_delay"`
	SettingsRecheckDelay    time.Duration   `mapstructure:"settings_recheck_delay"`
	StartupSettingsRechecks []time.Duration `mapstructure:"startup_settings_rechecks"`
	PollInterval            time.Duration   `mapstructure:"poll_interval"`
	NotificationSettle      time.Duration   `mapstructure:"notification_settle"`
	DedupTTL                time.Duration   `mapstructure:"dedup_ttl"`
	UsageWindow             time.Duration   `mapstructure:"usage_window"`
	StartupChecks           []time.Duration `mapstructure:"startup_checks"`
	ActionTimeout           time.Duration   `mapstructure:"action_timeout"`
}

// DaemonConfig tunes the long-running enforcer.
type DaemonConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	SignalRetryDelay  time.Duration `mapstructure:"signal_retry_delay"`
	StatusAddr        string        `mapstructure:"status_addr"` // empty disables the status server
}

// LogConfig controls daemon logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"` // empty means <data_dir>/kidguard.log
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	mode := infra.DetectExecMode()
	adb := infra.DefaultADBConfig()
	eng := usecase.DefaultEngineConfig(DefaultSelfPackage)

	return &Config{
		DataDir: mode.DataDir,
		Device: DeviceConfig{
			ADBPath:         adb.Path,
			SelfPackage:     DefaultSelfPackage,
			ConnectAttempts: adb.ConnectAttempts,
			ConnectDelay:    adb.ConnectDelay,
			ConnectMaxDelay: adb.ConnectMaxDelay,
		},
		Engine: EngineConfig{
			GracePeriod:             eng.GracePeriod,
			SecondCheckDelay:        eng.SecondCheckDelay,
			SettingsRecheckDelay:    eng.SettingsRecheckDelay,
			StartupSettingsRechecks: eng.StartupSettingsRechecks,
			PollInterval:            eng.PollInterval,
			NotificationSettle:      eng.NotificationSettle,
			DedupTTL:                eng.DedupTTL,
			UsageWindow:             eng.UsageWindow,
			StartupChecks:           eng.StartupChecks,
			ActionTimeout:           eng.ActionTimeout,
		},
		Daemon: DaemonConfig{
			HeartbeatInterval: 30 * time.Second,
			ReconcileInterval: 5 * time.Second,
			SignalRetryDelay:  2 * time.Second,
			StatusAddr:        "127.0.0.1:9466",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// SetDefaults registers every key with its default so that environment
// overrides and Unmarshal see the full key set.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("data_dir", d.DataDir)

	v.SetDefault("device.adb_path", d.Device.ADBPath)
	v.SetDefault("device.serial", d.Device.Serial)
	v.SetDefault("device.home_component", d.Device.HomeComponent)
	v.SetDefault("device.self_package", d.Device.SelfPackage)
	v.SetDefault("device.connect_attempts", d.Device.ConnectAttempts)
	v.SetDefault("device.connect_delay", d.Device.ConnectDelay)
	v.SetDefault("device.connect_max_delay", d.Device.ConnectMaxDelay)

	v.SetDefault("engine.grace_period", d.Engine.GracePeriod)
	v.SetDefault("engine.second_check_delay", d.Engine.SecondCheckDelay)
	v.SetDefault("engine.settings_recheck_delay", d.Engine.SettingsRecheckDelay)
	v.SetDefault("engine.startup_settings_rechecks", d.Engine.StartupSettingsRechecks)
	v.SetDefault("engine.poll_interval", d.Engine.PollInterval)
	v.SetDefault("engine.notification_settle", d.Engine.NotificationSettle)
	v.SetDefault("engine.dedup_ttl", d.Engine.DedupTTL)
	v.SetDefault("engine.usage_window", d.Engine.UsageWindow)
	v.SetDefault("engine.startup_checks", d.Engine.StartupChecks)
	v.SetDefault("engine.action_timeout", d.Engine.ActionTimeout)

	v.SetDefault("daemon.heartbeat_interval", d.Daemon.HeartbeatInterval)
	v.SetDefault("daemon.reconcile_interval", d.Daemon.ReconcileInterval)
	v.SetDefault("daemon.signal_retry_delay", d.Daemon.SignalRetryDelay)
	v.SetDefault("daemon.status_addr", d.Daemon.StatusAddr)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
}

// Setup points v at the config file and the KIDGUARD_ environment.
// An empty file means kidguard.yaml in the working directory or dataDir.
func Setup(v *viper.Viper, file, dataDir string) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dataDir != "" {
			v.AddConfigPath(dataDir)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
}

// Load reads configuration from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills fields that must never be empty.
func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.DataDir == "" {
		cfg.DataDir = d.DataDir
	}
	if cfg.Device.ADBPath == "" {
		cfg.Device.ADBPath = d.Device.ADBPath
	}
	if cfg.Device.SelfPackage == "" {
		cfg.Device.SelfPackage = d.Device.SelfPackage
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.File == "" {
		cfg.Log.File = infra.DaemonLogPath(cfg.DataDir)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Device.SelfPackage == "" {
		return fmt.Errorf("device.self_package is required")
	}

	positive := map[string]time.Duration{
		"engine.grace_period":           c.Engine.GracePeriod,
		"engine.second_check_delay":     c.Engine.SecondCheckDelay,
		"engine.settings_recheck_delay": c.Engine.SettingsRecheckDelay,
		"engine.poll_interval":          c.Engine.PollInterval,
		"engine.usage_window":           c.Engine.UsageWindow,
		"engine.action_timeout":         c.Engine.ActionTimeout,
		"daemon.heartbeat_interval":     c.Daemon.HeartbeatInterval,
		"daemon.reconcile_interval":     c.Daemon.ReconcileInterval,
	}
	for key, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	if c.Engine.NotificationSettle < 0 || c.Engine.DedupTTL < 0 {
		return fmt.Errorf("engine.notification_settle and engine.dedup_ttl must not be negative")
	}
	for _, d := range append(append([]time.Duration{}, c.Engine.StartupChecks...), c.Engine.StartupSettingsRechecks...) {
		if d < 0 {
			return fmt.Errorf("startup delays must not be negative, got %s", d)
		}
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	return nil
}

// EngineConfig converts to the engine's configuration.
func (c *Config) EngineConfig() usecase.EngineConfig {
	return usecase.EngineConfig{
		SelfPackage:             c.Device.SelfPackage,
		GracePeriod:             c.Engine.GracePeriod,
		SecondCheckDelay:        c.Engine.SecondCheckDelay,
		SettingsRecheckDelay:    c.Engine.SettingsRecheckDelay,
		StartupSettingsRechecks: c.Engine.StartupSettingsRechecks,
		PollInterval:            c.Engine.PollInterval,
		NotificationSettle:      c.Engine.NotificationSettle,
		DedupTTL:                c.Engine.DedupTTL,
		UsageWindow:             c.Engine.UsageWindow,
		StartupChecks:           c.Engine.StartupChecks,
		ActionTimeout:           c.Engine.ActionTimeout,
	}
}

// ADBConfig converts to the adb transport configuration.
func (c *Config) ADBConfig() infra.ADBConfig {
	return infra.ADBConfig{
		Path:            c.Device.ADBPath,
		Serial:          c.Device.Serial,
		HomeComponent:   c.Device.HomeComponent,
		ConnectAttempts: c.Device.ConnectAttempts,
		ConnectDelay:    c.Device.ConnectDelay,
		ConnectMaxDelay: c.Device.ConnectMaxDelay,
	}
}
