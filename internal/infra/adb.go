// Package infra implements infrastructure concerns (device transport, storage, process).
package infra

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
)

// Intent flags for the home activity: NEW_TASK | CLEAR_TOP | SINGLE_TOP.
const homeIntentFlags = "0x34000000"

// CommandRunner abstracts command execution for testing
type CommandRunner interface {
	// Output runs a command and returns its combined stdout and stderr.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)

	// Stream starts a long-running command and returns its stdout.
	// The command is killed when ctx is canceled; Close waits for it to exit.
	Stream(ctx context.Context, name string, args ...string) (io.ReadCloser, error)
}

// RealCommandRunner executes real system commands
type RealCommandRunner struct{}

// Output executes a command and returns its output
func (r *RealCommandRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Stream starts a command and returns its stdout pipe
func (r *RealCommandRunner) Stream(ctx context.Context, name string, args ...string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &commandStream{ReadCloser: stdout, cmd: cmd}, nil
}

type commandStream struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (s *commandStream) Close() error {
	_ = s.ReadCloser.Close()
	return s.cmd.Wait()
}

// ADBConfig holds adb connection settings.
type ADBConfig struct {
	Path            string        // adb binary
	Serial          string        // device serial, empty for the only attached device
	HomeComponent   string        // launcher activity, e.g. com.example/.MainActivity
	ConnectAttempts uint          // get-state attempts before giving up
	ConnectDelay    time.Duration // initial backoff between attempts
	ConnectMaxDelay time.Duration // backoff cap
}

// DefaultADBConfig returns default adb configuration.
func DefaultADBConfig() ADBConfig {
	return ADBConfig{
		Path:            "adb",
		ConnectAttempts: 5,
		ConnectDelay:    500 * time.Millisecond,
		ConnectMaxDelay: 5 * time.Second,
	}
}

// ADBDevice talks to an Android device over adb. It implements the engine's
// usage-event source, home navigator and signal source.
type ADBDevice struct {
	config ADBConfig
	runner CommandRunner
	clock  domain.Clock
	logger *zap.Logger
}

// NewADBDevice creates an adb-backed device.
func NewADBDevice(config ADBConfig, clock domain.Clock, logger *zap.Logger) *ADBDevice {
	return NewADBDeviceWithDeps(config, &RealCommandRunner{}, clock, logger)
}

// NewADBDeviceWithDeps creates a device with an injectable runner (for testing)
func NewADBDeviceWithDeps(config ADBConfig, runner CommandRunner, clock domain.Clock, logger *zap.Logger) *ADBDevice {
	if config.Path == "" {
		config.Path = "adb"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ADBDevice{config: config, runner: runner, clock: clock, logger: logger}
}

// WaitForDevice blocks until the device reports state "device", retrying with backoff.
func (d *ADBDevice) WaitForDevice(ctx context.Context) error {
	err := retry.Do(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := d.runner.Output(ctx, d.config.Path, d.args("get-state")...)
		if err != nil {
			return classifyADBError(err, out)
		}
		if state := strings.TrimSpace(string(out)); state != "device" {
			return fmt.Errorf("device state %q", state)
		}
		return nil
	}, retry.Attempts(d.config.ConnectAttempts), retry.Delay(d.config.ConnectDelay), retry.MaxDelay(d.config.ConnectMaxDelay))
	if err != nil {
		return fmt.Errorf("wait for device: %w", err)
	}

	d.logger.Info("device connected", zap.String("serial", d.config.Serial))
	return nil
}

// resumedActivityPattern matches the resumed activity line of `dumpsys activity activities`
// across Android versions (mResumedActivity, topResumedActivity, ResumedActivity).
var resumedActivityPattern = regexp.MustCompile(`(?:mResumedActivity|topResumedActivity|ResumedActivity)[:=]\s*ActivityRecord\{\S+\s+\S+\s+([^\s/}]+)/`)

// QueryForegroundEvents reports the currently resumed activity as one
// move-to-foreground event stamped at end. adb exposes state, not the usage log,
// so start is unused.
func (d *ADBDevice) QueryForegroundEvents(ctx context.Context, start, end time.Time) ([]domain.UsageEvent, error) {
	out, err := d.runner.Output(ctx, d.config.Path, d.args("shell", "dumpsys", "activity", "activities")...)
	if err != nil {
		return nil, classifyADBError(err, out)
	}
	if perr := permissionError(out); perr != nil {
		return nil, perr
	}

	pkg, ok := parseResumedPackage(string(out))
	if !ok {
		return nil, nil
	}
	return []domain.UsageEvent{
		{Package: pkg, Timestamp: end, Kind: domain.UsageMoveToForeground},
	}, nil
}

func parseResumedPackage(dump string) (string, bool) {
	m := resumedActivityPattern.FindStringSubmatch(dump)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// NavigateHome starts the launcher activity as a fresh, top, single instance.
func (d *ADBDevice) NavigateHome(ctx context.Context) error {
	args := []string{"shell", "am", "start"}
	if d.config.HomeComponent != "" {
		args = append(args, "-n", d.config.HomeComponent)
	} else {
		args = append(args, "-a", "android.intent.action.MAIN", "-c", "android.intent.category.HOME")
	}
	args = append(args, "-f", homeIntentFlags)

	out, err := d.runner.Output(ctx, d.config.Path, d.args(args...)...)
	if err != nil {
		return fmt.Errorf("start home activity: %w", classifyADBError(err, out))
	}
	if strings.Contains(string(out), "Error:") {
		return fmt.Errorf("start home activity: %s", strings.TrimSpace(string(out)))
	}
	return nil
}

// TriggerGlobalHome sends the HOME key.
func (d *ADBDevice) TriggerGlobalHome(ctx context.Context) error {
	out, err := d.runner.Output(ctx, d.config.Path, d.args("shell", "input", "keyevent", "KEYCODE_HOME")...)
	if err != nil {
		return fmt.Errorf("home key: %w", classifyADBError(err, out))
	}
	return nil
}

// eventTags maps event-log tags to signal kinds.
var eventTags = map[string]domain.SignalKind{
	"wm_set_resumed_activity": domain.SignalWindowState,
	"am_set_resumed_activity": domain.SignalWindowState,
	"input_focus":             domain.SignalWindowContent,
	"wm_focus_request":        domain.SignalWindowContent,
	"notification_enqueue":    domain.SignalNotification,
	"notification_cancel":     domain.SignalNotification,
	"notification_canceled":   domain.SignalNotification,
}

var (
	eventLinePattern = regexp.MustCompile(`\b([a-z_]+)\s*(?:\(\s*\d+\))?:\s*\[(.*)\]`)
	componentPattern = regexp.MustCompile(`([A-Za-z][\w]*(?:\.[\w]+)+)/`)
)

// Stream follows the device event log and forwards recognized lines as signals.
// It returns when ctx is canceled or the log stream ends.
func (d *ADBDevice) Stream(ctx context.Context, out chan<- domain.Signal) error {
	rc, err := d.runner.Stream(ctx, d.config.Path, d.args("logcat", "-b", "events", "-T", "1")...)
	if err != nil {
		return fmt.Errorf("start logcat: %w", classifyADBError(err, nil))
	}
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		sig, ok := parseEventLine(scanner.Text())
		if !ok {
			continue
		}
		sig.At = d.clock.Now()

		select {
		case out <- sig:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read logcat: %w", err)
	}
	return errors.New("logcat stream ended")
}

// parseEventLine turns one `logcat -b events` line into a signal.
func parseEventLine(line string) (domain.Signal, bool) {
	m := eventLinePattern.FindStringSubmatch(line)
	if m == nil {
		return domain.Signal{}, false
	}
	kind, ok := eventTags[m[1]]
	if !ok {
		return domain.Signal{}, false
	}

	sig := domain.Signal{Kind: kind}
	if kind == domain.SignalNotification {
		// [uid,pid,pkg,id,...]
		if fields := strings.Split(m[2], ","); len(fields) > 2 {
			sig.Package = strings.TrimSpace(fields[2])
		}
		return sig, true
	}

	c := componentPattern.FindStringSubmatch(m[2])
	if c == nil {
		return domain.Signal{}, false
	}
	sig.Package = c[1]
	return sig, true
}

func (d *ADBDevice) args(a ...string) []string {
	if d.config.Serial == "" {
		return a
	}
	return append([]string{"-s", d.config.Serial}, a...)
}

// classifyADBError maps adb failures onto the domain error taxonomy.
func classifyADBError(err error, out []byte) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %v", domain.ErrUnsupported, err)
	}
	if perr := permissionError(out); perr != nil {
		return perr
	}
	if msg := strings.TrimSpace(string(out)); msg != "" {
		return fmt.Errorf("%w: %s", err, msg)
	}
	return err
}

func permissionError(out []byte) error {
	s := string(out)
	if strings.Contains(s, "unauthorized") || strings.Contains(s, "no permissions") {
		return fmt.Errorf("%w: %s", domain.ErrPermissionUnavailable, strings.TrimSpace(s))
	}
	return nil
}

// Ensure ADBDevice implements the device ports.
var (
	_ domain.UsageEventSource = (*ADBDevice)(nil)
	_ domain.HomeNavigator    = (*ADBDevice)(nil)
	_ domain.SignalSource     = (*ADBDevice)(nil)
)
