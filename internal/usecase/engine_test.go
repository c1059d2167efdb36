package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
	"github.com/eliteGoblin/focusd/kidguard/internal/scheduler"
)

const (
	selfPkg     = "com.humblecoders.kidsafelauncher"
	randomApp   = "com.random.app"
	allowedApp  = "com.allowed.app"
	settingsApp = "com.android.settings"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// mockDevice implements domain.UsageEventSource and domain.HomeNavigator for testing.
// Going home moves the launcher to the front unless stubborn is set.
type mockDevice struct {
	foreground  string
	stubborn    bool
	queryErr    error
	failNext    error // returned by the next query only
	navigations []string // foreground at the time of each NavigateHome
	globalHomes int
}

func (m *mockDevice) QueryForegroundEvents(ctx context.Context, start, end time.Time) ([]domain.UsageEvent, error) {
	if err := m.failNext; err != nil {
		m.failNext = nil
		return nil, err
	}
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	if m.foreground == "" {
		return nil, nil
	}
	return []domain.UsageEvent{
		{Package: m.foreground, Timestamp: end, Kind: domain.UsageMoveToForeground},
	}, nil
}

func (m *mockDevice) NavigateHome(ctx context.Context) error {
	m.navigations = append(m.navigations, m.foreground)
	if !m.stubborn {
		m.foreground = selfPkg
	}
	return nil
}

func (m *mockDevice) TriggerGlobalHome(ctx context.Context) error {
	m.globalHomes++
	return nil
}

// mockPrefs implements domain.PreferenceReader for testing.
type mockPrefs struct {
	kidMode   bool
	whitelist map[string]struct{}
}

func (m *mockPrefs) KidMode() bool                  { return m.kidMode }
func (m *mockPrefs) Whitelist() map[string]struct{} { return m.whitelist }

type harness struct {
	queue  *scheduler.Virtual
	device *mockDevice
	prefs  *mockPrefs
	engine *Engine
}

func newHarness(t *testing.T, mutate ...func(*EngineConfig)) *harness {
	t.Helper()

	cfg := DefaultEngineConfig(selfPkg)
	for _, m := range mutate {
		m(&cfg)
	}

	q := scheduler.NewVirtual(t0)
	dev := &mockDevice{foreground: selfPkg}
	prefs := &mockPrefs{kidMode: true, whitelist: map[string]struct{}{allowedApp: {}}}

	return &harness{
		queue:  q,
		device: dev,
		prefs:  prefs,
		engine: NewEngine(cfg, q, q, prefs, dev, dev, zap.NewNop()),
	}
}

// open simulates the child bringing pkg to the front.
func (h *harness) open(pkg string) {
	h.device.foreground = pkg
	h.engine.HandleSignal(domain.Signal{Kind: domain.SignalWindowState, Package: pkg, At: h.queue.Now()})
	h.queue.RunPending()
}

func (h *harness) signal(kind domain.SignalKind, pkg string) {
	h.engine.HandleSignal(domain.Signal{Kind: kind, Package: pkg, At: h.queue.Now()})
	h.queue.RunPending()
}

func (h *harness) connect() {
	h.engine.ServiceConnected()
	h.queue.RunPending()
}

func (h *harness) navCount() int { return len(h.device.navigations) }

func withoutStartupChecks(c *EngineConfig) { c.StartupChecks = nil }

func withSlowPolling(c *EngineConfig) { c.PollInterval = time.Hour }

func TestEngine_DisallowedAppBlockedAfterGrace(t *testing.T) {
	h := newHarness(t)
	h.connect()

	h.queue.Advance(100 * time.Millisecond)
	h.open(randomApp)

	snap := h.engine.Inspect()
	require.Len(t, snap.InGrace, 1)
	assert.Equal(t, randomApp, snap.InGrace[0].Package)

	h.queue.Advance(1900 * time.Millisecond)
	assert.Equal(t, 0, h.navCount(), "no remediation inside grace period")

	h.queue.Advance(100 * time.Millisecond)
	assert.Equal(t, []string{randomApp}, h.device.navigations)
	assert.Equal(t, 1, h.device.globalHomes)

	h.queue.Advance(3 * time.Second)
	assert.Equal(t, 1, h.navCount(), "second check must not fire once the launcher is back")

	snap = h.engine.Inspect()
	assert.Empty(t, snap.InGrace)
	require.NotNil(t, snap.LastRemediation)
	assert.Equal(t, domain.ReasonGraceExpired, snap.LastRemediation.Reason)
	assert.Equal(t, randomApp, snap.LastRemediation.Package)
}

func TestEngine_SettingsBlockedImmediately(t *testing.T) {
	h := newHarness(t)
	h.connect()

	h.open(settingsApp)
	assert.Equal(t, 1, h.navCount(), "settings must not get a grace period")
	assert.Empty(t, h.engine.Inspect().InGrace)

	h.queue.Advance(100 * time.Millisecond)
	assert.Equal(t, 1, h.navCount(), "confirmation sees the launcher")
}

func TestEngine_SettingsConfirmationBlocksAgain(t *testing.T) {
	h := newHarness(t, withoutStartupChecks)
	h.device.stubborn = true
	h.connect()

	h.open(settingsApp)
	assert.Equal(t, 1, h.navCount())

	h.queue.Advance(99 * time.Millisecond)
	assert.Equal(t, 1, h.navCount())

	h.queue.Advance(time.Millisecond)
	assert.Equal(t, 2, h.navCount())
	assert.Equal(t, domain.ReasonSettingsRecheck, h.engine.Inspect().LastRemediation.Reason)
}

func TestEngine_SettingsConfirmationCatchesOtherSettingsApp(t *testing.T) {
	h := newHarness(t, withoutStartupChecks)
	h.device.stubborn = true
	h.connect()

	h.open(settingsApp)
	h.device.foreground = "com.samsung.android.settings"

	h.queue.Advance(100 * time.Millisecond)
	assert.Equal(t, []string{settingsApp, "com.samsung.android.settings"}, h.device.navigations)
}

func TestEngine_SwitchToAllowedAppDuringGrace(t *testing.T) {
	h := newHarness(t)
	h.connect()

	h.open(randomApp)
	h.queue.Advance(time.Second)
	h.open(allowedApp)

	h.queue.Advance(5 * time.Second)
	assert.Equal(t, 0, h.navCount())
	assert.Empty(t, h.engine.Inspect().InGrace)
}

func TestEngine_StopDuringGraceAbandonsIt(t *testing.T) {
	h := newHarness(t)
	h.connect()

	h.open(randomApp)
	h.queue.Advance(500 * time.Millisecond)

	h.engine.Stop()
	h.prefs.kidMode = false
	h.queue.RunPending()

	snap := h.engine.Inspect()
	assert.False(t, snap.Running)
	assert.False(t, snap.Polling)
	assert.Empty(t, snap.InGrace)
	assert.Empty(t, snap.LastChecked)

	h.queue.Advance(10 * time.Second)
	assert.Equal(t, 0, h.navCount())
	assert.Equal(t, 0, h.queue.Pending())
}

func TestEngine_KidModeOffBeforeGraceCheck(t *testing.T) {
	h := newHarness(t, withSlowPolling)
	h.connect()

	h.open(randomApp)
	h.prefs.kidMode = false

	h.queue.Advance(5 * time.Second)
	assert.Equal(t, 0, h.navCount())
}

func TestEngine_GraceIsIdempotent(t *testing.T) {
	h := newHarness(t, withoutStartupChecks)
	h.connect()

	h.open(randomApp)
	first := h.engine.Inspect().InGrace[0]

	h.queue.Advance(500 * time.Millisecond)
	h.open(randomApp)
	h.queue.Advance(500 * time.Millisecond)
	h.open(randomApp)

	snap := h.engine.Inspect()
	require.Len(t, snap.InGrace, 1)
	assert.Equal(t, first, snap.InGrace[0])

	h.queue.Advance(5 * time.Second)
	assert.Equal(t, 1, h.navCount())
}

func TestEngine_GraceCheckStaleWhenForegroundChanged(t *testing.T) {
	h := newHarness(t, withSlowPolling, withoutStartupChecks)
	h.connect()

	h.open(randomApp)
	// Leaves without any further signal reaching the engine.
	h.device.foreground = selfPkg

	h.queue.Advance(5 * time.Second)
	assert.Equal(t, 0, h.navCount())
	assert.Empty(t, h.engine.Inspect().InGrace)
}

func TestEngine_WhitelistedDuringGrace(t *testing.T) {
	h := newHarness(t, withSlowPolling)
	h.connect()

	h.open(randomApp)
	h.prefs.whitelist = map[string]struct{}{randomApp: {}}

	h.queue.Advance(5 * time.Second)
	assert.Equal(t, 0, h.navCount())
}

func TestEngine_SecondCheckBlocksAgain(t *testing.T) {
	h := newHarness(t, withSlowPolling, withoutStartupChecks)
	h.device.stubborn = true
	h.connect()

	h.open(randomApp)
	h.queue.Advance(2 * time.Second)
	assert.Equal(t, 1, h.navCount())

	h.queue.Advance(500 * time.Millisecond)
	assert.Equal(t, 2, h.navCount())
	assert.Equal(t, domain.ReasonSecondCheck, h.engine.Inspect().LastRemediation.Reason)

	h.queue.Advance(5 * time.Second)
	assert.Equal(t, 2, h.navCount(), "only one secondary check per grace cycle")
}

func TestEngine_DedupRapidWindowEvents(t *testing.T) {
	h := newHarness(t, withoutStartupChecks)
	h.connect()

	h.open(randomApp)
	h.open(randomApp)
	h.open(randomApp)

	assert.Len(t, h.engine.Inspect().InGrace, 1)
}

func TestEngine_ContentChangeChecksImmediately(t *testing.T) {
	h := newHarness(t, withoutStartupChecks)
	h.connect()

	h.device.foreground = randomApp
	h.signal(domain.SignalWindowContent, randomApp)

	assert.Equal(t, 1, h.navCount())
	assert.Equal(t, domain.ReasonImmediate, h.engine.Inspect().LastRemediation.Reason)
}

func TestEngine_ContentChangeIgnoredWhenNotForeground(t *testing.T) {
	h := newHarness(t, withoutStartupChecks)
	h.connect()

	h.device.foreground = allowedApp
	h.signal(domain.SignalWindowContent, randomApp)

	assert.Equal(t, 0, h.navCount())
}

func TestEngine_ContentChangeRespectsGrace(t *testing.T) {
	h := newHarness(t, withoutStartupChecks)
	h.connect()

	h.open(randomApp)
	h.signal(domain.SignalWindowContent, randomApp)

	assert.Equal(t, 0, h.navCount())
}

func TestEngine_NotificationChecksAfterSettle(t *testing.T) {
	h := newHarness(t, withoutStartupChecks)
	h.connect()

	h.signal(domain.SignalNotification, "")
	h.device.foreground = randomApp

	h.queue.Advance(299 * time.Millisecond)
	assert.Equal(t, 0, h.navCount())

	h.queue.Advance(time.Millisecond)
	assert.Equal(t, 1, h.navCount())
}

func TestEngine_NotificationAllowedApp(t *testing.T) {
	h := newHarness(t, withoutStartupChecks)
	h.connect()

	h.signal(domain.SignalNotification, "")
	h.device.foreground = allowedApp

	h.queue.Advance(time.Second)
	assert.Equal(t, 0, h.navCount())
}

func TestEngine_PollingDetectsAppWithoutSignals(t *testing.T) {
	h := newHarness(t, withoutStartupChecks)
	h.connect()
	assert.True(t, h.engine.Inspect().Polling)

	h.device.foreground = randomApp

	h.queue.Advance(time.Second)
	snap := h.engine.Inspect()
	require.Len(t, snap.InGrace, 1)
	assert.Equal(t, randomApp, snap.LastChecked)
	assert.Equal(t, 0, h.navCount())

	h.queue.Advance(2 * time.Second)
	assert.Equal(t, 1, h.navCount())
}

func TestEngine_PollRetriesAfterFailedGraceCheck(t *testing.T) {
	h := newHarness(t, withoutStartupChecks)
	h.connect()
	h.device.foreground = randomApp

	h.queue.Advance(2 * time.Second)
	require.Len(t, h.engine.Inspect().InGrace, 1)

	// The grace check at +3s runs before that tick's poll and gets the failure.
	h.device.failNext = errors.New("dumpsys timed out")
	h.queue.Advance(time.Second)
	assert.Nil(t, h.device.failNext)
	assert.Equal(t, 0, h.navCount())
	require.Len(t, h.engine.Inspect().InGrace, 1, "poll restarts grace for the app still in front")

	h.queue.Advance(2 * time.Second)
	assert.Equal(t, []string{randomApp}, h.device.navigations)
	assert.Equal(t, domain.ReasonGraceExpired, h.engine.Inspect().LastRemediation.Reason)
}

func TestEngine_PollCatchesRevokedApp(t *testing.T) {
	h := newHarness(t, withoutStartupChecks)
	h.connect()
	h.device.foreground = randomApp

	h.queue.Advance(time.Second)
	require.Len(t, h.engine.Inspect().InGrace, 1)
	h.prefs.whitelist = map[string]struct{}{allowedApp: {}, randomApp: {}}

	h.queue.Advance(3 * time.Second)
	assert.Equal(t, 0, h.navCount(), "allowed when the grace check ran")
	assert.Empty(t, h.engine.Inspect().InGrace)

	h.prefs.whitelist = map[string]struct{}{allowedApp: {}}
	h.queue.Advance(time.Second)
	require.Len(t, h.engine.Inspect().InGrace, 1)

	h.queue.Advance(2 * time.Second)
	assert.Equal(t, []string{randomApp}, h.device.navigations)
}

func TestEngine_PollingBlocksSettings(t *testing.T) {
	h := newHarness(t, withoutStartupChecks)
	h.connect()

	h.device.foreground = settingsApp
	h.queue.Advance(time.Second)

	assert.Equal(t, 1, h.navCount())
	assert.Equal(t, domain.ReasonSettings, h.engine.Inspect().LastRemediation.Reason)
}

func TestEngine_PollOnLauncherClearsGrace(t *testing.T) {
	h := newHarness(t, withoutStartupChecks)
	h.connect()

	h.open(randomApp)
	h.device.foreground = selfPkg

	h.queue.Advance(time.Second)
	assert.Empty(t, h.engine.Inspect().InGrace)
}

func TestEngine_StartupCheckFindsOpenApp(t *testing.T) {
	h := newHarness(t, withSlowPolling)
	h.device.foreground = randomApp
	h.connect()

	h.queue.Advance(500 * time.Millisecond)
	require.Len(t, h.engine.Inspect().InGrace, 1)

	h.queue.Advance(2 * time.Second)
	assert.Equal(t, 1, h.navCount())
}

func TestEngine_StartRunsStartupChecks(t *testing.T) {
	h := newHarness(t, withSlowPolling)
	h.device.foreground = randomApp
	h.engine.Start()
	h.queue.RunPending()

	h.queue.Advance(500 * time.Millisecond)
	require.Len(t, h.engine.Inspect().InGrace, 1)

	h.queue.Advance(2 * time.Second)
	assert.Equal(t, 1, h.navCount())
}

func TestEngine_StartupCheckSettingsRechecks(t *testing.T) {
	h := newHarness(t, withSlowPolling)
	h.device.foreground = settingsApp
	h.device.stubborn = true
	h.connect()

	h.queue.Advance(500 * time.Millisecond)
	assert.Equal(t, 1, h.navCount())

	h.queue.Advance(100 * time.Millisecond)
	assert.Equal(t, 2, h.navCount())
}

func TestEngine_KidModeOffIgnoresEverything(t *testing.T) {
	h := newHarness(t)
	h.prefs.kidMode = false
	h.connect()

	assert.False(t, h.engine.Inspect().Polling)

	h.open(randomApp)
	h.open(settingsApp)
	h.queue.Advance(10 * time.Second)

	assert.Equal(t, 0, h.navCount())
}

func TestEngine_SignalsBeforeStartIgnored(t *testing.T) {
	h := newHarness(t)

	h.open(randomApp)
	h.queue.Advance(5 * time.Second)

	assert.Equal(t, 0, h.navCount())
	assert.False(t, h.engine.Inspect().Running)
}

func TestEngine_UnknownForegroundNeverBlocks(t *testing.T) {
	h := newHarness(t)
	h.device.queryErr = domain.ErrPermissionUnavailable
	h.connect()

	h.open(randomApp)
	h.queue.Advance(5 * time.Second)

	assert.Equal(t, 0, h.navCount())
}

func TestEngine_WindowStateStartsPolling(t *testing.T) {
	h := newHarness(t, withoutStartupChecks)
	h.prefs.kidMode = false
	h.connect()
	assert.False(t, h.engine.Inspect().Polling)

	h.prefs.kidMode = true
	h.open(allowedApp)

	assert.True(t, h.engine.Inspect().Polling)
}

func TestEngine_RestartResetsState(t *testing.T) {
	h := newHarness(t)
	h.connect()
	first := h.engine.Inspect().SessionID
	require.NotEmpty(t, first)

	h.open(randomApp)
	h.engine.Start()
	h.queue.RunPending()

	snap := h.engine.Inspect()
	assert.Empty(t, snap.InGrace)
	assert.NotEqual(t, first, snap.SessionID)

	h.queue.Advance(1500 * time.Millisecond)
	assert.Equal(t, 0, h.navCount(), "grace check from the previous session must not fire")
}

func TestEngine_SnapshotOnLoop(t *testing.T) {
	loop := scheduler.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	dev := &mockDevice{foreground: selfPkg}
	prefs := &mockPrefs{kidMode: true}
	e := NewEngine(DefaultEngineConfig(selfPkg), loop, scheduler.SystemClock{}, prefs, dev, dev, zap.NewNop())

	e.ServiceConnected()
	snap, err := e.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Running)
	assert.True(t, snap.Polling)
	assert.NotEmpty(t, snap.SessionID)

	e.ServiceDestroyed()
	snap, err = e.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, snap.Running)
}
