package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
	"github.com/eliteGoblin/focusd/kidguard/internal/policy"
	"github.com/eliteGoblin/focusd/kidguard/internal/scheduler"
)

// EngineConfig holds enforcement timings.
type EngineConfig struct {
	SelfPackage             string          // Package id of the restricted launcher
	GracePeriod             time.Duration   // Buffer before a disallowed app is blocked
	SecondCheckDelay        time.Duration   // Safety-net check after a grace-expired block
	SettingsRecheckDelay    time.Duration   // Confirmation after blocking a settings app
	StartupSettingsRechecks []time.Duration // Confirmations after a settings app is found at startup
	PollInterval            time.Duration   // Polling path tick
	NotificationSettle      time.Duration   // Wait after a notification change before checking
	DedupTTL                time.Duration   // Window-state events for the same package are ignored within this
	UsageWindow             time.Duration   // Trailing window of the usage-log query
	StartupChecks           []time.Duration // Foreground checks after start, relative to start
	ActionTimeout           time.Duration   // Bound on a single device query or home action
}

// DefaultEngineConfig returns default engine configuration.
func DefaultEngineConfig(selfPackage string) EngineConfig {
	return EngineConfig{
		SelfPackage:             selfPackage,
		GracePeriod:             2 * time.Second,
		SecondCheckDelay:        500 * time.Millisecond,
		SettingsRecheckDelay:    100 * time.Millisecond,
		StartupSettingsRechecks: []time.Duration{100 * time.Millisecond, 500 * time.Millisecond},
		PollInterval:            time.Second,
		NotificationSettle:      300 * time.Millisecond,
		DedupTTL:                300 * time.Millisecond,
		UsageWindow:             2 * time.Second,
		StartupChecks:           []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond},
		ActionTimeout:           3 * time.Second,
	}
}

// checkMode selects how a detection path treats a disallowed package.
type checkMode int

const (
	modeWindowState checkMode = iota // grace period, one settings recheck
	modePoll                         // grace period, no settings recheck
	modeImmediate                    // no grace period
	modeStartup                      // grace period, startup settings rechecks
)

func (m checkMode) usesGrace() bool { return m != modeImmediate }

type taskKind int

const (
	taskPoll taskKind = iota
	taskGraceCheck
	taskSecondCheck
	taskSettingsRecheck
	taskNotificationSettled
	taskStartupCheck
)

// deferred is a scheduled re-entry into the engine. It carries everything the task
// needs; the engine re-reads the world when it runs.
type deferred struct {
	kind  taskKind
	pkg   string
	epoch uint64 // engine generation the task was issued in
	cycle uint64 // grace cycle, for taskGraceCheck
}

// Engine is the foreground enforcement engine. Both detection paths (signals and
// polling) feed one evaluate step, and all state below is owned by the queue goroutine.
//
// Public methods are safe to call from any goroutine: they post to the queue.
type Engine struct {
	cfg        EngineConfig
	queue      scheduler.Queue
	clock      domain.Clock
	prefs      domain.PreferenceReader
	evaluator  *policy.Evaluator
	observer   *ForegroundObserver
	remediator *Remediator
	logger     *zap.Logger

	running          bool
	polling          bool
	epoch            uint64
	sessionID        string
	grace            *GraceTracker
	recent           *recentSet
	lastChecked      string
	lastRemediation  *domain.Remediation
	remediationCount int
	onRemediation    func(domain.Remediation)
}

// NewEngine creates an engine. It does nothing until Start or ServiceConnected.
func NewEngine(
	cfg EngineConfig,
	queue scheduler.Queue,
	clock domain.Clock,
	prefs domain.PreferenceReader,
	events domain.UsageEventSource,
	nav domain.HomeNavigator,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		queue:      queue,
		clock:      clock,
		prefs:      prefs,
		evaluator:  policy.NewEvaluator(cfg.SelfPackage),
		observer:   NewForegroundObserver(events, clock, cfg.UsageWindow, logger),
		remediator: NewRemediator(nav, clock, logger),
		logger:     logger,
		grace:      NewGraceTracker(),
		recent:     newRecentSet(cfg.DedupTTL),
	}
}

// OnRemediation registers fn to run on the queue goroutine after every
// return-to-home. Call it before the engine starts.
func (e *Engine) OnRemediation(fn func(domain.Remediation)) { e.onRemediation = fn }

// Start begins enforcement (kid mode enabled).
func (e *Engine) Start() { e.queue.Post(func() { e.start("kid mode enabled") }) }

// Stop ends enforcement (kid mode disabled) and abandons all pending work.
func (e *Engine) Stop() { e.queue.Post(func() { e.stop("kid mode disabled") }) }

// ServiceConnected is called once the device connection is up.
func (e *Engine) ServiceConnected() { e.queue.Post(func() { e.start("service connected") }) }

// ServiceDestroyed is called on teardown.
func (e *Engine) ServiceDestroyed() { e.queue.Post(func() { e.stop("service destroyed") }) }

// HandleSignal feeds a change signal to the event-reactive path.
func (e *Engine) HandleSignal(sig domain.Signal) {
	recordSignal(sig.Kind)
	e.queue.Post(func() { e.handleSignal(sig) })
}

// Snapshot returns the engine state as seen from the queue goroutine.
// It needs a running queue; with a virtual queue use Inspect instead.
func (e *Engine) Snapshot(ctx context.Context) (domain.EngineSnapshot, error) {
	ch := make(chan domain.EngineSnapshot, 1)
	e.queue.Post(func() { ch <- e.Inspect() })

	select {
	case snap := <-ch:
		return snap, nil
	case <-ctx.Done():
		return domain.EngineSnapshot{}, ctx.Err()
	}
}

// Inspect returns the engine state. Must be called on the queue goroutine.
func (e *Engine) Inspect() domain.EngineSnapshot {
	snap := domain.EngineSnapshot{
		SessionID:        e.sessionID,
		Running:          e.running,
		Polling:          e.polling,
		LastChecked:      e.lastChecked,
		InGrace:          e.grace.Entries(),
		RemediationCount: e.remediationCount,
	}
	if e.lastRemediation != nil {
		r := *e.lastRemediation
		snap.LastRemediation = &r
	}
	return snap
}

func (e *Engine) start(reason string) {
	e.queue.CancelDelayed()
	e.epoch++
	e.reset()
	e.running = true
	e.sessionID = uuid.NewString()

	kidMode := e.prefs.KidMode()
	e.logger.Info("enforcement started",
		zap.String("session", e.sessionID),
		zap.String("reason", reason),
		zap.Bool("kid_mode", kidMode))

	if !kidMode {
		return
	}
	e.ensurePolling()
	for _, d := range e.cfg.StartupChecks {
		e.schedule(d, deferred{kind: taskStartupCheck})
	}
}

func (e *Engine) stop(reason string) {
	e.queue.CancelDelayed()
	e.epoch++
	wasRunning := e.running
	e.running = false
	e.reset()

	if wasRunning {
		e.logger.Info("enforcement stopped",
			zap.String("session", e.sessionID),
			zap.String("reason", reason))
	}
}

func (e *Engine) reset() {
	e.polling = false
	e.grace.Clear()
	e.recent.reset()
	e.lastChecked = ""
}

func (e *Engine) schedule(delay time.Duration, t deferred) {
	t.epoch = e.epoch
	e.queue.PostDelayed(delay, func() { e.run(t) })
}

func (e *Engine) run(t deferred) {
	if t.epoch != e.epoch || !e.running {
		return
	}

	switch t.kind {
	case taskPoll:
		e.poll()
	case taskGraceCheck:
		e.graceCheck(t.pkg, t.cycle)
	case taskSecondCheck:
		e.secondCheck(t.pkg)
	case taskSettingsRecheck:
		e.settingsRecheck(t.pkg)
	case taskNotificationSettled:
		e.notificationSettled()
	case taskStartupCheck:
		e.startupCheck()
	}
}

func (e *Engine) handleSignal(sig domain.Signal) {
	if !e.running || !e.prefs.KidMode() {
		return
	}

	switch sig.Kind {
	case domain.SignalWindowState:
		if sig.Package == "" || sig.Package == e.cfg.SelfPackage {
			return
		}
		e.ensurePolling()
		// Rapid-fire events for the same package; settings apps are never skipped.
		if !policy.IsSettingsApp(sig.Package) && e.recent.checkAndMark(sig.Package, e.clock.Now()) {
			return
		}
		// The event itself is the foreground evidence here; the grace check re-verifies.
		e.evaluate(sig.Package, modeWindowState)

	case domain.SignalWindowContent:
		// Covers apps resumed from recents, which may not fire a window-state change.
		if sig.Package == "" || sig.Package == e.cfg.SelfPackage || e.grace.Contains(sig.Package) {
			return
		}
		if fg, ok := e.foreground(); ok && fg == sig.Package {
			e.evaluate(fg, modeImmediate)
		}

	case domain.SignalNotification:
		// Covers apps launched from a notification; give the app time to come up.
		e.schedule(e.cfg.NotificationSettle, deferred{kind: taskNotificationSettled})
	}
}

// evaluate is the single decision step shared by every detection path.
// pkg is the package believed to be in the foreground.
func (e *Engine) evaluate(pkg string, mode checkMode) {
	if pkg == "" || pkg == e.cfg.SelfPackage || !e.prefs.KidMode() {
		return
	}

	if policy.IsSettingsApp(pkg) {
		e.grace.Remove(pkg)
		e.remediate(pkg, domain.ReasonSettings)
		for _, d := range e.settingsRechecks(mode) {
			e.schedule(d, deferred{kind: taskSettingsRecheck, pkg: pkg})
		}
		return
	}

	decision := e.evaluator.Classify(pkg, e.prefs.Whitelist())
	if decision.Allowed() {
		e.grace.Remove(pkg)
		e.logger.Debug("allowed app in foreground",
			zap.String("package", pkg),
			zap.String("rule", decision.Rule))
		return
	}

	if e.grace.Contains(pkg) {
		return
	}

	if !mode.usesGrace() {
		e.remediate(pkg, domain.ReasonImmediate)
		return
	}

	entry, _ := e.grace.Begin(pkg, e.clock.Now())
	metricGraceStarted.Inc()
	e.logger.Debug("grace period started",
		zap.String("package", pkg),
		zap.Duration("grace", e.cfg.GracePeriod),
		zap.Uint64("cycle", entry.Cycle))
	e.schedule(e.cfg.GracePeriod, deferred{kind: taskGraceCheck, pkg: pkg, cycle: entry.Cycle})
}

func (e *Engine) settingsRechecks(mode checkMode) []time.Duration {
	switch mode {
	case modeWindowState:
		return []time.Duration{e.cfg.SettingsRecheckDelay}
	case modeStartup:
		return e.cfg.StartupSettingsRechecks
	default:
		return nil
	}
}

func (e *Engine) graceCheck(pkg string, cycle uint64) {
	if !e.grace.Resolve(pkg, cycle) {
		// Entry was cleared or replaced since this check was scheduled.
		return
	}
	// Grace is over whatever happens below; the poller must look at pkg again.
	if e.lastChecked == pkg {
		e.lastChecked = ""
	}

	fg, ok := e.foreground()
	if !ok || fg != pkg {
		recordGraceResolved(outcomeLeftForeground)
		e.logger.Debug("grace expired, package no longer foreground",
			zap.String("package", pkg),
			zap.String("foreground", fg))
		return
	}
	if !e.prefs.KidMode() {
		recordGraceResolved(outcomeKidModeOff)
		return
	}
	if e.evaluator.IsAllowed(pkg, e.prefs.Whitelist()) {
		recordGraceResolved(outcomeAllowed)
		e.logger.Debug("grace expired, package now allowed", zap.String("package", pkg))
		return
	}

	recordGraceResolved(outcomeRemediated)
	e.remediate(pkg, domain.ReasonGraceExpired)
	e.schedule(e.cfg.SecondCheckDelay, deferred{kind: taskSecondCheck, pkg: pkg})
}

func (e *Engine) secondCheck(pkg string) {
	fg, ok := e.foreground()
	if !ok || fg != pkg || !e.prefs.KidMode() {
		return
	}
	if e.evaluator.IsAllowed(pkg, e.prefs.Whitelist()) {
		return
	}
	e.remediate(pkg, domain.ReasonSecondCheck)
}

func (e *Engine) settingsRecheck(pkg string) {
	fg, ok := e.foreground()
	if !ok || !e.prefs.KidMode() {
		return
	}
	if fg == pkg || policy.IsSettingsApp(fg) {
		e.remediate(fg, domain.ReasonSettingsRecheck)
	}
}

func (e *Engine) notificationSettled() {
	fg, ok := e.foreground()
	if !ok {
		return
	}
	e.evaluate(fg, modeImmediate)
}

func (e *Engine) startupCheck() {
	fg, ok := e.foreground()
	if !ok {
		return
	}
	e.evaluate(fg, modeStartup)
}

func (e *Engine) ensurePolling() {
	if e.polling || !e.running || !e.prefs.KidMode() {
		return
	}
	e.polling = true
	e.schedule(e.cfg.PollInterval, deferred{kind: taskPoll})
	e.logger.Debug("polling started", zap.Duration("interval", e.cfg.PollInterval))
}

func (e *Engine) poll() {
	if !e.prefs.KidMode() {
		e.polling = false
		e.grace.Clear()
		e.lastChecked = ""
		e.logger.Debug("polling stopped, kid mode off")
		return
	}
	defer e.schedule(e.cfg.PollInterval, deferred{kind: taskPoll})

	fg, ok := e.foreground()
	if !ok || fg == e.cfg.SelfPackage {
		// Home screen (or nothing known): whatever was in grace has left the foreground.
		e.grace.Clear()
		e.lastChecked = fg
		return
	}
	e.grace.RetainOnly(fg)

	if policy.IsSettingsApp(fg) {
		e.evaluate(fg, modePoll)
		return
	}
	if e.grace.Contains(fg) {
		return
	}
	// Same app as last tick: only skip while it is still allowed, so a revoked app is caught.
	if fg == e.lastChecked && e.evaluator.IsAllowed(fg, e.prefs.Whitelist()) {
		return
	}
	e.lastChecked = fg
	e.evaluate(fg, modePoll)
}

func (e *Engine) remediate(pkg string, reason domain.RemediationReason) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ActionTimeout)
	defer cancel()

	rem := e.remediator.ReturnToHome(ctx, pkg, reason)
	e.lastRemediation = &rem
	e.remediationCount++
	if e.onRemediation != nil {
		e.onRemediation(rem)
	}
	// Let the next poll tick look at whatever is in front now, even if it is the same package.
	e.lastChecked = ""
}

func (e *Engine) foreground() (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ActionTimeout)
	defer cancel()
	return e.observer.CurrentForeground(ctx)
}
