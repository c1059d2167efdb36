package infra

import (
	"context"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
)

// HomeAction is one recorded remediation step on a simulated device.
type HomeAction struct {
	At         time.Time
	Action     string // "navigate_home" or "global_home"
	Foreground string // package in front when the action ran
}

// SimulatedDevice is an in-memory Android device for dry runs and tests.
// Like the adb adapter it reports the current foreground as a single event.
type SimulatedDevice struct {
	mu          sync.Mutex
	clock       domain.Clock
	home        string
	foreground  string
	stubborn    bool
	unavailable error
	actions     []HomeAction
}

// NewSimulatedDevice creates a device showing home.
func NewSimulatedDevice(clock domain.Clock, home string) *SimulatedDevice {
	return &SimulatedDevice{clock: clock, home: home, foreground: home}
}

// Open brings pkg to the front.
func (d *SimulatedDevice) Open(pkg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.foreground = pkg
}

// Foreground returns the package in front.
func (d *SimulatedDevice) Foreground() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.foreground
}

// SetStubborn makes home actions have no visible effect.
func (d *SimulatedDevice) SetStubborn(stubborn bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stubborn = stubborn
}

// SetUnavailable makes foreground queries fail with err (nil restores them).
func (d *SimulatedDevice) SetUnavailable(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unavailable = err
}

// Actions returns the recorded home actions.
func (d *SimulatedDevice) Actions() []HomeAction {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]HomeAction, len(d.actions))
	copy(out, d.actions)
	return out
}

// QueryForegroundEvents implements domain.UsageEventSource.
func (d *SimulatedDevice) QueryForegroundEvents(ctx context.Context, start, end time.Time) ([]domain.UsageEvent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.unavailable != nil {
		return nil, d.unavailable
	}
	if d.foreground == "" {
		return nil, nil
	}
	return []domain.UsageEvent{
		{Package: d.foreground, Timestamp: end, Kind: domain.UsageMoveToForeground},
	}, nil
}

// NavigateHome implements domain.HomeNavigator.
func (d *SimulatedDevice) NavigateHome(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.actions = append(d.actions, HomeAction{At: d.clock.Now(), Action: "navigate_home", Foreground: d.foreground})
	if !d.stubborn {
		d.foreground = d.home
	}
	return nil
}

// TriggerGlobalHome implements domain.HomeNavigator.
func (d *SimulatedDevice) TriggerGlobalHome(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.actions = append(d.actions, HomeAction{At: d.clock.Now(), Action: "global_home", Foreground: d.foreground})
	if !d.stubborn {
		d.foreground = d.home
	}
	return nil
}

// MemoryPreferences is a domain.PreferenceReader held in memory.
type MemoryPreferences struct {
	mu        sync.RWMutex
	kidMode   bool
	whitelist map[string]struct{}
}

// NewMemoryPreferences creates preferences with the given state.
func NewMemoryPreferences(kidMode bool, whitelist ...string) *MemoryPreferences {
	p := &MemoryPreferences{kidMode: kidMode, whitelist: make(map[string]struct{})}
	for _, pkg := range whitelist {
		p.whitelist[pkg] = struct{}{}
	}
	return p
}

// KidMode implements domain.PreferenceReader.
func (p *MemoryPreferences) KidMode() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.kidMode
}

// Whitelist implements domain.PreferenceReader. The returned map is a copy.
func (p *MemoryPreferences) Whitelist() map[string]struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]struct{}, len(p.whitelist))
	for pkg := range p.whitelist {
		out[pkg] = struct{}{}
	}
	return out
}

// SetKidMode changes the flag.
func (p *MemoryPreferences) SetKidMode(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kidMode = enabled
}

// Allow adds pkg to the whitelist.
func (p *MemoryPreferences) Allow(pkg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.whitelist[pkg] = struct{}{}
}

// Revoke removes pkg from the whitelist.
func (p *MemoryPreferences) Revoke(pkg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.whitelist, pkg)
}

// Ensure simulated types implement the engine ports.
var (
	_ domain.UsageEventSource = (*SimulatedDevice)(nil)
	_ domain.HomeNavigator    = (*SimulatedDevice)(nil)
	_ domain.PreferenceReader = (*MemoryPreferences)(nil)
)
