package simulate

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
	"github.com/eliteGoblin/focusd/kidguard/internal/infra"
	"github.com/eliteGoblin/focusd/kidguard/internal/scheduler"
	"github.com/eliteGoblin/focusd/kidguard/internal/usecase"
)

// Epoch is the virtual time every run starts at.
var Epoch = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

// Report is the outcome of a run.
type Report struct {
	Scenario     string
	Start        time.Time
	Remediations []domain.Remediation
	Actions      []infra.HomeAction
	Foreground   string // package in front at the end
	Final        domain.EngineSnapshot
}

// Run replays sc against a fresh engine on a simulated device whose home
// screen is cfg.SelfPackage.
func Run(sc *Scenario, cfg usecase.EngineConfig, logger *zap.Logger) (*Report, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	clock := scheduler.NewVirtual(Epoch)
	device := infra.NewSimulatedDevice(clock, cfg.SelfPackage)
	prefs := infra.NewMemoryPreferences(sc.KidMode, sc.Whitelist...)
	engine := usecase.NewEngine(cfg, clock, clock, prefs, device, device, logger)

	report := &Report{Scenario: sc.Name, Start: Epoch}
	engine.OnRemediation(func(r domain.Remediation) {
		report.Remediations = append(report.Remediations, r)
	})

	engine.ServiceConnected()
	clock.RunPending()

	for i, st := range sc.Steps {
		clock.Advance(st.At - clock.Now().Sub(Epoch))
		if err := apply(st, engine, prefs, device, clock); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		clock.RunPending()
	}
	clock.Advance(sc.Duration - clock.Now().Sub(Epoch))

	report.Actions = device.Actions()
	report.Foreground = device.Foreground()
	report.Final = engine.Inspect()
	return report, nil
}

func apply(st Step, engine *usecase.Engine, prefs *infra.MemoryPreferences, device *infra.SimulatedDevice, clock domain.Clock) error {
	if st.Allow != "" {
		prefs.Allow(st.Allow)
	}
	if st.Revoke != "" {
		prefs.Revoke(st.Revoke)
	}
	if st.KidMode != nil {
		prefs.SetKidMode(*st.KidMode)
		if *st.KidMode {
			engine.Start()
		} else {
			engine.Stop()
		}
	}

	if st.Stubborn != nil {
		device.SetStubborn(*st.Stubborn)
	}
	if st.Unavailable != nil {
		if *st.Unavailable {
			device.SetUnavailable(domain.ErrPermissionUnavailable)
		} else {
			device.SetUnavailable(nil)
		}
	}
	if st.Open != "" {
		device.Open(st.Open)
	}

	if st.Signal == "" {
		return nil
	}
	kind, err := parseSignalKind(st.Signal)
	if err != nil {
		return err
	}
	pkg := st.Package
	if pkg == "" && kind != domain.SignalNotification {
		pkg = device.Foreground()
	}
	engine.HandleSignal(domain.Signal{Kind: kind, Package: pkg, At: clock.Now()})
	return nil
}

// Check compares the report with exp and returns one message per mismatch.
func (r *Report) Check(exp *Expectation) []string {
	if exp == nil {
		return nil
	}

	var failures []string
	if exp.Remediations != nil && *exp.Remediations != len(r.Remediations) {
		failures = append(failures, fmt.Sprintf("expected %d remediations, got %d", *exp.Remediations, len(r.Remediations)))
	}
	if len(exp.Reasons) > 0 {
		got := make([]string, len(r.Remediations))
		for i, rem := range r.Remediations {
			got[i] = string(rem.Reason)
		}
		if strings.Join(got, ",") != strings.Join(exp.Reasons, ",") {
			failures = append(failures, fmt.Sprintf("expected reasons [%s], got [%s]", strings.Join(exp.Reasons, ", "), strings.Join(got, ", ")))
		}
	}
	for _, pkg := range exp.Blocked {
		if !r.Blocked(pkg) {
			failures = append(failures, fmt.Sprintf("expected %s to be blocked", pkg))
		}
	}
	for _, pkg := range exp.NotBlocked {
		if r.Blocked(pkg) {
			failures = append(failures, fmt.Sprintf("expected %s not to be blocked", pkg))
		}
	}
	if exp.Foreground != "" && exp.Foreground != r.Foreground {
		failures = append(failures, fmt.Sprintf("expected %s in front at the end, got %s", exp.Foreground, r.Foreground))
	}
	return failures
}

// Blocked reports whether pkg was sent home at least once.
func (r *Report) Blocked(pkg string) bool {
	for _, rem := range r.Remediations {
		if rem.Package == pkg {
			return true
		}
	}
	return false
}

// Write prints the remediation log.
func (r *Report) Write(w io.Writer) {
	name := r.Scenario
	if name == "" {
		name = "scenario"
	}
	fmt.Fprintf(w, "%s: %d remediation(s)\n", name, len(r.Remediations))
	for _, rem := range r.Remediations {
		fmt.Fprintf(w, "  +%-8s %-17s %s\n", rem.At.Sub(r.Start), rem.Reason, rem.Package)
	}
	fmt.Fprintf(w, "foreground at end: %s\n", r.Foreground)
}
