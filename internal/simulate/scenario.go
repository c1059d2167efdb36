// Package simulate replays scripted device timelines against the enforcement
// engine on virtual time.
package simulate

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
)

// tailAfterLastStep is how long a scenario without a duration keeps running
// after its last step.
const tailAfterLastStep = 5 * time.Second

// Scenario is a scripted device timeline.
type Scenario struct {
	Name      string        `yaml:"name"`
	KidMode   bool          `yaml:"kid_mode"`
	Whitelist []string      `yaml:"whitelist"`
	Duration  time.Duration `yaml:"duration"`
	Steps     []Step        `yaml:"steps"`
	Expect    *Expectation  `yaml:"expect,omitempty"`
}

// Step is one point on the timeline. Within a step, preference changes apply
// first, then device state, then the foreground change, then the signal.
type Step struct {
	At          time.Duration `yaml:"at"`
	KidMode     *bool         `yaml:"kid_mode,omitempty"`
	Allow       string        `yaml:"allow,omitempty"`
	Revoke      string        `yaml:"revoke,omitempty"`
	Stubborn    *bool         `yaml:"stubborn,omitempty"`
	Unavailable *bool         `yaml:"unavailable,omitempty"`
	Open        string        `yaml:"open,omitempty"`
	Signal      string        `yaml:"signal,omitempty"`  // window_state, window_content or notification
	Package     string        `yaml:"package,omitempty"` // signal package, defaults to the foreground
}

// Expectation is checked against the report after a run.
type Expectation struct {
	Remediations *int     `yaml:"remediations,omitempty"`
	Reasons      []string `yaml:"reasons,omitempty"` // in order
	Blocked      []string `yaml:"blocked,omitempty"`
	NotBlocked   []string `yaml:"not_blocked,omitempty"`
	Foreground   string   `yaml:"foreground,omitempty"`
}

// LoadScenario reads a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if err := sc.normalize(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// normalize validates the steps, orders them by time and fills the duration.
func (sc *Scenario) normalize() error {
	for i, st := range sc.Steps {
		if st.At < 0 {
			return fmt.Errorf("step %d: negative time %s", i+1, st.At)
		}
		if st.empty() {
			return fmt.Errorf("step %d at %s does nothing", i+1, st.At)
		}
		if st.Signal != "" {
			if _, err := parseSignalKind(st.Signal); err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
		}
	}

	sort.SliceStable(sc.Steps, func(i, j int) bool { return sc.Steps[i].At < sc.Steps[j].At })

	var last time.Duration
	if n := len(sc.Steps); n > 0 {
		last = sc.Steps[n-1].At
	}
	if sc.Duration == 0 {
		sc.Duration = last + tailAfterLastStep
	}
	if sc.Duration < last {
		return fmt.Errorf("duration %s ends before the last step at %s", sc.Duration, last)
	}
	return nil
}

func (st Step) empty() bool {
	return st.KidMode == nil && st.Allow == "" && st.Revoke == "" && st.Stubborn == nil &&
		st.Unavailable == nil && st.Open == "" && st.Signal == ""
}

func parseSignalKind(s string) (domain.SignalKind, error) {
	switch kind := domain.SignalKind(s); kind {
	case domain.SignalWindowState, domain.SignalWindowContent, domain.SignalNotification:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown signal %q", s)
	}
}
