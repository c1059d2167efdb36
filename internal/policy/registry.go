package policy

import (
	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
)

// Evaluator holds the ordered classification table.
// It is immutable after construction and safe to share.
type Evaluator struct {
	rules []Rule
}

// NewEvaluator creates an evaluator with the default table.
func NewEvaluator(selfPackage string) *Evaluator {
	return NewEvaluatorWithRules(DefaultRules(selfPackage)...)
}

// NewEvaluatorWithRules creates an evaluator with a custom table (for testing).
func NewEvaluatorWithRules(rules ...Rule) *Evaluator {
	r := make([]Rule, len(rules))
	copy(r, rules)
	return &Evaluator{rules: r}
}

// Classify returns the verdict for pkg and the rule that produced it.
func (e *Evaluator) Classify(pkg string, whitelist map[string]struct{}) domain.Decision {
	for _, rule := range e.rules {
		if rule.Match(pkg) {
			return domain.Decision{Package: pkg, Verdict: rule.Verdict, Rule: rule.Name}
		}
	}

	verdict := domain.VerdictDeny
	if _, ok := whitelist[pkg]; ok {
		verdict = domain.VerdictAllow
	}
	return domain.Decision{Package: pkg, Verdict: verdict, Rule: WhitelistRule}
}

// IsAllowed reports whether pkg may stay in the foreground.
func (e *Evaluator) IsAllowed(pkg string, whitelist map[string]struct{}) bool {
	return e.Classify(pkg, whitelist).Allowed()
}

// Rules returns the table rows in evaluation order.
func (e *Evaluator) Rules() []Rule {
	r := make([]Rule, len(e.rules))
	copy(r, e.rules)
	return r
}
