// Package policy classifies foreground packages into allow/deny verdicts.
// Each rule is a row in an ordered table; the first matching row wins and
// packages that match no row are allowed only when whitelisted.
package policy

import (
	"strings"

	"github.com/eliteGoblin/focusd/kidguard/internal/domain"
)

// WhitelistRule is the rule name reported when no table row matched.
const WhitelistRule = "whitelist"

// Matcher reports whether a package id belongs to a rule.
type Matcher func(pkg string) bool

// Rule is one row of the classification table.
type Rule struct {
	Name    string
	Match   Matcher
	Verdict domain.Verdict
}

// Exact matches package ids equal to one of names.
func Exact(names ...string) Matcher {
	return func(pkg string) bool {
		for _, n := range names {
			if pkg == n {
				return true
			}
		}
		return false
	}
}

// PrefixFold matches package ids starting with one of prefixes, case-insensitively.
func PrefixFold(prefixes ...string) Matcher {
	return func(pkg string) bool {
		lower := strings.ToLower(pkg)
		for _, p := range prefixes {
			if strings.HasPrefix(lower, strings.ToLower(p)) {
				return true
			}
		}
		return false
	}
}

// ContainsFold matches package ids containing one of parts, case-insensitively.
func ContainsFold(parts ...string) Matcher {
	return func(pkg string) bool {
		lower := strings.ToLower(pkg)
		for _, p := range parts {
			if strings.Contains(lower, strings.ToLower(p)) {
				return true
			}
		}
		return false
	}
}

// AnyOf matches when any of the matchers does.
func AnyOf(matchers ...Matcher) Matcher {
	return func(pkg string) bool {
		for _, m := range matchers {
			if m(pkg) {
				return true
			}
		}
		return false
	}
}
