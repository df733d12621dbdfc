// Package risk classifies tool invocations that require human approval
// before execution. Classification is data-driven: a table of
// pattern/category/weight rules evaluated against the action descriptor. The
// orchestrator consumes only the Classifier interface, so rule sets can be
// replaced without touching the pipeline.
package risk

import (
	"fmt"
	"regexp"
	"strings"
)

type (
	// Classifier reports whether an action requires approval.
	Classifier interface {
		// Flagged returns true, with the matching category, when the
		// descriptor describes a gated action.
		Flagged(descriptor string) (category string, flagged bool)
	}

	// Rule is one pattern in the risk table.
	Rule struct {
		// Pattern is a regular expression matched case-insensitively against
		// the action descriptor.
		Pattern string `yaml:"pattern"`
		// Category labels the matched action class (e.g. "filesystem").
		Category string `yaml:"category"`
		// Weight expresses rule severity; descriptors are flagged when the
		// summed weight of matching rules reaches 1.0.
		Weight float64 `yaml:"weight"`
	}

	// Table is a compiled Classifier over a rule list.
	Table struct {
		rules []compiledRule
	}

	compiledRule struct {
		re       *regexp.Regexp
		category string
		weight   float64
	}
)

// flagThreshold is the summed weight at which a descriptor is flagged.
const flagThreshold = 1.0

// NewTable compiles the rules into a Classifier. Rules with empty patterns
// or categories, or non-positive weights, are rejected.
func NewTable(rules []Rule) (*Table, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("risk: at least one rule is required")
	}
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if strings.TrimSpace(r.Pattern) == "" {
			return nil, fmt.Errorf("risk: rule %d missing pattern", i)
		}
		if strings.TrimSpace(r.Category) == "" {
			return nil, fmt.Errorf("risk: rule %d missing category", i)
		}
		if r.Weight <= 0 {
			return nil, fmt.Errorf("risk: rule %d weight must be positive", i)
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("risk: rule %d: %w", i, err)
		}
		compiled = append(compiled, compiledRule{re: re, category: r.Category, weight: r.Weight})
	}
	return &Table{rules: compiled}, nil
}

// Flagged implements Classifier. The first category whose rules reach the
// flag threshold wins; rules in distinct categories do not stack.
func (t *Table) Flagged(descriptor string) (string, bool) {
	weights := make(map[string]float64)
	for _, r := range t.rules {
		if !r.re.MatchString(descriptor) {
			continue
		}
		weights[r.category] += r.weight
		if weights[r.category] >= flagThreshold {
			return r.category, true
		}
	}
	return "", false
}

// DefaultRules returns the built-in rule table covering destructive and
// irreversible action classes.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: `\brm\s+(-[a-z]*[rf][a-z]*\s+)`, Category: "filesystem", Weight: 1},
		{Pattern: `\b(mkfs|shred|dd\s+if=)`, Category: "filesystem", Weight: 1},
		{Pattern: `\bsudo\b`, Category: "privilege", Weight: 1},
		{Pattern: `\bchmod\s+(-[a-z]+\s+)?[0-7]*7[0-7]*\b`, Category: "privilege", Weight: 1},
		{Pattern: `\bgit\s+(push\s+[^\n]*--force|reset\s+--hard|clean\s+-[a-z]*f)`, Category: "version-control", Weight: 1},
		{Pattern: `\b(deploy|rollout|helm\s+upgrade|kubectl\s+(apply|delete))\b.*\b(prod|production)\b`, Category: "deploy", Weight: 1},
		{Pattern: `\b(drop\s+(table|database)|truncate\s+table|delete\s+from)\b`, Category: "database", Weight: 1},
		{Pattern: `\b(curl|wget)\b[^\n]*\|\s*(ba)?sh\b`, Category: "shell", Weight: 1},
		{Pattern: `\beval\b|\bexec\s`, Category: "shell", Weight: 0.6},
		{Pattern: `>\s*/etc/|\btee\s+(-a\s+)?/etc/`, Category: "sensitive-path", Weight: 1},
		{Pattern: `~?/\.ssh/|~?/\.aws/|/etc/(passwd|shadow|sudoers)`, Category: "sensitive-path", Weight: 0.6},
	}
}

// Default returns a classifier over DefaultRules. It never fails: the
// built-in table is covered by tests.
func Default() *Table {
	t, err := NewTable(DefaultRules())
	if err != nil {
		panic(err)
	}
	return t
}
