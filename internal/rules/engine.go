// Package rules provides the detection rule evaluation engine:
// keyword/pattern rules compiled as regexes, acoustic and behavioral
// rules compiled as CEL programs.
package rules

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/callguard-ai/callguard/internal/domain"
)

// Engine compiles detection rules and evaluates them against
// normalized feature records. Rule sets are swapped atomically on
// reload; evaluation reads one snapshot for the whole request.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	snapshot *ruleSnapshot
}

type ruleSnapshot struct {
	text       []*compiledTextRule
	acoustic   []*compiledExprRule
	behavioral []*compiledExprRule

	// warnings from rules that failed to compile during a bulk load.
	// Reported on every evaluation so a bad rule is visible, not silent.
	warnings []domain.RuleWarning

	count int
}

type compiledTextRule struct {
	rule *domain.DetectionRule
	re   *regexp.Regexp
}

type compiledExprRule struct {
	rule    *domain.DetectionRule
	program cel.Program
}

// NewEngine creates a rule evaluation engine.
func NewEngine() (*Engine, error) {
	// CEL environment for acoustic and behavioral expressions. Acoustic
	// rules read the feature map; behavioral rules additionally see the
	// derived call-shape signals.
	env, err := cel.NewEnv(
		cel.Variable("features", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("linguistic", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("call_velocity", cel.IntType),
		cel.Variable("keyword_density", cel.DoubleType),
		cel.Variable("keyword_matches", cel.IntType),
		cel.Variable("duration", cel.DoubleType),
		cel.Variable("transcript_length", cel.IntType),
		cel.Variable("language", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		snapshot: &ruleSnapshot{},
	}, nil
}

// ValidateRule compiles a rule without loading it. Used by the admin
// API to reject malformed patterns at creation time.
func (e *Engine) ValidateRule(rule *domain.DetectionRule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	if rule.Name == "" {
		return fmt.Errorf("rule %s: name is required", rule.ID)
	}
	if rule.ScoreImpact < 0 || rule.ScoreImpact > 100 {
		return fmt.Errorf("rule %s: scoreImpact must be in [0,100], got %d", rule.ID, rule.ScoreImpact)
	}

	switch rule.Category {
	case domain.RuleKeyword, domain.RulePattern:
		_, err := compileTextPattern(rule.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
	case domain.RuleAcoustic, domain.RuleBehavioral:
		if _, err := e.compileExpression(rule.Pattern); err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
	default:
		return fmt.Errorf("rule %s: unknown category %q", rule.ID, rule.Category)
	}
	return nil
}

// ReloadRules replaces the loaded rule set. Inactive rules are ignored.
// A rule that fails to compile becomes a per-rule warning carried by
// the snapshot; it never blocks the reload or the other rules.
func (e *Engine) ReloadRules(rules []*domain.DetectionRule) {
	// Deterministic evaluation order regardless of store ordering.
	sorted := make([]*domain.DetectionRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	snap := &ruleSnapshot{}
	for _, rule := range sorted {
		if !rule.Active {
			continue
		}

		switch rule.Category {
		case domain.RuleKeyword, domain.RulePattern:
			re, err := compileTextPattern(rule.Pattern)
			if err != nil {
				snap.warnings = append(snap.warnings, domain.RuleWarning{
					RuleID:  rule.ID,
					Message: fmt.Sprintf("invalid pattern: %v", err),
				})
				continue
			}
			snap.text = append(snap.text, &compiledTextRule{rule: rule, re: re})

		case domain.RuleAcoustic:
			prog, err := e.compileExpression(rule.Pattern)
			if err != nil {
				snap.warnings = append(snap.warnings, domain.RuleWarning{
					RuleID:  rule.ID,
					Message: fmt.Sprintf("invalid expression: %v", err),
				})
				continue
			}
			snap.acoustic = append(snap.acoustic, &compiledExprRule{rule: rule, program: prog})

		case domain.RuleBehavioral:
			prog, err := e.compileExpression(rule.Pattern)
			if err != nil {
				snap.warnings = append(snap.warnings, domain.RuleWarning{
					RuleID:  rule.ID,
					Message: fmt.Sprintf("invalid expression: %v", err),
				})
				continue
			}
			snap.behavioral = append(snap.behavioral, &compiledExprRule{rule: rule, program: prog})

		default:
			snap.warnings = append(snap.warnings, domain.RuleWarning{
				RuleID:  rule.ID,
				Message: fmt.Sprintf("unknown category %q", rule.Category),
			})
			continue
		}
		snap.count++
	}

	e.mu.Lock()
	e.snapshot = snap
	e.mu.Unlock()
}

// RulesCount returns the number of successfully loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot.count
}

// LoadedRules returns the currently loaded rule configurations in
// evaluation order.
func (e *Engine) LoadedRules() []*domain.DetectionRule {
	e.mu.RLock()
	snap := e.snapshot
	e.mu.RUnlock()

	out := make([]*domain.DetectionRule, 0, snap.count)
	for _, r := range snap.text {
		out = append(out, r.rule)
	}
	for _, r := range snap.acoustic {
		out = append(out, r.rule)
	}
	for _, r := range snap.behavioral {
		out = append(out, r.rule)
	}
	return out
}

// Close clears the loaded rules.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot = &ruleSnapshot{}
	return nil
}

func (e *Engine) compileExpression(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("expression must return bool, int, or double, got %s", outputType)
	}

	return e.env.Program(ast)
}

// compileTextPattern compiles a keyword/pattern rule. Matching is
// case-insensitive.
func compileTextPattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	return regexp.Compile("(?i)" + pattern)
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}
