// Package policy evaluates operator-authored hold rules against
// intercepted requests. Rules are CEL expressions compiled once at load
// time; a matching rule forces the gatekeeper to park the request behind
// a hold. Rule sets are swappable at runtime for hot reload.
package policy

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
)

// Rule is one operator-authored hold condition.
type Rule struct {
	Name       string `yaml:"name" json:"name"`
	Expression string `yaml:"expression" json:"expression"`
	Reason     string `yaml:"reason" json:"reason"`
	Severity   string `yaml:"severity" json:"severity"` // low, medium, high, critical
}

// Input is the evaluation context a rule sees.
type Input struct {
	AgentID    string
	Tool       string
	Frame      string
	Mode       string
	Domain     string
	Action     string
	DriftScore float64
	Arguments  map[string]interface{}
}

// Match reports which rule fired.
type Match struct {
	Rule     string
	Reason   string
	Severity string
}

type compiledRule struct {
	rule    Rule
	program cel.Program
}

// Engine holds the compiled rule set. Evaluation is lock-free per rule;
// SetRules swaps the whole set atomically.
type Engine struct {
	mu     sync.RWMutex
	env    *cel.Env
	rules  []compiledRule
	logger *slog.Logger
}

// NewEngine creates an Engine with the standard variable declarations
// available in rule expressions.
func NewEngine(logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env, err := cel.NewEnv(
		cel.Variable("agent.id", cel.StringType),
		cel.Variable("request.tool", cel.StringType),
		cel.Variable("request.arguments", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("frame.raw", cel.StringType),
		cel.Variable("frame.mode", cel.StringType),
		cel.Variable("frame.domain", cel.StringType),
		cel.Variable("frame.action", cel.StringType),
		cel.Variable("drift.score", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Engine{
		env:    env,
		logger: logger.With("component", "policy.Engine"),
	}, nil
}

// SetRules compiles and installs a new rule set, replacing the old one.
// A compile error in any rule rejects the whole set and keeps the
// previous rules active.
func (e *Engine) SetRules(rules []Rule) error {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		ast, issues := e.env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("rule %q: compile error: %w", r.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return fmt.Errorf("rule %q: expression must evaluate to bool, got %s", r.Name, ast.OutputType())
		}
		prg, err := e.env.Program(ast)
		if err != nil {
			return fmt.Errorf("rule %q: program creation failed: %w", r.Name, err)
		}
		compiled = append(compiled, compiledRule{rule: r, program: prg})
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()

	e.logger.Info("hold policy rules installed", "count", len(compiled))
	return nil
}

// Evaluate runs the rule set in order and returns the first match, or
// nil. A rule that errors at evaluation time is skipped and logged;
// policy failures never decide a request on their own.
func (e *Engine) Evaluate(in Input) *Match {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	args := in.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	vars := map[string]interface{}{
		"agent.id":          in.AgentID,
		"request.tool":      in.Tool,
		"request.arguments": args,
		"frame.raw":         in.Frame,
		"frame.mode":        in.Mode,
		"frame.domain":      in.Domain,
		"frame.action":      in.Action,
		"drift.score":       in.DriftScore,
	}

	for _, cr := range rules {
		out, _, err := cr.program.Eval(vars)
		if err != nil {
			e.logger.Warn("hold policy rule failed to evaluate",
				"rule", cr.rule.Name,
				"error", err,
			)
			continue
		}
		matched, ok := out.Value().(bool)
		if !ok {
			e.logger.Warn("hold policy rule returned non-bool",
				"rule", cr.rule.Name,
			)
			continue
		}
		if matched {
			return &Match{Rule: cr.rule.Name, Reason: cr.rule.Reason, Severity: cr.rule.Severity}
		}
	}
	return nil
}

// RuleCount returns the number of installed rules.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}
