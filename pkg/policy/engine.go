// Package policy decides which principal may perform which lifecycle action
// on which report. Rules are CEL expressions over two variables:
//
//	principal  {id, roles}
//	report     {id, status, submitter_id, amount}
//
// Every rule must evaluate to a bool. Evaluation errors deny.
package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/nicolRB/LogWare/pkg/report"
)

// Action names a guarded operation.
type Action string

const (
	ActionSubmit  Action = "submit"
	ActionRead    Action = "read"
	ActionList    Action = "list"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionSign    Action = "sign"
	ActionVerify  Action = "verify"
	ActionAudit   Action = "audit"
)

// Actions lists every guarded action.
var Actions = []Action{ActionSubmit, ActionRead, ActionList, ActionApprove, ActionReject, ActionSign, ActionVerify, ActionAudit}

// ForTransition returns the action guarding a lifecycle transition.
func ForTransition(t report.Transition) Action {
	switch t {
	case report.TransitionApprove:
		return ActionApprove
	case report.TransitionReject:
		return ActionReject
	default:
		return ActionSign
	}
}

const isAdmin = `"admin" in principal.roles`

// DefaultRules is the built-in policy.
var DefaultRules = map[Action]string{
	ActionSubmit:  isAdmin + ` || principal.roles.exists(r, r in ["employee", "manager", "director"])`,
	ActionRead:    `true`,
	ActionList:    `true`,
	ActionVerify:  `true`,
	ActionApprove: isAdmin + ` || ("manager" in principal.roles && report.submitter_id != principal.id)`,
	ActionReject:  isAdmin + ` || ("manager" in principal.roles && report.submitter_id != principal.id)`,
	ActionSign:    isAdmin + ` || "director" in principal.roles`,
	ActionAudit:   isAdmin + ` || "director" in principal.roles`,
}

// Subject is the acting principal as seen by rules.
type Subject struct {
	ID    string
	Roles []string
}

// Engine evaluates compiled rules.
type Engine struct {
	env      *cel.Env
	rules    map[Action]string
	prgCache map[string]cel.Program
	mu       sync.RWMutex
}

// New builds an engine from DefaultRules with overrides applied on top.
// Unknown actions and rules that do not compile to bool are rejected.
func New(overrides map[string]string) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("principal", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("report", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	rules := make(map[Action]string, len(DefaultRules))
	for a, expr := range DefaultRules {
		rules[a] = expr
	}
	known := make(map[Action]bool, len(Actions))
	for _, a := range Actions {
		known[a] = true
	}
	for name, expr := range overrides {
		a := Action(name)
		if !known[a] {
			return nil, fmt.Errorf("policy: unknown action %q", name)
		}
		rules[a] = expr
	}

	e := &Engine{env: env, rules: rules, prgCache: make(map[string]cel.Program)}
	for _, a := range Actions {
		if _, err := e.program(rules[a]); err != nil {
			return nil, fmt.Errorf("policy: rule %s: %w", a, err)
		}
	}
	return e, nil
}

// Rules returns the effective rule set, sorted by action.
func (e *Engine) Rules() [][2]string {
	out := make([][2]string, 0, len(e.rules))
	for a, expr := range e.rules {
		out = append(out, [2]string{string(a), expr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Allow reports whether s may perform action on r. r is nil for actions
// that do not target a stored report (submit, list).
func (e *Engine) Allow(ctx context.Context, action Action, s Subject, r *report.Report) (bool, error) {
	expr, ok := e.rules[action]
	if !ok {
		return false, fmt.Errorf("policy: no rule for action %q", action)
	}
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	roles := make([]string, len(s.Roles))
	copy(roles, s.Roles)
	input := map[string]any{
		"principal": map[string]any{"id": s.ID, "roles": roles},
		"report":    reportInput(r),
	}
	out, _, err := prg.ContextEval(ctx, input)
	if err != nil {
		return false, fmt.Errorf("policy: eval %s: %w", action, err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: rule %s did not return bool", action)
	}
	return allowed, nil
}

func reportInput(r *report.Report) map[string]any {
	if r == nil {
		return map[string]any{"id": "", "status": "", "submitter_id": "", "amount": 0.0}
	}
	return map[string]any{
		"id":           r.ID,
		"status":       string(r.Status),
		"submitter_id": r.SubmitterID,
		"amount":       r.Amount,
	}
}

func (e *Engine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("compile: rule must return bool, got %s", t)
	}
	p, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.prgCache[expr] = p
	return p, nil
}
