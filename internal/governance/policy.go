package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/rahul/planbench/internal/plan"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request describes one tool step of a generated plan.
type Request struct {
	StepID    string
	Tool      string
	Arguments string
	ChatID    string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
	StepID string
	Tool   string
}

// PolicyEngine evaluates tool steps against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine denies tools by name and arguments by pattern. When
// AllowedTools is non-empty, tools outside it are denied as well.
type DefaultPolicyEngine struct {
	DeniedTools  map[string]bool
	AllowedTools map[string]bool
	DeniedRegex  []*regexp.Regexp
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedTools:  make(map[string]bool),
		AllowedTools: make(map[string]bool),
		DeniedRegex:  make([]*regexp.Regexp, 0),
	}
}

func (e *DefaultPolicyEngine) DenyTool(name string) {
	e.DeniedTools[name] = true
}

// AllowOnly restricts plans to the given tool names.
func (e *DefaultPolicyEngine) AllowOnly(names ...string) {
	for _, n := range names {
		e.AllowedTools[n] = true
	}
}

func (e *DefaultPolicyEngine) DenyArguments(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if e.DeniedTools[req.Tool] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Tool '%s' is restricted by system policy", req.Tool),
			StepID: req.StepID,
			Tool:   req.Tool,
		}, nil
	}

	if len(e.AllowedTools) > 0 && !e.AllowedTools[req.Tool] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Tool '%s' is not in the tool catalog", req.Tool),
			StepID: req.StepID,
			Tool:   req.Tool,
		}, nil
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Arguments) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Arguments match restricted pattern: %s", re.String()),
				StepID: req.StepID,
				Tool:   req.Tool,
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
		StepID: req.StepID,
		Tool:   req.Tool,
	}, nil
}

// EvaluatePlan runs every tool step of p, nested ones included, through the
// engine and returns the first denial. A plan without denials yields an
// allow result.
func EvaluatePlan(ctx context.Context, engine PolicyEngine, chatID string, p plan.Plan) (Result, error) {
	var (
		denied  *Result
		evalErr error
	)
	plan.Walk(p.Steps, func(s plan.Step, _ int) bool {
		tool, ok := s.(*plan.ToolStep)
		if !ok {
			return true
		}
		args, err := json.Marshal(tool.Inputs)
		if err != nil {
			evalErr = fmt.Errorf("step %s: failed to encode inputs: %w", tool.ID, err)
			return false
		}
		res, err := engine.Evaluate(ctx, Request{
			StepID:    tool.ID,
			Tool:      tool.Tool,
			Arguments: string(args),
			ChatID:    chatID,
		})
		if err != nil {
			evalErr = err
			return false
		}
		if res.Effect == EffectDeny {
			denied = &res
			return false
		}
		return true
	})
	if evalErr != nil {
		return Result{}, evalErr
	}
	if denied != nil {
		return *denied, nil
	}
	return Result{Effect: EffectAllow, Reason: "All steps approved"}, nil
}
