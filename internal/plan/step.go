package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind discriminates the step variants of a plan tree.
type Kind string

const (
	KindTool Kind = "tool"
	KindIf   Kind = "if"
	KindLoop Kind = "loop"
	KindFlag Kind = "flag_variable"
)

// Step is one node of a plan tree. The set of implementations is closed:
// ToolStep, IfStep, LoopStep and FlagStep.
type Step interface {
	StepID() string
	Summary() string
	Kind() Kind
	isStep()
}

// Base carries the fields shared by every step.
type Base struct {
	ID          string `json:"id"`
	StepSummary string `json:"step_summary"`
}

func (b Base) StepID() string  { return b.ID }
func (b Base) Summary() string { return b.StepSummary }

// ToolStep calls a named tool and binds the result to Output.
type ToolStep struct {
	Base
	Tool   string         `json:"tool"`
	Inputs map[string]any `json:"inputs,omitempty"`
	Output string         `json:"output,omitempty"`
}

// IfStep runs Then when Condition holds. A nil Then is a no-op branch.
type IfStep struct {
	Base
	Condition Condition
	Then      Step
}

// LoopStep runs Body once per element of In, binding each element to Var.
type LoopStep struct {
	Base
	Var    string
	In     string
	Body   Steps
	Output string
}

// FlagStep assigns a scalar value to a variable.
type FlagStep struct {
	Base
	Variable string `json:"variable"`
	Value    any    `json:"value"`
}

func (ToolStep) Kind() Kind { return KindTool }
func (IfStep) Kind() Kind   { return KindIf }
func (LoopStep) Kind() Kind { return KindLoop }
func (FlagStep) Kind() Kind { return KindFlag }

func (*ToolStep) isStep() {}
func (*IfStep) isStep()   {}
func (*LoopStep) isStep() {}
func (*FlagStep) isStep() {}

// Steps is an ordered sequence of steps. Order is execution order.
type Steps []Step

// Plan is a complete raw plan. Nesting only happens inside loop bodies and
// if branches.
type Plan struct {
	Steps Steps `json:"steps"`
}

func (s *ToolStep) MarshalJSON() ([]byte, error) {
	type alias ToolStep
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindTool, (*alias)(s)})
}

func (s *ToolStep) UnmarshalJSON(data []byte) error {
	var raw struct {
		Base
		Tool   string                     `json:"tool"`
		Inputs map[string]json.RawMessage `json:"inputs"`
		Output string                     `json:"output"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Base, s.Tool, s.Output = raw.Base, raw.Tool, raw.Output
	s.Inputs = nil
	if raw.Inputs != nil {
		s.Inputs = make(map[string]any, len(raw.Inputs))
		for name, v := range raw.Inputs {
			value, err := decodeInput(v)
			if err != nil {
				return fmt.Errorf("input %q: %w", name, err)
			}
			s.Inputs[name] = value
		}
	}
	return nil
}

func (s *IfStep) MarshalJSON() ([]byte, error) {
	var cond json.RawMessage
	if s.Condition != nil {
		b, err := marshalCondition(s.Condition)
		if err != nil {
			return nil, err
		}
		cond = b
	}
	var then json.RawMessage
	if s.Then != nil {
		b, err := json.Marshal(s.Then)
		if err != nil {
			return nil, err
		}
		then = b
	}
	return json.Marshal(struct {
		Type Kind `json:"type"`
		Base
		Condition json.RawMessage `json:"condition,omitempty"`
		Then      json.RawMessage `json:"then,omitempty"`
	}{KindIf, s.Base, cond, then})
}

func (s *IfStep) UnmarshalJSON(data []byte) error {
	var raw struct {
		Base
		Condition json.RawMessage `json:"condition"`
		Then      json.RawMessage `json:"then"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Base = raw.Base
	cond, err := decodeCondition(raw.Condition)
	if err != nil {
		return fmt.Errorf("condition: %w", err)
	}
	s.Condition = cond
	s.Then = nil
	if !isNull(raw.Then) {
		then, err := decodeStep(raw.Then)
		if err != nil {
			return fmt.Errorf("then: %w", err)
		}
		s.Then = then
	}
	return nil
}

func (s *LoopStep) MarshalJSON() ([]byte, error) {
	body := s.Body
	if body == nil {
		body = Steps{}
	}
	return json.Marshal(struct {
		Type Kind `json:"type"`
		Base
		Var    string `json:"for_var"`
		In     string `json:"in_expr"`
		Body   Steps  `json:"body"`
		Output string `json:"output_dict,omitempty"`
	}{KindLoop, s.Base, s.Var, s.In, body, s.Output})
}

// UnmarshalJSON accepts both the long (for_var, in_expr, output_dict) and
// short (for, in, output) field names.
func (s *LoopStep) UnmarshalJSON(data []byte) error {
	var raw struct {
		Base
		ForVar     string `json:"for_var"`
		For        string `json:"for"`
		InExpr     string `json:"in_expr"`
		In         string `json:"in"`
		Body       Steps  `json:"body"`
		OutputDict string `json:"output_dict"`
		Output     string `json:"output"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Base = raw.Base
	s.Var = firstNonEmpty(raw.ForVar, raw.For)
	s.In = firstNonEmpty(raw.InExpr, raw.In)
	s.Output = firstNonEmpty(raw.OutputDict, raw.Output)
	s.Body = raw.Body
	return nil
}

func (s *FlagStep) MarshalJSON() ([]byte, error) {
	type alias FlagStep
	return json.Marshal(struct {
		Type Kind `json:"type"`
		*alias
	}{KindFlag, (*alias)(s)})
}

func (s *Steps) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*s = nil
		return nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	steps := make(Steps, 0, len(raws))
	for i, r := range raws {
		step, err := decodeStep(r)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	*s = steps
	return nil
}

// MarshalJSON writes an empty array rather than null for an empty plan.
func (p Plan) MarshalJSON() ([]byte, error) {
	steps := p.Steps
	if steps == nil {
		steps = Steps{}
	}
	return json.Marshal(struct {
		Steps Steps `json:"steps"`
	}{steps})
}

// ParseStep decodes a single step, dispatching on its "type" field.
func ParseStep(data []byte) (Step, error) {
	return decodeStep(data)
}

// Parse decodes a raw plan.
func Parse(data []byte) (Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func decodeStep(data []byte) (Step, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	var step Step
	switch head.Type {
	case KindTool:
		step = &ToolStep{}
	case KindIf:
		step = &IfStep{}
	case KindLoop:
		step = &LoopStep{}
	case KindFlag:
		step = &FlagStep{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, head.Type)
	}
	if err := json.Unmarshal(data, step); err != nil {
		return nil, fmt.Errorf("%s step: %w", head.Type, err)
	}
	return step, nil
}

// decodeInput keeps structured prompts typed and everything else as plain
// JSON values.
func decodeInput(data json.RawMessage) (any, error) {
	if isPromptObject(data) {
		var p Prompt
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func isNull(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
