package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Condition is the test of an if step: one of RawCondition,
// ExpressionCondition, ComparisonCondition, LogicalCondition or
// OpaqueCondition for shapes this package does not recognise.
type Condition interface {
	isCondition()
}

// RawCondition is a condition given as a bare string.
type RawCondition string

type ExpressionCondition struct {
	Expression string `json:"expression"`
}

type ComparisonCondition struct {
	Left     any    `json:"left"`
	Operator string `json:"operator"`
	Right    any    `json:"right"`
}

// LogicalCondition joins sub-conditions with AND / OR.
type LogicalCondition struct {
	Operator   string
	Conditions []Condition
}

// OpaqueCondition keeps any other JSON verbatim.
type OpaqueCondition json.RawMessage

func (RawCondition) isCondition()        {}
func (ExpressionCondition) isCondition() {}
func (ComparisonCondition) isCondition() {}
func (LogicalCondition) isCondition()    {}
func (OpaqueCondition) isCondition()     {}

// ParseCondition decodes a condition from JSON. A null or empty document
// yields a nil condition.
func ParseCondition(data []byte) (Condition, error) {
	return decodeCondition(data)
}

func decodeCondition(data []byte) (Condition, error) {
	if isNull(data) {
		return nil, nil
	}
	trimmed := bytes.TrimSpace(data)
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, err
		}
		return RawCondition(s), nil
	}
	if trimmed[0] != '{' {
		return OpaqueCondition(append([]byte(nil), trimmed...)), nil
	}

	var head struct {
		Type       string            `json:"type"`
		Expression string            `json:"expression"`
		Left       any               `json:"left"`
		Operator   string            `json:"operator"`
		Right      any               `json:"right"`
		Conditions []json.RawMessage `json:"conditions"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case "expression":
		return ExpressionCondition{Expression: head.Expression}, nil
	case "comparison":
		return ComparisonCondition{Left: head.Left, Operator: head.Operator, Right: head.Right}, nil
	case "logical":
		conds := make([]Condition, 0, len(head.Conditions))
		for i, raw := range head.Conditions {
			c, err := decodeCondition(raw)
			if err != nil {
				return nil, fmt.Errorf("conditions[%d]: %w", i, err)
			}
			conds = append(conds, c)
		}
		return LogicalCondition{Operator: head.Operator, Conditions: conds}, nil
	}
	return OpaqueCondition(append([]byte(nil), trimmed...)), nil
}

func marshalCondition(c Condition) ([]byte, error) {
	switch c := c.(type) {
	case nil:
		return []byte("null"), nil
	case RawCondition:
		return json.Marshal(string(c))
	case ExpressionCondition:
		return json.Marshal(struct {
			Type       string `json:"type"`
			Expression string `json:"expression"`
		}{"expression", c.Expression})
	case ComparisonCondition:
		return json.Marshal(struct {
			Type     string `json:"type"`
			Left     any    `json:"left"`
			Operator string `json:"operator"`
			Right    any    `json:"right"`
		}{"comparison", c.Left, c.Operator, c.Right})
	case LogicalCondition:
		subs := make([]json.RawMessage, 0, len(c.Conditions))
		for _, sub := range c.Conditions {
			b, err := marshalCondition(sub)
			if err != nil {
				return nil, err
			}
			subs = append(subs, b)
		}
		return json.Marshal(struct {
			Type       string            `json:"type"`
			Operator   string            `json:"operator"`
			Conditions []json.RawMessage `json:"conditions"`
		}{"logical", c.Operator, subs})
	case OpaqueCondition:
		return []byte(c), nil
	}
	return nil, fmt.Errorf("unsupported condition %T", c)
}

// FormatCondition renders a condition on one line: comparisons as
// "left op right", logical groups joined by their operator, expressions
// and raw strings as-is. Anything else is dumped as compact JSON.
func FormatCondition(c Condition) string {
	switch c := c.(type) {
	case nil:
		return ""
	case RawCondition:
		return string(c)
	case ExpressionCondition:
		return c.Expression
	case ComparisonCondition:
		return fmt.Sprintf("%s %s %s", formatOperand(c.Left), c.Operator, formatOperand(c.Right))
	case LogicalCondition:
		parts := make([]string, 0, len(c.Conditions))
		for _, sub := range c.Conditions {
			parts = append(parts, FormatCondition(sub))
		}
		return strings.Join(parts, " "+c.Operator+" ")
	case OpaqueCondition:
		var buf bytes.Buffer
		if err := json.Compact(&buf, c); err != nil {
			return string(c)
		}
		return buf.String()
	}
	return fmt.Sprintf("%v", c)
}

func formatOperand(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return v
	case float64, bool, int, int64:
		return fmt.Sprint(v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
