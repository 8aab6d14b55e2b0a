package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// FindStep returns the first step whose id matches, searching depth-first:
// each step is checked before its loop body, and the body before the if
// branch. Returns nil when no step matches.
func FindStep(steps Steps, id string) Step {
	var found Step
	Walk(steps, func(s Step, _ int) bool {
		if s.StepID() == id {
			found = s
			return false
		}
		return true
	})
	return found
}

// Walk visits every step in lookup order with its nesting depth. Returning
// false from fn stops the walk.
func Walk(steps Steps, fn func(s Step, depth int) bool) {
	walk(steps, 0, fn)
}

func walk(steps Steps, depth int, fn func(Step, int) bool) bool {
	for _, s := range steps {
		if s == nil {
			continue
		}
		if !fn(s, depth) {
			return false
		}
		switch s := s.(type) {
		case *LoopStep:
			if !walk(s.Body, depth+1, fn) {
				return false
			}
		case *IfStep:
			if s.Then != nil && !walk(Steps{s.Then}, depth+1, fn) {
				return false
			}
		}
	}
	return true
}

// Count returns the number of steps in the tree, nested ones included.
func Count(steps Steps) int {
	n := 0
	Walk(steps, func(Step, int) bool {
		n++
		return true
	})
	return n
}

// Validate reports empty and duplicate step ids. Lookup assumes ids are
// unique across the whole tree.
func Validate(p Plan) error {
	var errs []error
	seen := make(map[string]bool)
	Walk(p.Steps, func(s Step, _ int) bool {
		id := s.StepID()
		switch {
		case id == "":
			errs = append(errs, fmt.Errorf("%w (summary %q)", ErrEmptyStepID, s.Summary()))
		case seen[id]:
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateStepID, id))
		}
		seen[id] = true
		return true
	})
	return errors.Join(errs...)
}

// Clone returns a deep copy of the plan.
func Clone(p Plan) (Plan, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Plan{}, err
	}
	return Parse(data)
}

// SetPrompt returns a copy of p where the structured prompt input of the
// tool step id is replaced. When the step has no prompt input yet, the
// value is stored under "prompt".
func SetPrompt(p Plan, id string, prompt Prompt) (Plan, error) {
	out, err := Clone(p)
	if err != nil {
		return Plan{}, err
	}
	step := FindStep(out.Steps, id)
	if step == nil {
		return Plan{}, fmt.Errorf("%w: %s", ErrStepNotFound, id)
	}
	tool, ok := step.(*ToolStep)
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s is %s", ErrNotToolStep, id, step.Kind())
	}
	name, _, ok := PromptInput(tool)
	if !ok {
		name = "prompt"
	}
	if tool.Inputs == nil {
		tool.Inputs = make(map[string]any)
	}
	tool.Inputs[name] = &prompt
	return out, nil
}

// Synopsis is the one-line, type-specific description shown under a step's
// summary.
func Synopsis(s Step) string {
	switch s := s.(type) {
	case *ToolStep:
		return s.Tool
	case *IfStep:
		return FormatCondition(s.Condition)
	case *LoopStep:
		return fmt.Sprintf("for %s in %s", s.Var, s.In)
	case *FlagStep:
		return fmt.Sprintf("%s = %s", s.Variable, formatOperand(s.Value))
	}
	return ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
