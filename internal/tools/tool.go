package tools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rahul/planbench/internal/plan"
)

// Tool describes a capability a plan step can call. Plans only reference
// tools by name; execution happens on the analysis platform.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON Schema for the tool's inputs
}

// Registry manages the set of available tools.
type Registry struct {
	Tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{
		Tools: make(map[string]Tool),
	}
}

func (r *Registry) Register(t Tool) {
	r.Tools[t.Name()] = t
}

func (r *Registry) Get(name string) Tool {
	return r.Tools[name]
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Tools))
	for n := range r.Tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Describe lists the tools as "- name(params): description" lines.
func (r *Registry) Describe() string {
	var lines []string
	for _, n := range r.Names() {
		t := r.Tools[n]
		lines = append(lines, fmt.Sprintf("- %s(%s): %s", n, strings.Join(paramNames(t), ", "), t.Description()))
	}
	return strings.Join(lines, "\n")
}

// CheckStep reports required inputs missing from a tool step.
func (r *Registry) CheckStep(s *plan.ToolStep) error {
	t := r.Get(s.Tool)
	if t == nil {
		return fmt.Errorf("step %s: unknown tool %q", s.ID, s.Tool)
	}
	var missing []string
	for _, name := range required(t) {
		if _, ok := s.Inputs[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("step %s: %s is missing inputs: %s", s.ID, s.Tool, strings.Join(missing, ", "))
	}
	return nil
}

func paramNames(t Tool) []string {
	props, _ := t.Parameters()["properties"].(map[string]any)
	names := make([]string, 0, len(props))
	for n := range props {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func required(t Tool) []string {
	req, _ := t.Parameters()["required"].([]string)
	return req
}
