package render

import (
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rahul/planbench/internal/plan"
)

const defaultTruncate = 60

var strict = bluemonday.StrictPolicy()

// Clean strips markup from server-provided text before it is displayed.
func Clean(s string) string {
	return html.UnescapeString(strict.Sanitize(s))
}

// View holds per-step expansion state. It is never persisted.
type View struct {
	mu       sync.RWMutex
	expanded map[string]bool
}

func NewView() *View {
	return &View{expanded: make(map[string]bool)}
}

// Toggle flips the detail tier of a step (or of "stepID.field" for a
// truncated input) and returns the new state.
func (v *View) Toggle(key string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.expanded[key] = !v.expanded[key]
	return v.expanded[key]
}

func (v *View) Expanded(key string) bool {
	if v == nil {
		return false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.expanded[key]
}

// Reset collapses everything.
func (v *View) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.expanded = make(map[string]bool)
}

// Renderer turns a plan tree into indented text.
type Renderer struct {
	Policies   Policies
	View       *View
	Width      int // 0 disables line clipping
	TruncateAt int
}

func NewRenderer(policies Policies, view *View) *Renderer {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Renderer{Policies: policies, View: view, TruncateAt: defaultTruncate}
}

// Format renders a plan with default policies and everything collapsed.
func Format(p plan.Plan) string {
	return NewRenderer(nil, nil).Render(p)
}

func (r *Renderer) Render(p plan.Plan) string {
	if len(p.Steps) == 0 {
		return "(empty plan)"
	}
	var b strings.Builder
	for i, s := range p.Steps {
		r.renderStep(&b, s, 0, i+1)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Renderer) renderStep(b *strings.Builder, s plan.Step, depth, seq int) {
	indent := strings.Repeat("    ", depth)

	// primary
	prefix := ""
	if depth == 0 {
		prefix = fmt.Sprintf("%d. ", seq)
	}
	r.line(b, fmt.Sprintf("%s%s%s %s", indent, prefix, icon(s.Kind()), Clean(s.Summary())))

	// secondary
	if syn := synopsis(s); syn != "" {
		r.line(b, fmt.Sprintf("%s   ↳ %s", indent, syn))
	}

	// tertiary
	if r.View.Expanded(s.StepID()) {
		r.renderDetail(b, s, indent+"     ")
	}

	switch s := s.(type) {
	case *plan.LoopStep:
		r.line(b, indent+"   Loop Body:")
		for i, child := range s.Body {
			r.renderStep(b, child, depth+1, i+1)
		}
	case *plan.IfStep:
		if s.Then != nil {
			r.line(b, indent+"   Then:")
			r.renderStep(b, s.Then, depth+1, 1)
		}
	}
}

func synopsis(s plan.Step) string {
	switch s.(type) {
	case *plan.IfStep:
		if syn := plan.Synopsis(s); syn != "" {
			return "if " + syn
		}
		return ""
	}
	return plan.Synopsis(s)
}

func (r *Renderer) renderDetail(b *strings.Builder, s plan.Step, indent string) {
	r.line(b, fmt.Sprintf("%sid: %s", indent, s.StepID()))
	switch s := s.(type) {
	case *plan.ToolStep:
		if len(s.Inputs) > 0 {
			r.line(b, indent+"inputs:")
			for _, name := range sortedKeys(s.Inputs) {
				value := r.FormatInput(s.StepID(), s.Tool, name, s.Inputs[name])
				first, rest, _ := strings.Cut(value, "\n")
				r.line(b, fmt.Sprintf("%s  %s: %s", indent, name, first))
				if rest != "" {
					for _, l := range strings.Split(rest, "\n") {
						r.line(b, indent+"      "+l)
					}
				}
			}
		}
		if s.Output != "" {
			r.line(b, fmt.Sprintf("%soutput: %s", indent, s.Output))
		}
	case *plan.LoopStep:
		if s.Output != "" {
			r.line(b, fmt.Sprintf("%soutput: %s", indent, s.Output))
		}
	case *plan.FlagStep:
		r.line(b, fmt.Sprintf("%svariable: %s", indent, s.Variable))
	}
}

// FormatInput applies the display policy of (tool, field) to one input value.
func (r *Renderer) FormatInput(stepID, tool, field string, value any) string {
	if p, ok := value.(*plan.Prompt); ok {
		return promptBadge(p)
	}
	text := valueText(value)
	switch r.Policies.Lookup(tool, field) {
	case ModeBadge:
		return "[" + text + "]"
	case ModeLink:
		key := stepID + "." + field
		if !r.View.Expanded(key) {
			return fmt.Sprintf("🔗 %s (%d chars, /expand %s)", field, utf8.RuneCountInString(text), key)
		}
		return fmt.Sprintf("🔗 %s (/expand %s to close)\n%s", field, key, blockText(value))
	case ModeTruncate:
		limit := r.TruncateAt
		if limit <= 0 {
			limit = defaultTruncate
		}
		n := utf8.RuneCountInString(text)
		if n <= limit || r.View.Expanded(stepID+"."+field) {
			return text
		}
		return fmt.Sprintf("%s… (+%d)", string([]rune(text)[:limit]), n-limit)
	case ModePrompt:
		return "⚙ " + text
	}
	return text
}

func promptBadge(p *plan.Prompt) string {
	return fmt.Sprintf("⚙ prompt (system %d chars, user %d chars, %d examples)",
		utf8.RuneCountInString(p.SystemPrompt), utf8.RuneCountInString(p.UserPrompt), len(p.Examples))
}

func valueText(v any) string {
	switch v := v.(type) {
	case string:
		return Clean(v)
	case nil:
		return "null"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// blockText is the opened form of a linked value: strings as they are,
// anything else as indented JSON.
func blockText(v any) string {
	if s, ok := v.(string); ok {
		return Clean(s)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return valueText(v)
	}
	return string(data)
}

func (r *Renderer) line(b *strings.Builder, s string) {
	if r.Width > 0 && utf8.RuneCountInString(s) > r.Width {
		s = string([]rune(s)[:r.Width-1]) + "…"
	}
	b.WriteString(s)
	b.WriteByte('\n')
}

func icon(k plan.Kind) string {
	switch k {
	case plan.KindTool:
		return "🔧"
	case plan.KindIf:
		return "🔀"
	case plan.KindLoop:
		return "🔁"
	case plan.KindFlag:
		return "🚩"
	}
	return "•"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
