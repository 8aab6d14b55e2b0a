package plan

import (
	"encoding/json"
)

// Prompt is a structured tool input edited through a dedicated editor
// rather than as plain text. Keys other than the known ones are kept in
// Extra and written back unchanged.
type Prompt struct {
	SystemPrompt string    `json:"system_prompt"`
	UserPrompt   string    `json:"user_prompt"`
	Examples     []Example `json:"examples,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Example is one few-shot pair attached to a Prompt. Input and Output hold
// any JSON value, not only strings.
type Example struct {
	Input  any `json:"input"`
	Output any `json:"output"`

	Extra map[string]json.RawMessage `json:"-"`
}

var (
	promptKeys  = []string{"system_prompt", "user_prompt", "examples"}
	exampleKeys = []string{"input", "output"}
)

func (p Prompt) MarshalJSON() ([]byte, error) {
	type alias Prompt
	return mergeExtra(alias(p), p.Extra, promptKeys)
}

func (p *Prompt) UnmarshalJSON(data []byte) error {
	type alias Prompt
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extra, err := extraKeys(data, promptKeys)
	if err != nil {
		return err
	}
	*p = Prompt(a)
	p.Extra = extra
	return nil
}

func (e Example) MarshalJSON() ([]byte, error) {
	type alias Example
	return mergeExtra(alias(e), e.Extra, exampleKeys)
}

func (e *Example) UnmarshalJSON(data []byte) error {
	type alias Example
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extra, err := extraKeys(data, exampleKeys)
	if err != nil {
		return err
	}
	*e = Example(a)
	e.Extra = extra
	return nil
}

// extraKeys returns the members of a JSON object not named in known, or
// nil when there are none.
func extraKeys(data []byte, known []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// mergeExtra encodes v and adds the extra members back. Known keys win
// over extras with the same name.
func mergeExtra(v any, extra map[string]json.RawMessage, known []string) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, ok := fields[k]; !ok {
			fields[k] = raw
		}
	}
	return json.Marshal(fields)
}

func isPromptObject(data json.RawMessage) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	_, sys := fields["system_prompt"]
	_, user := fields["user_prompt"]
	return sys || user
}

// PromptInput returns the name and value of the first structured prompt
// input of a tool step, in sorted key order.
func PromptInput(step *ToolStep) (string, *Prompt, bool) {
	for _, name := range sortedKeys(step.Inputs) {
		if p, ok := step.Inputs[name].(*Prompt); ok {
			return name, p, true
		}
	}
	return "", nil, false
}
