package plan

import (
	"encoding/json"
	"errors"
	"testing"
)

const nestedPlan = `{
  "steps": [
    {"id": "s1", "type": "tool", "step_summary": "Count words", "tool": "keyword_count",
     "inputs": {"text": "hi", "prompt": {"system_prompt": "sys", "user_prompt": "usr", "examples": [{"input": "a", "output": "b"}]}},
     "output": "r1"},
    {"id": "s2", "type": "loop", "step_summary": "Each note", "for": "note", "in": "notes", "output": "per_note",
     "body": [
       {"id": "s3", "type": "tool", "step_summary": "Summarise", "tool": "llm_summary", "inputs": {"text": "{{note}}"}, "output": "summary"},
       {"id": "s4", "type": "if", "step_summary": "Flag adults",
        "condition": {"type": "comparison", "left": "age", "operator": ">", "right": 18},
        "then": {"id": "s5", "type": "flag_variable", "step_summary": "Mark adult", "variable": "adult", "value": true}}
     ]},
    {"id": "s6", "type": "if", "step_summary": "No branch", "condition": "x == 1"}
  ]
}`

func mustParse(t *testing.T, data string) Plan {
	t.Helper()
	p, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return p
}

func TestParse_Variants(t *testing.T) {
	p := mustParse(t, nestedPlan)
	if len(p.Steps) != 3 {
		t.Fatalf("expected 3 root steps, got %d", len(p.Steps))
	}

	tool, ok := p.Steps[0].(*ToolStep)
	if !ok {
		t.Fatalf("expected *ToolStep, got %T", p.Steps[0])
	}
	if tool.Tool != "keyword_count" || tool.Output != "r1" {
		t.Errorf("unexpected tool step: %+v", tool)
	}
	if _, ok := tool.Inputs["prompt"].(*Prompt); !ok {
		t.Errorf("expected prompt input to decode as *Prompt, got %T", tool.Inputs["prompt"])
	}

	loop, ok := p.Steps[1].(*LoopStep)
	if !ok {
		t.Fatalf("expected *LoopStep, got %T", p.Steps[1])
	}
	if loop.Var != "note" || loop.In != "notes" || loop.Output != "per_note" {
		t.Errorf("short loop field names not decoded: %+v", loop)
	}
	if len(loop.Body) != 2 {
		t.Fatalf("expected 2 body steps, got %d", len(loop.Body))
	}

	cond, ok := p.Steps[2].(*IfStep)
	if !ok {
		t.Fatalf("expected *IfStep, got %T", p.Steps[2])
	}
	if cond.Then != nil {
		t.Errorf("expected nil then branch, got %T", cond.Then)
	}
	if cond.Condition != RawCondition("x == 1") {
		t.Errorf("expected raw condition, got %#v", cond.Condition)
	}
}

func TestParse_UnknownKind(t *testing.T) {
	_, err := Parse([]byte(`{"steps":[{"id":"s1","type":"while","step_summary":"x"}]}`))
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestMarshal_KeepsStructure(t *testing.T) {
	p := mustParse(t, nestedPlan)
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	again, err := Parse(data)
	if err != nil {
		t.Fatalf("re-parse failed: %v\n%s", err, data)
	}
	if Count(again.Steps) != Count(p.Steps) {
		t.Errorf("step count changed: %d != %d", Count(again.Steps), Count(p.Steps))
	}
	if got := Synopsis(FindStep(again.Steps, "s4")); got != "age > 18" {
		t.Errorf("condition lost in round trip: %q", got)
	}
	loop := again.Steps[1].(*LoopStep)
	if loop.Var != "note" || loop.In != "notes" {
		t.Errorf("loop fields lost in round trip: %+v", loop)
	}
}

func TestPrompt_KeepsUnknownFields(t *testing.T) {
	p := mustParse(t, `{"steps":[
		{"id":"s1","type":"tool","step_summary":"Extract diagnosis","tool":"llm_extract",
		 "inputs":{"prompt":{"system_prompt":"sys","user_prompt":"usr","temperature":0.2,
		   "examples":[{"input":"fever, cough","output":{"dx":"flu"},"label":"viral"}]}},
		 "output":"dx"}
	]}`)

	_, prompt, ok := PromptInput(p.Steps[0].(*ToolStep))
	if !ok {
		t.Fatal("prompt input not recognised")
	}
	if out, ok := prompt.Examples[0].Output.(map[string]any); !ok || out["dx"] != "flu" {
		t.Errorf("structured example output = %#v", prompt.Examples[0].Output)
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Steps []struct {
			Inputs struct {
				Prompt map[string]any `json:"prompt"`
			} `json:"inputs"`
		} `json:"steps"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	got := doc.Steps[0].Inputs.Prompt
	if got["temperature"] != 0.2 || got["system_prompt"] != "sys" {
		t.Errorf("prompt fields lost in round trip: %v", got)
	}
	examples, _ := got["examples"].([]any)
	if len(examples) != 1 {
		t.Fatalf("examples lost in round trip: %v", got)
	}
	ex := examples[0].(map[string]any)
	if ex["label"] != "viral" || ex["output"].(map[string]any)["dx"] != "flu" {
		t.Errorf("example fields lost in round trip: %v", ex)
	}
}

func TestFindStep(t *testing.T) {
	p := mustParse(t, nestedPlan)

	for _, id := range []string{"s1", "s2", "s3", "s4", "s5", "s6"} {
		s := FindStep(p.Steps, id)
		if s == nil {
			t.Errorf("FindStep(%q) returned nil", id)
			continue
		}
		if s.StepID() != id {
			t.Errorf("FindStep(%q) returned %q", id, s.StepID())
		}
	}

	if s := FindStep(p.Steps, "missing"); s != nil {
		t.Errorf("expected nil for missing id, got %v", s)
	}
}

func TestFindStep_LoopBody(t *testing.T) {
	p := mustParse(t, `{"steps":[{"id":"s1","type":"loop","body":[{"id":"s2","type":"tool","step_summary":"x"}]}]}`)
	s := FindStep(p.Steps, "s2")
	tool, ok := s.(*ToolStep)
	if !ok {
		t.Fatalf("expected nested tool step, got %T", s)
	}
	if tool.Summary() != "x" {
		t.Errorf("unexpected summary %q", tool.Summary())
	}
}

func TestFindStep_DuplicateReturnsFirst(t *testing.T) {
	p := mustParse(t, `{"steps":[
		{"id":"a","type":"loop","step_summary":"outer","body":[{"id":"dup","type":"tool","step_summary":"nested"}]},
		{"id":"dup","type":"tool","step_summary":"root"}
	]}`)
	if got := FindStep(p.Steps, "dup").Summary(); got != "nested" {
		t.Errorf("expected depth-first first match, got %q", got)
	}
	if err := Validate(p); !errors.Is(err, ErrDuplicateStepID) {
		t.Errorf("expected ErrDuplicateStepID, got %v", err)
	}
}

func TestWalk_Depth(t *testing.T) {
	p := mustParse(t, nestedPlan)
	depths := map[string]int{}
	Walk(p.Steps, func(s Step, depth int) bool {
		depths[s.StepID()] = depth
		return true
	})
	want := map[string]int{"s1": 0, "s2": 0, "s3": 1, "s4": 1, "s5": 2, "s6": 0}
	for id, d := range want {
		if depths[id] != d {
			t.Errorf("depth of %s = %d, want %d", id, depths[id], d)
		}
	}
}

func TestSetPrompt(t *testing.T) {
	p := mustParse(t, nestedPlan)
	updated, err := SetPrompt(p, "s1", Prompt{SystemPrompt: "new sys", UserPrompt: "new usr"})
	if err != nil {
		t.Fatal(err)
	}

	_, got, ok := PromptInput(FindStep(updated.Steps, "s1").(*ToolStep))
	if !ok || got.SystemPrompt != "new sys" {
		t.Errorf("prompt not replaced: %+v", got)
	}
	_, orig, _ := PromptInput(FindStep(p.Steps, "s1").(*ToolStep))
	if orig.SystemPrompt != "sys" {
		t.Errorf("original plan was mutated: %+v", orig)
	}

	nested, err := SetPrompt(p, "s3", Prompt{UserPrompt: "summarise {{note}}"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := FindStep(nested.Steps, "s3").(*ToolStep).Inputs["prompt"].(*Prompt); !ok {
		t.Error("expected prompt input to be added under \"prompt\"")
	}

	if _, err := SetPrompt(p, "nope", Prompt{}); !errors.Is(err, ErrStepNotFound) {
		t.Errorf("expected ErrStepNotFound, got %v", err)
	}
	if _, err := SetPrompt(p, "s2", Prompt{}); !errors.Is(err, ErrNotToolStep) {
		t.Errorf("expected ErrNotToolStep, got %v", err)
	}
}
