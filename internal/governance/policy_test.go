package governance

import (
	"context"
	"testing"

	"github.com/rahul/planbench/internal/plan"
)

func TestDefaultPolicyEngine_Evaluate(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	ctx := context.Background()

	// Test Allow (Default)
	req1 := Request{Tool: "keyword_count"}
	res1, err := engine.Evaluate(ctx, req1)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res1.Effect != EffectAllow {
		t.Errorf("Expected EffectAllow, got %s", res1.Effect)
	}

	// Test Deny
	engine.DenyTool("shell")
	req2 := Request{Tool: "shell"}
	res2, err := engine.Evaluate(ctx, req2)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res2.Effect != EffectDeny {
		t.Errorf("Expected EffectDeny, got %s", res2.Effect)
	}

	// Test catalog restriction
	engine.AllowOnly("keyword_count")
	res3, _ := engine.Evaluate(ctx, Request{Tool: "note_search"})
	if res3.Effect != EffectDeny {
		t.Errorf("Expected tool outside catalog to be denied, got %s", res3.Effect)
	}
}

func TestEvaluatePlan(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	if err := engine.DenyArguments(`(?i)ssn`); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	safe := plan.Plan{Steps: plan.Steps{
		&plan.ToolStep{Base: plan.Base{ID: "s1"}, Tool: "keyword_count", Inputs: map[string]any{"text": "pain"}},
	}}
	res, err := EvaluatePlan(ctx, engine, "chat", safe)
	if err != nil {
		t.Fatal(err)
	}
	if res.Effect != EffectAllow {
		t.Errorf("Expected allow, got %s: %s", res.Effect, res.Reason)
	}

	nested := plan.Plan{Steps: plan.Steps{
		&plan.LoopStep{
			Base: plan.Base{ID: "s1"},
			Body: plan.Steps{
				&plan.IfStep{
					Base: plan.Base{ID: "s2"},
					Then: &plan.ToolStep{Base: plan.Base{ID: "s3"}, Tool: "note_search", Inputs: map[string]any{"query": "patient SSN"}},
				},
			},
		},
	}}
	res, err = EvaluatePlan(ctx, engine, "chat", nested)
	if err != nil {
		t.Fatal(err)
	}
	if res.Effect != EffectDeny || res.StepID != "s3" {
		t.Errorf("Expected deny on s3, got %s on %q", res.Effect, res.StepID)
	}
}
